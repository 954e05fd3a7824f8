package history

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperlens/backend/internal/analysis"
	"github.com/paperlens/backend/internal/storage/memory"
)

func fixedClock() func() time.Time {
	t := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Minute)
		return t
	}
}

func paper(fp, title string) *analysis.Analysis {
	return &analysis.Analysis{Fingerprint: fp, Core: analysis.Core{Title: title}}
}

func TestStore_EmptyStartsWithDefaultPersona(t *testing.T) {
	s, err := Open(context.Background(), memory.New(), "")
	require.NoError(t, err)

	assert.Equal(t, analysis.DefaultPersona, s.Persona())
	assert.Empty(t, s.List())
	_, ok := s.Lookup("nope")
	assert.False(t, ok)
}

func TestStore_UpsertMergesAndMovesToFront(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, memory.New(), DefaultNamespace, WithClock(fixedClock()))
	require.NoError(t, err)

	first := paper("a", "Paper A")
	first.Summary = "summary A"
	_, err = s.Upsert(ctx, first)
	require.NoError(t, err)
	_, err = s.Upsert(ctx, paper("b", "Paper B"))
	require.NoError(t, err)

	stored, err := s.Upsert(ctx, &analysis.Analysis{Fingerprint: "a", References: []analysis.Reference{}})
	require.NoError(t, err)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Fingerprint)
	assert.Equal(t, "Paper A", stored.Title)
	assert.Equal(t, "summary A", stored.Summary)
	assert.NotNil(t, stored.References)
	assert.True(t, stored.AnalyzedAt.After(list[1].AnalyzedAt))
}

func TestStore_CapacityEvictsOldest(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, memory.New(), DefaultNamespace)
	require.NoError(t, err)

	for i := 0; i < Capacity+2; i++ {
		_, err := s.Upsert(ctx, paper(fmt.Sprintf("fp%d", i), "T"))
		require.NoError(t, err)
	}

	assert.Equal(t, Capacity, s.Len())
	_, ok := s.Lookup("fp0")
	assert.False(t, ok)
	_, ok = s.Lookup("fp1")
	assert.False(t, ok)
	assert.Equal(t, fmt.Sprintf("fp%d", Capacity+1), s.List()[0].Fingerprint)
}

func TestStore_UpdateTagsKeepsOrder(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, memory.New(), DefaultNamespace)
	require.NoError(t, err)

	_, _ = s.Upsert(ctx, paper("a", "A"))
	_, _ = s.Upsert(ctx, paper("b", "B"))

	require.NoError(t, s.UpdateTags(ctx, "a", []string{"nlp", "transformers"}))
	list := s.List()
	assert.Equal(t, "b", list[0].Fingerprint)
	assert.Equal(t, []string{"nlp", "transformers"}, list[1].Tags)

	assert.ErrorIs(t, s.UpdateTags(ctx, "zzz", nil), ErrNotFound)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()

	s, err := Open(ctx, backend, DefaultNamespace)
	require.NoError(t, err)
	require.NoError(t, s.SetPersona(ctx, analysis.PersonaStudent))
	_, err = s.Upsert(ctx, paper("a", "A"))
	require.NoError(t, err)

	reopened, err := Open(ctx, backend, DefaultNamespace)
	require.NoError(t, err)
	assert.Equal(t, analysis.PersonaStudent, reopened.Persona())
	got, ok := reopened.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, "A", got.Title)
}

func TestStore_LookupReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, memory.New(), DefaultNamespace)
	require.NoError(t, err)
	_, _ = s.Upsert(ctx, paper("a", "A"))

	got, _ := s.Lookup("a")
	got.Title = "changed"

	again, _ := s.Lookup("a")
	assert.Equal(t, "A", again.Title)
}

func TestStore_CorruptStateIsDiscarded(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	require.NoError(t, backend.Save(ctx, DefaultNamespace, []byte("{not json")))

	s, err := Open(ctx, backend, DefaultNamespace)
	require.NoError(t, err)
	assert.Empty(t, s.List())
}

type failingBackend struct{}

func (failingBackend) Load(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, nil
}

func (failingBackend) Save(ctx context.Context, key string, data []byte) error {
	return errors.New("disk full")
}

func TestStore_SaveErrorsSurface(t *testing.T) {
	s, err := Open(context.Background(), failingBackend{}, DefaultNamespace)
	require.NoError(t, err)

	_, err = s.Upsert(context.Background(), paper("a", "A"))
	assert.Error(t, err)
	assert.Error(t, s.SetPersona(context.Background(), analysis.PersonaExpert))
}

func TestStore_RejectsMissingFingerprint(t *testing.T) {
	s, err := Open(context.Background(), memory.New(), DefaultNamespace)
	require.NoError(t, err)

	_, err = s.Upsert(context.Background(), &analysis.Analysis{})
	assert.Error(t, err)
}
