// Package history keeps the state that outlives a session: the chosen
// persona and the most recent analyses, keyed by content fingerprint.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/paperlens/backend/internal/analysis"
)

const (
	DefaultNamespace = "paperlens-storage"
	Capacity         = 10
)

var ErrNotFound = errors.New("analysis not found in history")

// PersistentState is saved as one JSON document after every mutation.
type PersistentState struct {
	Persona analysis.Persona     `json:"persona"`
	History []*analysis.Analysis `json:"analysisHistory"`
}

// Backend is the part of the storage layer the store needs.
type Backend interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, data []byte) error
}

type Store struct {
	mu      sync.RWMutex
	backend Backend
	key     string
	state   PersistentState
	now     func() time.Time
	logger  *zap.Logger
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open loads the state saved under namespace, or starts empty with the
// default persona.
func Open(ctx context.Context, backend Backend, namespace string, opts ...Option) (*Store, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	s := &Store{
		backend: backend,
		key:     namespace,
		state:   PersistentState{Persona: analysis.DefaultPersona},
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	data, found, err := backend.Load(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to load persisted state: %w", err)
	}
	if found {
		if err := json.Unmarshal(data, &s.state); err != nil {
			// A corrupt document is replaced on the next save.
			s.logger.Warn("Discarding unreadable persisted state", zap.Error(err))
			s.state = PersistentState{Persona: analysis.DefaultPersona}
		}
	}
	s.state.Persona = s.state.Persona.Normalize()
	if len(s.state.History) > Capacity {
		s.state.History = s.state.History[:Capacity]
	}

	s.logger.Info("History loaded",
		zap.String("namespace", namespace),
		zap.Int("entries", len(s.state.History)),
		zap.String("persona", string(s.state.Persona)),
	)
	return s, nil
}

func (s *Store) index(fp string) int {
	for i, a := range s.state.History {
		if a != nil && a.Fingerprint == fp {
			return i
		}
	}
	return -1
}

// Lookup returns a copy of the entry for fp.
func (s *Store) Lookup(fp string) (*analysis.Analysis, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.index(fp)
	if i < 0 {
		return nil, false
	}
	return s.state.History[i].Clone(), true
}

// Upsert merges a into the entry with the same fingerprint, or inserts it,
// and moves the entry to the front. The oldest entries beyond Capacity are
// evicted. It returns the stored entry.
func (s *Store) Upsert(ctx context.Context, a *analysis.Analysis) (*analysis.Analysis, error) {
	if a == nil || a.Fingerprint == "" {
		return nil, errors.New("analysis has no fingerprint")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var entry *analysis.Analysis
	if i := s.index(a.Fingerprint); i >= 0 {
		entry = s.state.History[i]
		entry.Merge(a)
		entry.AnalyzedAt = s.now()
		s.state.History = append(s.state.History[:i], s.state.History[i+1:]...)
	} else {
		entry = a.Clone()
		if entry.AnalyzedAt.IsZero() {
			entry.AnalyzedAt = s.now()
		}
	}

	s.state.History = append([]*analysis.Analysis{entry}, s.state.History...)
	if len(s.state.History) > Capacity {
		for _, evicted := range s.state.History[Capacity:] {
			s.logger.Debug("Evicting history entry", zap.String("fingerprint", evicted.Fingerprint))
		}
		s.state.History = s.state.History[:Capacity]
	}

	if err := s.saveLocked(ctx); err != nil {
		return nil, err
	}
	return entry.Clone(), nil
}

// UpdateTags replaces the tags of an entry without moving it.
func (s *Store) UpdateTags(ctx context.Context, fp string, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(fp)
	if i < 0 {
		return ErrNotFound
	}
	if tags == nil {
		tags = []string{}
	}
	s.state.History[i].Tags = append([]string(nil), tags...)

	return s.saveLocked(ctx)
}

// List returns the history newest first.
func (s *Store) List() []*analysis.Analysis {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*analysis.Analysis, 0, len(s.state.History))
	for _, a := range s.state.History {
		out = append(out, a.Clone())
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.state.History)
}

func (s *Store) Persona() analysis.Persona {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.Persona
}

func (s *Store) SetPersona(ctx context.Context, p analysis.Persona) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Persona = p.Normalize()
	return s.saveLocked(ctx)
}

func (s *Store) saveLocked(ctx context.Context) error {
	data, err := json.Marshal(s.state)
	if err != nil {
		return fmt.Errorf("failed to marshal persisted state: %w", err)
	}
	if err := s.backend.Save(ctx, s.key, data); err != nil {
		return fmt.Errorf("failed to persist state: %w", err)
	}
	return nil
}
