package llm

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperlens/backend/pkg/circuitbreaker"
	"github.com/paperlens/backend/pkg/retry"
)

type fakeReply struct {
	text string
	err  error
}

type fakeTransport struct {
	mu      sync.Mutex
	replies []fakeReply
	streams []func() (io.ReadCloser, error)
	models  []string
	prompts []string
	opened  int
}

func (f *fakeTransport) Name() string      { return "fake" }
func (f *fakeTransport) ChunkPath() string { return "text" }

func (f *fakeTransport) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.models = append(f.models, req.Model)
	f.prompts = append(f.prompts, req.Prompt)
	if len(f.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r.text, r.err
}

func (f *fakeTransport) OpenStream(ctx context.Context, req StreamRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.opened++
	f.models = append(f.models, req.Model)
	if len(f.streams) == 0 {
		return nil, errors.New("no scripted stream")
	}
	open := f.streams[0]
	f.streams = f.streams[1:]
	return open()
}

type recordingSleeper struct {
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

var coreSchema = Schema{
	"type":     "object",
	"required": []string{"title", "summary"},
}

func newTestClient(ft *fakeTransport, sleeper retry.Sleeper) *StructuredClient {
	return NewStructuredClient(ft, StructuredConfig{}, WithSleeper(sleeper))
}

func TestRequest_UnwrapsFencedJSON(t *testing.T) {
	ft := &fakeTransport{replies: []fakeReply{
		{text: "```json\n{\"title\": \"Attention\", \"summary\": \"s\"}\n```"},
	}}
	client := newTestClient(ft, &recordingSleeper{})

	type core struct {
		Title   string `json:"title"`
		Summary string `json:"summary"`
	}
	out, err := Generate[core](context.Background(), client, "prompt", coreSchema, false)
	require.NoError(t, err)
	assert.Equal(t, "Attention", out.Title)
	assert.Equal(t, []string{DefaultFastModel}, ft.models)
}

func TestRequest_DowngradesOnOverloadedAdvancedModel(t *testing.T) {
	ft := &fakeTransport{replies: []fakeReply{
		{err: &APIError{Provider: "fake", StatusCode: 503, Message: "overloaded"}},
		{text: `{"title": "t", "summary": "s"}`},
	}}
	sleeper := &recordingSleeper{}
	client := newTestClient(ft, sleeper)

	_, err := client.Request(context.Background(), "prompt", coreSchema, true)
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultAdvancedModel, DefaultFastModel}, ft.models)
	assert.Empty(t, sleeper.delays)
}

func TestRequest_OverloadedFastModelBacksOff(t *testing.T) {
	ft := &fakeTransport{replies: []fakeReply{
		{err: &APIError{StatusCode: 503}},
		{err: &APIError{StatusCode: 500}},
		{err: &APIError{StatusCode: 502}},
	}}
	sleeper := &recordingSleeper{}
	client := newTestClient(ft, sleeper)

	_, err := client.Request(context.Background(), "prompt", coreSchema, false)
	require.Error(t, err)

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, 3, reqErr.Attempts)
	assert.Equal(t, 502, StatusCode(err))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.delays)
	assert.Len(t, ft.models, 3)
}

func TestRequest_QuotaRetriesImmediately(t *testing.T) {
	ft := &fakeTransport{replies: []fakeReply{
		{err: &APIError{StatusCode: 429, Message: "quota"}},
		{text: `{"title": "t", "summary": "s"}`},
	}}
	sleeper := &recordingSleeper{}
	client := newTestClient(ft, sleeper)

	_, err := client.Request(context.Background(), "prompt", coreSchema, false)
	require.NoError(t, err)
	assert.Len(t, ft.models, 2)
	assert.Empty(t, sleeper.delays)
}

func TestRequest_MalformedRepliesCountAgainstBudget(t *testing.T) {
	ft := &fakeTransport{replies: []fakeReply{
		{text: ""},
		{text: "not json at all"},
		{text: `{"title": "only a title"}`},
	}}
	client := newTestClient(ft, &recordingSleeper{})

	_, err := client.Request(context.Background(), "prompt", coreSchema, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
	assert.Len(t, ft.models, 3)
}

func TestRequest_ClientErrorStops(t *testing.T) {
	ft := &fakeTransport{replies: []fakeReply{
		{err: &APIError{StatusCode: 400, Message: "bad request"}},
	}}
	client := newTestClient(ft, &recordingSleeper{})

	_, err := client.Request(context.Background(), "prompt", coreSchema, false)
	require.Error(t, err)
	assert.Len(t, ft.models, 1)
	assert.Equal(t, CategoryFailed, Classify(err))
}

func TestRequest_OpenBreakerFailsFast(t *testing.T) {
	ft := &fakeTransport{}
	cb := circuitbreaker.New("fake", circuitbreaker.Config{FailureThreshold: 1, Timeout: time.Hour})
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("down") })
	require.Equal(t, circuitbreaker.StateOpen, cb.State())

	client := NewStructuredClient(ft, StructuredConfig{}, WithSleeper(&recordingSleeper{}), WithBreaker(cb))
	_, err := client.Request(context.Background(), "prompt", coreSchema, false)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Empty(t, ft.models)
	assert.Equal(t, CategoryBusy, Classify(err))
}

func TestRequest_TruncatesLongPrompts(t *testing.T) {
	ft := &fakeTransport{replies: []fakeReply{{text: `{"title": "t", "summary": "s"}`}}}
	client := newTestClient(ft, &recordingSleeper{})

	long := strings.Repeat("a", MaxPromptChars+10)
	_, err := client.Request(context.Background(), long, coreSchema, false)
	require.NoError(t, err)

	require.Len(t, ft.prompts, 1)
	assert.Equal(t, MaxPromptChars+len(TruncationNotice), len(ft.prompts[0]))
	assert.True(t, strings.HasSuffix(ft.prompts[0], TruncationNotice))
}

func TestTruncatePrompt_ShortPromptUnchanged(t *testing.T) {
	assert.Equal(t, "short", TruncatePrompt("short"))
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFences("  {\"a\":1}  "))
}
