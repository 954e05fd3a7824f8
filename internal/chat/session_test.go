package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperlens/backend/internal/analysis"
	"github.com/paperlens/backend/internal/llm"
)

type fakeStreamer struct {
	mu      sync.Mutex
	chunks  []string
	err     error
	seen    [][]llm.Message
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeStreamer) Stream(ctx context.Context, messages []llm.Message, onChunk func(string)) error {
	f.mu.Lock()
	f.seen = append(f.seen, messages)
	chunks, err, block := f.chunks, f.err, f.block
	f.mu.Unlock()

	if block != nil {
		f.entered <- struct{}{}
		<-block
	}
	for _, c := range chunks {
		onChunk(c)
	}
	return err
}

func (f *fakeStreamer) last() []llm.Message {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.seen[len(f.seen)-1]
}

func paper() *analysis.Analysis {
	return &analysis.Analysis{
		Core: analysis.Core{
			Title:       "Attention Is All You Need",
			Summary:     "Transformers.",
			Methodology: "Self-attention.",
			KeyFindings: []analysis.KeyFinding{{Finding: "28.4 BLEU"}, {Finding: "Faster training"}},
		},
		FullText: strings.Repeat("é", ExcerptLength+50),
	}
}

func TestSystemPrompt(t *testing.T) {
	p := SystemPrompt(paper())
	assert.Contains(t, p, `"Attention Is All You Need"`)
	assert.Contains(t, p, "KEY FINDINGS:\n- 28.4 BLEU\n- Faster training")
	assert.Contains(t, p, "FULL TEXT EXCERPT:\n"+strings.Repeat("é", ExcerptLength)+"...")
	assert.NotContains(t, p, strings.Repeat("é", ExcerptLength+1))
	assert.Contains(t, p, "I cannot find that information in the paper.")

	assert.Equal(t, "You are a helpful assistant.", SystemPrompt(nil))
}

func TestSend_StreamsAndKeepsHistory(t *testing.T) {
	fs := &fakeStreamer{chunks: []string{"Hel", "lo"}}
	s := NewSession(fs, paper())

	var got []string
	msg, err := s.Send(context.Background(), "  What is it?  ", func(c string) { got = append(got, c) })
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, got)
	assert.Equal(t, "Hello", msg.Content)
	assert.Equal(t, RoleAssistant, msg.Role)
	assert.NotEmpty(t, msg.ID)

	sent := fs.last()
	require.Len(t, sent, 3)
	assert.Equal(t, llm.RoleUser, sent[0].Role)
	assert.Equal(t, llm.RoleModel, sent[1].Role)
	assert.Equal(t, acknowledgement, sent[1].Content)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "What is it?"}, sent[2])

	_, err = s.Send(context.Background(), "And then?", nil)
	require.NoError(t, err)
	sent = fs.last()
	require.Len(t, sent, 5)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "What is it?"}, sent[2])
	assert.Equal(t, llm.Message{Role: llm.RoleModel, Content: "Hello"}, sent[3])

	assert.Len(t, s.Messages(), 4)
}

func TestSend_HistoryWindow(t *testing.T) {
	fs := &fakeStreamer{chunks: []string{"ok"}}
	s := NewSession(fs, paper())

	for i := 0; i < 8; i++ {
		_, err := s.Send(context.Background(), fmt.Sprintf("q%d", i), nil)
		require.NoError(t, err)
	}
	sent := fs.last()
	require.Len(t, sent, 2+HistoryWindow+1)
	assert.Equal(t, "q2", sent[2].Content)
	assert.Equal(t, "q7", sent[len(sent)-1].Content)
}

func TestSend_FailureIsExcludedFromLaterTurns(t *testing.T) {
	fs := &fakeStreamer{chunks: []string{"par"}, err: errors.New("boom")}
	s := NewSession(fs, paper())

	msg, err := s.Send(context.Background(), "first", nil)
	require.Error(t, err)
	assert.True(t, msg.IsError)
	assert.Equal(t, failureReply, msg.Content)

	fs.mu.Lock()
	fs.err = nil
	fs.mu.Unlock()

	history := s.Messages()
	require.Len(t, history, 1)
	assert.True(t, history[0].IsError)

	_, err = s.Send(context.Background(), "second", nil)
	require.NoError(t, err)
	sent := fs.last()
	require.Len(t, sent, 3)
	assert.Equal(t, llm.RoleModel, sent[1].Role)
	assert.Equal(t, llm.RoleUser, sent[2].Role)
	assert.Equal(t, "second", sent[2].Content)
	for _, m := range sent {
		assert.NotEqual(t, "first", m.Content)
	}
}

func TestSend_BusyAndEmpty(t *testing.T) {
	fs := &fakeStreamer{chunks: []string{"x"}, block: make(chan struct{}), entered: make(chan struct{}, 1)}
	s := NewSession(fs, paper())

	_, err := s.Send(context.Background(), "   ", nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	done := make(chan error, 1)
	go func() {
		_, err := s.Send(context.Background(), "slow", nil)
		done <- err
	}()
	<-fs.entered
	assert.True(t, s.Busy())

	_, err = s.Send(context.Background(), "again", nil)
	assert.ErrorIs(t, err, ErrBusy)

	close(fs.block)
	require.NoError(t, <-done)
	assert.False(t, s.Busy())
}

func TestWelcome(t *testing.T) {
	s := NewSession(&fakeStreamer{}, paper())
	assert.Contains(t, s.Welcome(), "Attention Is All You Need")
	assert.Contains(t, NewSession(&fakeStreamer{}, nil).Welcome(), "this paper")
}
