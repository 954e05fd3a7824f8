// Package chat runs the grounded question-and-answer conversation about the
// open paper.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/paperlens/backend/internal/analysis"
	"github.com/paperlens/backend/internal/llm"
)

const (
	// HistoryWindow is how many earlier messages are sent with each turn.
	HistoryWindow = 10
	// ExcerptLength caps the full-text excerpt in the system prompt.
	ExcerptLength = 10000

	acknowledgement = "I understand. I will answer questions based strictly on the provided paper context."
	failureReply    = "Sorry, I encountered an error connecting to the AI. Please try again."
)

var (
	ErrBusy       = errors.New("a reply is still streaming")
	ErrEmptyInput = errors.New("message is empty")
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	ID      string    `json:"id"`
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	IsError bool      `json:"isError,omitempty"`
	At      time.Time `json:"at"`
}

type Streamer interface {
	Stream(ctx context.Context, messages []llm.Message, onChunk func(string)) error
}

// Session is one conversation about one paper. Only one reply streams at a
// time.
type Session struct {
	streamer Streamer
	paper    *analysis.Analysis
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	messages []Message
	busy     bool
}

type Option func(*Session)

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

func NewSession(streamer Streamer, paper *analysis.Analysis, opts ...Option) *Session {
	s := &Session{
		streamer: streamer,
		paper:    paper.Clone(),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Welcome is the greeting shown before the first question. It is never sent
// to the model.
func (s *Session) Welcome() string {
	title := "this paper"
	if s.paper != nil && s.paper.Title != "" {
		title = s.paper.Title
	}
	return fmt.Sprintf("Hi! I'm ready to discuss **%q**.\n\nI have read the summary, methodology, and key findings. Ask me anything!", title)
}

// Send streams the reply to input through onChunk and returns the finished
// assistant message. On failure the returned message carries a fixed apology,
// and neither it nor the unanswered input is sent in later turns.
func (s *Session) Send(ctx context.Context, input string, onChunk func(string)) (Message, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Message{}, ErrEmptyInput
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return Message{}, ErrBusy
	}
	s.busy = true
	prompt := s.buildMessages(input)
	s.messages = append(s.messages, Message{ID: uuid.New().String(), Role: RoleUser, Content: input, At: s.now()})
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()

	var reply strings.Builder
	err := s.streamer.Stream(ctx, prompt, func(chunk string) {
		reply.WriteString(chunk)
		if onChunk != nil {
			onChunk(chunk)
		}
	})

	msg := Message{ID: uuid.New().String(), Role: RoleAssistant, Content: reply.String(), At: s.now()}
	if err != nil {
		s.logger.Error("Chat reply failed", zap.Int("partial_bytes", reply.Len()), zap.Error(err))
		msg.Content = failureReply
		msg.IsError = true
	}

	s.mu.Lock()
	if err != nil {
		s.messages = s.messages[:len(s.messages)-1]
	}
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	return msg, err
}

// Messages returns the conversation so far.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Message(nil), s.messages...)
}

func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.busy
}

// buildMessages assembles the turn: grounding prompt, acknowledgement, the
// last HistoryWindow good messages and the new input. Caller holds s.mu.
func (s *Session) buildMessages(input string) []llm.Message {
	var recent []Message
	for _, m := range s.messages {
		if !m.IsError {
			recent = append(recent, m)
		}
	}
	if len(recent) > HistoryWindow {
		recent = recent[len(recent)-HistoryWindow:]
	}

	out := make([]llm.Message, 0, len(recent)+3)
	out = append(out,
		llm.Message{Role: llm.RoleUser, Content: SystemPrompt(s.paper)},
		llm.Message{Role: llm.RoleModel, Content: acknowledgement},
	)
	for _, m := range recent {
		role := llm.RoleUser
		if m.Role == RoleAssistant {
			role = llm.RoleModel
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return append(out, llm.Message{Role: llm.RoleUser, Content: input})
}

// SystemPrompt grounds the conversation in paper.
func SystemPrompt(paper *analysis.Analysis) string {
	if paper == nil {
		return "You are a helpful assistant."
	}

	parts := []string{
		"TITLE: " + paper.Title,
		"SUMMARY: " + paper.Summary,
		"METHODOLOGY: " + paper.Methodology,
	}
	if len(paper.KeyFindings) > 0 {
		findings := make([]string, 0, len(paper.KeyFindings))
		for _, f := range paper.KeyFindings {
			findings = append(findings, f.Finding)
		}
		parts = append(parts, "KEY FINDINGS:\n- "+strings.Join(findings, "\n- "))
	}
	if paper.FullText != "" {
		parts = append(parts, "FULL TEXT EXCERPT:\n"+excerpt(paper.FullText, ExcerptLength)+"...")
	}

	return fmt.Sprintf(`You are an expert research assistant helping a user understand the academic paper titled %q.

CONTEXT:
%s

INSTRUCTIONS:
1. Answer questions ONLY based on the provided context.
2. If the answer is not in the context, say "I cannot find that information in the paper."
3. Be concise, professional, and helpful.
4. Do not hallucinate facts not present in the paper.
5. You may use markdown for formatting (bold, lists, etc.).
`, paper.Title, strings.Join(parts, "\n\n"))
}

func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
