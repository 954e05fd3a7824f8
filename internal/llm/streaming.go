package llm

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/paperlens/backend/internal/metrics"
	"github.com/paperlens/backend/pkg/retry"
)

const maxStreamLine = 4 << 20

var DefaultChatGeneration = GenerationConfig{
	Temperature:     0.7,
	TopK:            40,
	TopP:            0.95,
	MaxOutputTokens: 1024,
	CandidateCount:  1,
}

type StreamConfig struct {
	Model       string
	Generation  GenerationConfig
	MaxAttempts int
	Delay       time.Duration
}

func (c *StreamConfig) setDefaults() {
	if c.Model == "" {
		c.Model = DefaultFastModel
	}
	if c.Generation == (GenerationConfig{}) {
		c.Generation = DefaultChatGeneration
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 3
	}
	if c.Delay <= 0 {
		c.Delay = time.Second
	}
}

// StreamingClient delivers a chat reply fragment by fragment.
type StreamingClient struct {
	transport Transport
	cfg       StreamConfig
	sleeper   retry.Sleeper
	logger    *zap.Logger
}

type StreamOption func(*StreamingClient)

func WithStreamSleeper(s retry.Sleeper) StreamOption {
	return func(c *StreamingClient) { c.sleeper = s }
}

func WithStreamLogger(l *zap.Logger) StreamOption {
	return func(c *StreamingClient) { c.logger = l }
}

func NewStreamingClient(transport Transport, cfg StreamConfig, opts ...StreamOption) *StreamingClient {
	cfg.setDefaults()
	c := &StreamingClient{
		transport: transport,
		cfg:       cfg,
		sleeper:   retry.RealSleeper,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stream sends messages and calls onChunk with each text fragment in order.
// Only quota errors are retried, and only while nothing has been delivered.
func (c *StreamingClient) Stream(ctx context.Context, messages []Message, onChunk func(string)) error {
	delivered := false
	deliver := func(text string) {
		delivered = true
		metrics.StreamChunks.Inc()
		onChunk(text)
	}

	policy := retry.Policy{
		MaxAttempts: c.cfg.MaxAttempts,
		Backoff:     retry.Constant(c.cfg.Delay),
		Classify: func(_ retry.State, err error) retry.Decision {
			if IsQuota(err) {
				return retry.RetryAfterBackoff
			}
			return retry.Stop
		},
		OnTransition: func(from, to retry.State) {
			if to.Phase == retry.PhaseBackoff {
				c.logger.Warn("Stream quota exceeded, retrying",
					zap.Int("attempt", to.Attempt+1),
					zap.Duration("delay", to.Delay),
				)
			}
		},
	}

	_, final, err := retry.Run(ctx, policy, c.sleeper, policy.Start(c.cfg.Model),
		func(ctx context.Context, st retry.State) (struct{}, error) {
			err := c.attempt(ctx, st.Tier, messages, deliver)
			if err != nil && delivered {
				return struct{}{}, retry.Permanent(err)
			}
			return struct{}{}, err
		})
	if err != nil {
		metrics.StreamTotal.WithLabelValues("error").Inc()
		c.logger.Error("Stream failed",
			zap.Int("attempts", final.Attempt+1),
			zap.Bool("partial", delivered),
			zap.Error(err),
		)
		return &StreamError{Attempts: final.Attempt + 1, Err: err}
	}

	metrics.StreamTotal.WithLabelValues("success").Inc()
	return nil
}

func (c *StreamingClient) attempt(ctx context.Context, model string, messages []Message, deliver func(string)) error {
	body, err := c.transport.OpenStream(ctx, StreamRequest{
		Model:    model,
		Messages: messages,
		Config:   c.cfg.Generation,
	})
	if err != nil {
		return err
	}
	defer body.Close()

	chunkPath := c.transport.ChunkPath()
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "data:") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
		if line == "" || !gjson.Valid(line) {
			continue
		}

		if gjson.Get(line, "error").Exists() || gjson.Get(line, "0.error").Exists() {
			return decodeAPIError(c.transport.Name(), 0, []byte(line))
		}

		if text := gjson.Get(line, chunkPath).String(); text != "" {
			deliver(text)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read stream: %w", err)
	}
	return nil
}
