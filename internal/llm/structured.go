package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/paperlens/backend/internal/metrics"
	"github.com/paperlens/backend/pkg/circuitbreaker"
	"github.com/paperlens/backend/pkg/retry"
)

const (
	MaxPromptTokens = 30000
	CharsPerToken   = 4
	MaxPromptChars  = MaxPromptTokens * CharsPerToken

	TruncationNotice = "\n\n[Note: Document was truncated to fit token limits]"
)

const (
	DefaultFastModel     = "gemini-2.5-flash"
	DefaultAdvancedModel = "gemini-2.5-pro"
)

var DefaultGeneration = GenerationConfig{
	Temperature:     0.7,
	TopK:            40,
	TopP:            0.95,
	MaxOutputTokens: 4096,
}

type StructuredConfig struct {
	FastModel     string
	AdvancedModel string
	Generation    GenerationConfig
	MaxAttempts   int
	BaseDelay     time.Duration
}

func (c *StructuredConfig) setDefaults() {
	if c.FastModel == "" {
		c.FastModel = DefaultFastModel
	}
	if c.AdvancedModel == "" {
		c.AdvancedModel = DefaultAdvancedModel
	}
	if c.Generation == (GenerationConfig{}) {
		c.Generation = DefaultGeneration
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
}

// StructuredClient sends schema-constrained prompts and returns validated JSON.
type StructuredClient struct {
	transport Transport
	cfg       StructuredConfig
	breaker   *circuitbreaker.CircuitBreaker
	sleeper   retry.Sleeper
	logger    *zap.Logger
}

type Option func(*StructuredClient)

func WithSleeper(s retry.Sleeper) Option {
	return func(c *StructuredClient) { c.sleeper = s }
}

func WithBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(c *StructuredClient) { c.breaker = cb }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *StructuredClient) { c.logger = l }
}

func NewStructuredClient(transport Transport, cfg StructuredConfig, opts ...Option) *StructuredClient {
	cfg.setDefaults()
	c := &StructuredClient{
		transport: transport,
		cfg:       cfg,
		sleeper:   retry.RealSleeper,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = circuitbreaker.New(transport.Name(), circuitbreaker.Config{IsFailure: BreakerFailure})
	}
	return c
}

// BreakerFailure counts server-side and network failures only. A 4xx is the
// caller's fault and says nothing about provider health.
func BreakerFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	code := StatusCode(err)
	return code == 0 || code >= 500
}

func (c *StructuredClient) policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.cfg.MaxAttempts,
		Backoff:     retry.Exponential(c.cfg.BaseDelay),
		Classify:    c.classify,
		Fallback:    c.cfg.FastModel,
		OnTransition: func(from, to retry.State) {
			if to.Tier != from.Tier {
				metrics.LLMDowngrades.Inc()
			}
			if from.Phase == retry.PhaseAttempting && (to.Phase == retry.PhaseBackoff || to.Phase == retry.PhaseAttempting) {
				c.logger.Warn("Retrying structured request",
					zap.String("from_model", from.Tier),
					zap.String("to_model", to.Tier),
					zap.Int("attempt", to.Attempt),
					zap.Duration("delay", to.Delay),
					zap.Error(to.Err),
				)
			}
		},
	}
}

func (c *StructuredClient) classify(st retry.State, err error) retry.Decision {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return retry.Stop
	case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
		return retry.Stop
	case IsQuota(err):
		return retry.RetryNow
	case IsOverloaded(err) && st.Tier == c.cfg.AdvancedModel && st.Attempt == 0:
		return retry.Downgrade
	case isServerError(err):
		return retry.RetryAfterBackoff
	case isMalformed(err):
		return retry.RetryNow
	case isClientError(err):
		return retry.Stop
	default:
		return retry.RetryAfterBackoff
	}
}

// Request runs prompt against the fast model, or the advanced one when
// advanced is set, and returns the validated JSON object.
func (c *StructuredClient) Request(ctx context.Context, prompt string, schema Schema, advanced bool) (json.RawMessage, error) {
	model := c.cfg.FastModel
	label := "fast"
	if advanced {
		model = c.cfg.AdvancedModel
		label = "advanced"
	}

	prompt = TruncatePrompt(prompt)
	required := schema.Required()
	policy := c.policy()
	started := time.Now()

	out, final, err := retry.Run(ctx, policy, c.sleeper, policy.Start(model),
		func(ctx context.Context, st retry.State) (json.RawMessage, error) {
			raw, err := circuitbreaker.Do(ctx, c.breaker, func(ctx context.Context) (string, error) {
				return c.transport.Generate(ctx, GenerateRequest{
					Model:  st.Tier,
					Prompt: prompt,
					Schema: schema,
					Config: c.cfg.Generation,
				})
			})
			if err == nil {
				var payload json.RawMessage
				payload, err = decodeStructured(raw, required)
				if err == nil {
					metrics.LLMAttempts.WithLabelValues(st.Tier, "ok").Inc()
					return payload, nil
				}
			}
			metrics.LLMAttempts.WithLabelValues(st.Tier, string(Classify(err))).Inc()
			return nil, err
		})

	metrics.LLMRequestDuration.WithLabelValues(label).Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.LLMRequestTotal.WithLabelValues(label, "error").Inc()
		c.logger.Error("Structured request failed",
			zap.String("model", final.Tier),
			zap.Int("attempts", final.Attempt+1),
			zap.Error(err),
		)
		return nil, &RequestError{Model: final.Tier, Attempts: final.Attempt + 1, Err: err}
	}

	metrics.LLMRequestTotal.WithLabelValues(label, "success").Inc()
	return out, nil
}

// Generate decodes a structured reply into T.
func Generate[T any](ctx context.Context, c *StructuredClient, prompt string, schema Schema, advanced bool) (T, error) {
	var out T
	raw, err := c.Request(ctx, prompt, schema, advanced)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("failed to decode structured response: %w", err)
	}
	return out, nil
}

// TruncatePrompt caps prompt at MaxPromptChars characters and appends the
// truncation notice when it had to cut.
func TruncatePrompt(prompt string) string {
	if utf8.RuneCountInString(prompt) <= MaxPromptChars {
		return prompt
	}
	runes := []rune(prompt)
	return string(runes[:MaxPromptChars]) + TruncationNotice
}

var fencePattern = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n?(.*?)\\n?\\s*```$")

// StripFences unwraps a reply wrapped in a Markdown code fence.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}

func decodeStructured(raw string, required []string) (json.RawMessage, error) {
	text := StripFences(raw)
	if text == "" {
		return nil, ErrEmptyResponse
	}
	if !gjson.Valid(text) {
		return nil, ErrInvalidJSON
	}

	parsed := gjson.Parse(text)
	if !parsed.IsObject() {
		return nil, fmt.Errorf("top-level value is %s: %w", parsed.Type, ErrSchemaMismatch)
	}
	for _, key := range required {
		if !parsed.Get(key).Exists() {
			return nil, fmt.Errorf("missing key %q: %w", key, ErrSchemaMismatch)
		}
	}
	return json.RawMessage(text), nil
}
