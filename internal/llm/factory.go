package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/paperlens/backend/internal/metrics"
	"github.com/paperlens/backend/pkg/circuitbreaker"
	"github.com/paperlens/backend/pkg/config"
)

func NewTransport(ctx context.Context, cfg config.LLMConfig) (Transport, error) {
	switch cfg.Provider {
	case "gemini":
		return NewGeminiTransport(ctx, cfg.APIKey, cfg.BaseURL, cfg.Timeout())
	case "openai":
		return NewOpenAITransport(cfg.APIKey, cfg.BaseURL), nil
	case "anthropic":
		return NewAnthropicTransport(cfg.APIKey, cfg.BaseURL), nil
	case "ollama":
		return NewOllamaTransport(cfg.BaseURL, cfg.Timeout()), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

// Clients is the pair of model clients built from one configuration.
type Clients struct {
	Structured *StructuredClient
	Streaming  *StreamingClient
}

func NewClients(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Clients, error) {
	transport, err := NewTransport(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}

	breaker := circuitbreaker.New(transport.Name(), circuitbreaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Timeout:          cfg.Breaker.Timeout(),
		IsFailure:        BreakerFailure,
		Logger:           log,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			metrics.CircuitState.WithLabelValues(name).Set(float64(to))
		},
	})

	generation := GenerationConfig{
		Temperature:     cfg.LLM.Temperature,
		TopK:            cfg.LLM.TopK,
		TopP:            cfg.LLM.TopP,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
	}

	structured := NewStructuredClient(transport, StructuredConfig{
		FastModel:     cfg.LLM.FastModel,
		AdvancedModel: cfg.LLM.AdvancedModel,
		Generation:    generation,
		MaxAttempts:   cfg.Retry.MaxAttempts,
		BaseDelay:     cfg.Retry.BaseDelay(),
	}, WithBreaker(breaker), WithLogger(log.Named("structured")))

	chatGeneration := generation
	chatGeneration.MaxOutputTokens = cfg.LLM.ChatMaxOutputTokens
	chatGeneration.CandidateCount = 1

	streaming := NewStreamingClient(transport, StreamConfig{
		Model:       cfg.LLM.ChatModel,
		Generation:  chatGeneration,
		MaxAttempts: cfg.Retry.MaxAttempts,
		Delay:       cfg.Retry.StreamDelay(),
	}, WithStreamLogger(log.Named("stream")))

	return &Clients{Structured: structured, Streaming: streaming}, nil
}
