package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/tidwall/gjson"
)

// AnthropicTransport serves the Messages API through the official SDK.
type AnthropicTransport struct {
	client sdk.Client
}

func NewAnthropicTransport(apiKey, baseURL string) *AnthropicTransport {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicTransport{client: sdk.NewClient(opts...)}
}

func (t *AnthropicTransport) Name() string { return "anthropic" }

func (t *AnthropicTransport) ChunkPath() string { return "text" }

func (t *AnthropicTransport) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(req.Config.MaxOutputTokens),
		System:    []sdk.TextBlockParam{{Text: schemaInstruction(req.Schema)}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
		Temperature: sdk.Float(float64(req.Config.Temperature)),
	}
	if req.Config.TopK > 0 {
		params.TopK = sdk.Int(int64(req.Config.TopK))
	}

	msg, err := t.client.Messages.New(ctx, params)
	if err != nil {
		return "", t.mapError(err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("no text blocks in anthropic response: %w", ErrEmptyResponse)
	}
	return sb.String(), nil
}

func (t *AnthropicTransport) OpenStream(ctx context.Context, req StreamRequest) (io.ReadCloser, error) {
	messages := make([]sdk.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		block := sdk.NewTextBlock(m.Content)
		if m.Role == RoleModel {
			messages = append(messages, sdk.NewAssistantMessage(block))
		} else {
			messages = append(messages, sdk.NewUserMessage(block))
		}
	}

	params := sdk.MessageNewParams{
		Model:       sdk.Model(req.Model),
		MaxTokens:   int64(req.Config.MaxOutputTokens),
		Messages:    messages,
		Temperature: sdk.Float(float64(req.Config.Temperature)),
	}

	stream := t.client.Messages.NewStreaming(ctx, params)

	pr, pw := io.Pipe()
	go func() {
		defer stream.Close()
		enc := json.NewEncoder(pw)
		for stream.Next() {
			event := stream.Current()
			delta, ok := event.AsAny().(sdk.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			text, ok := delta.Delta.AsAny().(sdk.TextDelta)
			if !ok || text.Text == "" {
				continue
			}
			if err := enc.Encode(textChunk{Text: text.Text}); err != nil {
				return
			}
		}
		if err := stream.Err(); err != nil {
			pw.CloseWithError(t.mapError(err))
			return
		}
		pw.Close()
	}()
	return pr, nil
}

func (t *AnthropicTransport) mapError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		msg := gjson.Get(apiErr.RawJSON(), "error.message").String()
		if msg == "" {
			msg = apiErr.Error()
		}
		return &APIError{Provider: t.Name(), StatusCode: apiErr.StatusCode, Message: msg}
	}
	return fmt.Errorf("anthropic request failed: %w", err)
}
