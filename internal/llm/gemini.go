package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"google.golang.org/genai"
)

const geminiChunkPath = "text"

// GeminiTransport talks to the Gemini API through the genai SDK.
type GeminiTransport struct {
	client *genai.Client
}

func NewGeminiTransport(ctx context.Context, apiKey, baseURL string, timeout time.Duration) (*GeminiTransport, error) {
	opts := genai.HTTPOptions{BaseURL: baseURL}
	if timeout > 0 {
		opts.Timeout = &timeout
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: opts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiTransport{client: client}, nil
}

var chatSafetySettings = []*genai.SafetySetting{
	{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
}

func (t *GeminiTransport) Name() string { return "gemini" }

func (t *GeminiTransport) ChunkPath() string { return geminiChunkPath }

func geminiConfig(cfg GenerationConfig) *genai.GenerateContentConfig {
	out := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(cfg.Temperature),
		MaxOutputTokens: int32(cfg.MaxOutputTokens),
		CandidateCount:  int32(cfg.CandidateCount),
	}
	if cfg.TopK > 0 {
		out.TopK = genai.Ptr(float32(cfg.TopK))
	}
	if cfg.TopP > 0 {
		out.TopP = genai.Ptr(cfg.TopP)
	}
	return out
}

func (t *GeminiTransport) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	config := geminiConfig(req.Config)
	config.ResponseMIMEType = "application/json"
	if req.Schema != nil {
		config.ResponseJsonSchema = map[string]any(req.Schema)
	}

	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
	resp, err := t.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return "", t.mapError(err)
	}

	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in gemini response: %w", ErrEmptyResponse)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("no content in gemini response: %w", ErrEmptyResponse)
	}
	return text, nil
}

type geminiChunk struct {
	Text string `json:"text"`
}

// OpenStream re-emits the SDK's stream as newline-delimited JSON. A failed
// request surfaces as the body's read error.
func (t *GeminiTransport) OpenStream(ctx context.Context, req StreamRequest) (io.ReadCloser, error) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		contents = append(contents, genai.NewContentFromText(m.Content, genai.Role(m.Role)))
	}

	config := geminiConfig(req.Config)
	config.SafetySettings = chatSafetySettings

	pr, pw := io.Pipe()
	go func() {
		enc := json.NewEncoder(pw)
		for resp, err := range t.client.Models.GenerateContentStream(ctx, req.Model, contents, config) {
			if err != nil {
				pw.CloseWithError(t.mapError(err))
				return
			}
			if err := enc.Encode(geminiChunk{Text: resp.Text()}); err != nil {
				return
			}
		}
		pw.Close()
	}()
	return pr, nil
}

// mapError converts SDK errors into *APIError so classification sees one
// shape for every provider.
func (t *GeminiTransport) mapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.Code)
		}
		return &APIError{Provider: t.Name(), StatusCode: apiErr.Code, Code: apiErr.Code, Message: msg}
	}
	return fmt.Errorf("gemini request failed: %w", err)
}
