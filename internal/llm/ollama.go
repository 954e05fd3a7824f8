package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const defaultOllamaBaseURL = "http://localhost:11434/api"

// OllamaTransport talks to a local Ollama server. Its /chat endpoint already
// streams newline-delimited JSON.
type OllamaTransport struct {
	baseURL    string
	httpClient *http.Client
}

func NewOllamaTransport(baseURL string, timeout time.Duration) *OllamaTransport {
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	return &OllamaTransport{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float32 `json:"temperature"`
	TopK        int     `json:"top_k,omitempty"`
	TopP        float32 `json:"top_p,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   Schema          `json:"format,omitempty"`
	Options  ollamaOptions   `json:"options"`
}

func (t *OllamaTransport) Name() string { return "ollama" }

func (t *OllamaTransport) ChunkPath() string { return "message.content" }

func (t *OllamaTransport) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	body := ollamaChatRequest{
		Model: req.Model,
		Messages: []ollamaMessage{
			{Role: "system", Content: schemaInstruction(req.Schema)},
			{Role: "user", Content: req.Prompt},
		},
		Stream:  false,
		Format:  req.Schema,
		Options: toOllamaOptions(req.Config),
	}

	resp, err := t.post(ctx, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read ollama response: %w", err)
	}

	text := gjson.GetBytes(data, "message.content").String()
	if text == "" {
		return "", fmt.Errorf("no message in ollama response: %w", ErrEmptyResponse)
	}
	return text, nil
}

func (t *OllamaTransport) OpenStream(ctx context.Context, req StreamRequest) (io.ReadCloser, error) {
	messages := make([]ollamaMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := "user"
		if m.Role == RoleModel {
			role = "assistant"
		}
		messages = append(messages, ollamaMessage{Role: role, Content: m.Content})
	}

	resp, err := t.post(ctx, ollamaChatRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   true,
		Options:  toOllamaOptions(req.Config),
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (t *OllamaTransport) post(ctx context.Context, body ollamaChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send ollama request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, decodeAPIError(t.Name(), resp.StatusCode, data)
	}
	return resp, nil
}

func toOllamaOptions(cfg GenerationConfig) ollamaOptions {
	return ollamaOptions{
		Temperature: cfg.Temperature,
		TopK:        cfg.TopK,
		TopP:        cfg.TopP,
		NumPredict:  cfg.MaxOutputTokens,
	}
}
