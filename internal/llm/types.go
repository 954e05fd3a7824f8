package llm

import (
	"context"
	"encoding/json"
	"io"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Schema is a JSON-schema-like descriptor sent with structured requests.
type Schema map[string]any

// Required lists the top-level keys the schema marks as required.
func (s Schema) Required() []string {
	switch req := s["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if name, ok := r.(string); ok {
				out = append(out, name)
			}
		}
		return out
	default:
		return nil
	}
}

func (s Schema) JSON() string {
	data, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(data)
}

type GenerationConfig struct {
	Temperature     float32
	TopK            int
	TopP            float32
	MaxOutputTokens int
	CandidateCount  int
}

type GenerateRequest struct {
	Model  string
	Prompt string
	Schema Schema
	Config GenerationConfig
}

type StreamRequest struct {
	Model    string
	Messages []Message
	Config   GenerationConfig
}

// Transport is the remote model capability. Generate returns the raw text
// payload of a schema-constrained request. OpenStream returns a body of
// newline-delimited JSON objects whose text fragment sits at ChunkPath.
type Transport interface {
	Name() string
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	OpenStream(ctx context.Context, req StreamRequest) (io.ReadCloser, error)
	ChunkPath() string
}

func schemaInstruction(s Schema) string {
	return "Respond with a single JSON object and nothing else. It must conform to this JSON schema:\n" + s.JSON()
}
