// Package evaluation scores finished analyses with heuristic quality
// signals and keeps the running statistics.
package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/paperlens/backend/internal/analysis"
	"github.com/paperlens/backend/internal/llm"
	"github.com/paperlens/backend/internal/metrics"
)

const (
	ReferenceWindow     = 1000
	HallucinationWindow = 5000
)

// Requester is the structured model call used by the hallucination check.
type Requester interface {
	Request(ctx context.Context, prompt string, schema llm.Schema, advanced bool) (json.RawMessage, error)
}

type Metrics struct {
	Rouge1             Rouge               `json:"rouge1"`
	Rouge2             Rouge               `json:"rouge2"`
	SemanticSimilarity float64             `json:"semanticSimilarity"`
	CitationAccuracy   CitationResult      `json:"citationAccuracy"`
	HallucinationCheck HallucinationResult `json:"hallucinationCheck"`
	Performance        PerformanceResult   `json:"performance"`
}

// Record is one evaluation. It is never modified after creation.
type Record struct {
	ID           string    `json:"id"`
	Fingerprint  string    `json:"contentFingerprint,omitempty"`
	Title        string    `json:"title,omitempty"`
	QualityScore float64   `json:"qualityScore"`
	Metrics      Metrics   `json:"metrics"`
	Timestamp    time.Time `json:"timestamp"`
	Rating       string    `json:"rating"`
}

var hallucinationSchema = llm.Schema{
	"type": "object",
	"properties": map[string]any{
		"hallucinations":  llm.Schema{"type": "array", "items": llm.Schema{"type": "string"}},
		"confidence":      llm.Schema{"type": "number"},
		"supportedClaims": llm.Schema{"type": "number"},
	},
	"required": []string{"hallucinations", "confidence", "supportedClaims"},
}

type Engine struct {
	client Requester
	now    func() time.Time
	logger *zap.Logger
}

type EngineOption func(*Engine)

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

func NewEngine(client Requester, opts ...EngineOption) *Engine {
	e := &Engine{client: client, now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HallucinationCheck asks the model which summary claims the paper does not
// support. Any failure yields the neutral result.
func (e *Engine) HallucinationCheck(ctx context.Context, summary, fullText string) HallucinationResult {
	if e.client == nil {
		return NeutralHallucination()
	}

	prompt := fmt.Sprintf(`Analyze this AI-generated summary for potential hallucinations or unsupported claims.

Full paper text excerpt:
%s

AI-generated summary:
%s

Identify any claims in the summary that are NOT supported by the paper text.
Return a JSON object with:
- hallucinations: array of unsupported claims
- confidence: overall confidence score (0-1)
- supportedClaims: number of claims that ARE supported`, prefix(fullText, HallucinationWindow), summary)

	raw, err := e.client.Request(ctx, prompt, hallucinationSchema, false)
	if err != nil {
		e.logger.Warn("Hallucination check failed", zap.Error(err))
		return NeutralHallucination()
	}

	var res HallucinationResult
	if err := json.Unmarshal(raw, &res); err != nil {
		e.logger.Warn("Hallucination check returned unreadable result", zap.Error(err))
		return NeutralHallucination()
	}
	if res.Hallucinations == nil {
		res.Hallucinations = []string{}
	}
	if res.Confidence < 0 || res.Confidence > 1 {
		res.Confidence = NeutralHallucination().Confidence
	}
	return res
}

// Evaluate scores a's summary and findings against sourceText. The first
// ReferenceWindow characters of the source stand in for a gold summary.
func (e *Engine) Evaluate(ctx context.Context, a *analysis.Analysis, sourceText string) (*Record, error) {
	if a == nil {
		return nil, errors.New("nothing to evaluate")
	}
	start := e.now()

	e.logger.Info("Evaluating analysis", zap.String("fingerprint", a.Fingerprint))

	reference := prefix(sourceText, ReferenceWindow)
	rouge1 := RougeN(a.Summary, reference, 1)
	rouge2 := RougeN(a.Summary, reference, 2)
	semantic := SemanticSimilarity(a.Summary, reference)
	citation := CitationAccuracy(a.KeyFindings, sourceText)
	hallucination := e.HallucinationCheck(ctx, a.Summary, sourceText)
	perf := Performance(e.now().Sub(start), len([]rune(sourceText)))

	score := QualityScore(rouge2, semantic, citation.Accuracy, hallucination.Confidence)
	rec := &Record{
		ID:           uuid.New().String(),
		Fingerprint:  a.Fingerprint,
		Title:        a.Title,
		QualityScore: score,
		Metrics: Metrics{
			Rouge1:             rouge1,
			Rouge2:             rouge2,
			SemanticSimilarity: semantic,
			CitationAccuracy:   citation,
			HallucinationCheck: hallucination,
			Performance:        perf,
		},
		Timestamp: e.now(),
		Rating:    Rating(score),
	}

	metrics.QualityScore.Observe(score)

	e.logger.Info("Analysis evaluated",
		zap.String("fingerprint", a.Fingerprint),
		zap.Float64("quality_score", score),
		zap.String("rating", rec.Rating),
		zap.String("citation_accuracy", citation.Accuracy.String()),
	)

	return rec, nil
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
