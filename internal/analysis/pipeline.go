// Package analysis builds the prompts for each analysis tier, sends them
// through a structured model client and decodes the replies into Analysis
// fragments.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/paperlens/backend/internal/llm"
)

var (
	ErrCoreRequired     = errors.New("core analysis must be completed first")
	ErrMissingTitle     = errors.New("core analysis returned no title")
	ErrTooFewPapers     = errors.New("synthesis needs at least two papers")
	ErrEmptyDocument    = errors.New("document has no text")
	ErrMissingCaption   = errors.New("figure number or caption is required")
	ErrNothingToPresent = errors.New("presentation needs a completed core analysis")
)

// Requester is the structured model capability the pipeline depends on.
type Requester interface {
	Request(ctx context.Context, prompt string, schema llm.Schema, advanced bool) (json.RawMessage, error)
}

type Pipeline struct {
	client Requester
	logger *zap.Logger
	// advancedCritique sends tier 1 to the high-capability model.
	advancedCritique bool
}

type PipelineOption func(*Pipeline)

func WithAdvancedCritique(enabled bool) PipelineOption {
	return func(p *Pipeline) { p.advancedCritique = enabled }
}

func NewPipeline(client Requester, logger *zap.Logger, opts ...PipelineOption) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{client: client, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func request[T any](ctx context.Context, p *Pipeline, op, prompt string, schema llm.Schema) (T, error) {
	return requestTier[T](ctx, p, op, prompt, schema, false)
}

func requestTier[T any](ctx context.Context, p *Pipeline, op, prompt string, schema llm.Schema, advanced bool) (T, error) {
	var out T
	raw, err := p.client.Request(ctx, prompt, schema, advanced)
	if err != nil {
		p.logger.Warn("Analysis request failed", zap.String("operation", op), zap.Error(err))
		return out, fmt.Errorf("%s: %w", op, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%s: failed to decode response: %w", op, err)
	}
	return out, nil
}

// Core runs tier 0. There is no partial result: any failure, including a
// reply without a title, is returned as an error.
func (p *Pipeline) Core(ctx context.Context, text string, persona Persona) (Core, error) {
	if strings.TrimSpace(text) == "" {
		return Core{}, ErrEmptyDocument
	}

	persona = persona.Normalize()
	core, err := request[Core](ctx, p, "core analysis", corePrompt(ExtractRelevantSections(text), persona), CoreSchema)
	if err != nil {
		return Core{}, err
	}
	if strings.TrimSpace(core.Title) == "" {
		return Core{}, ErrMissingTitle
	}
	if core.Takeaways == nil {
		core.Takeaways = []string{}
	}
	if core.KeyFindings == nil {
		core.KeyFindings = []KeyFinding{}
	}
	return core, nil
}

// Advanced runs tier 1 over the full text. Critique and ideation both read
// from its result.
func (p *Pipeline) Advanced(ctx context.Context, text string, core Core) (Advanced, error) {
	if strings.TrimSpace(core.Title) == "" {
		return Advanced{}, ErrCoreRequired
	}

	adv, err := requestTier[Advanced](ctx, p, "advanced analysis", advancedPrompt(text, core), AdvancedSchema, p.advancedCritique)
	if err != nil {
		return Advanced{}, err
	}
	if adv.Strengths == nil {
		adv.Strengths = []Point{}
	}
	if adv.Weaknesses == nil {
		adv.Weaknesses = []Point{}
	}
	if adv.Hypotheses == nil {
		adv.Hypotheses = []Hypothesis{}
	}
	return adv, nil
}

// References never returns a nil slice on success: no bibliography is an
// empty list.
func (p *Pipeline) References(ctx context.Context, text string) ([]Reference, error) {
	section, found := BibliographySection(text)

	out, err := request[struct {
		References []Reference `json:"references"`
	}](ctx, p, "reference extraction", referencesPrompt(section, found), ReferencesSchema)
	if err != nil {
		return nil, err
	}
	if out.References == nil {
		return []Reference{}, nil
	}
	return out.References, nil
}

func (p *Pipeline) RelatedQueries(ctx context.Context, title, summary string) (*RelatedQueries, error) {
	if strings.TrimSpace(title) == "" {
		return nil, ErrCoreRequired
	}
	out, err := request[RelatedQueries](ctx, p, "related queries", relatedPrompt(title, summary), RelatedSchema)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *Pipeline) Glossary(ctx context.Context, text string, persona Persona) ([]GlossaryTerm, error) {
	out, err := request[struct {
		Terms []GlossaryTerm `json:"terms"`
	}](ctx, p, "glossary", glossaryPrompt(text, persona.Normalize()), GlossarySchema)
	if err != nil {
		return nil, err
	}
	if out.Terms == nil {
		return []GlossaryTerm{}, nil
	}
	return out.Terms, nil
}

func (p *Pipeline) ExplainFigure(ctx context.Context, paperContext, caption, number string) (string, error) {
	if strings.TrimSpace(number) == "" && strings.TrimSpace(caption) == "" {
		return "", ErrMissingCaption
	}
	out, err := request[struct {
		Explanation string `json:"explanation"`
	}](ctx, p, "figure explanation", figurePrompt(paperContext, caption, number), FigureSchema)
	if err != nil {
		return "", err
	}
	return out.Explanation, nil
}

func (p *Pipeline) RegenerateSummary(ctx context.Context, text string, persona Persona, length SummaryLength, depth SummaryDepth) (string, error) {
	out, err := request[struct {
		Summary string `json:"summary"`
	}](ctx, p, "summary regeneration", summaryPrompt(text, persona.Normalize(), length, depth), SummarySchema)
	if err != nil {
		return "", err
	}
	return out.Summary, nil
}

func (p *Pipeline) Quiz(ctx context.Context, abstract string) (*Quiz, error) {
	if strings.TrimSpace(abstract) == "" {
		return nil, ErrEmptyDocument
	}
	out, err := request[Quiz](ctx, p, "quiz", quizPrompt(abstract), QuizSchema)
	if err != nil {
		return nil, err
	}

	questions := out.Questions[:0]
	for _, q := range out.Questions {
		if q.CorrectAnswer < 0 || q.CorrectAnswer >= len(q.Options) {
			p.logger.Debug("Dropping quiz question with out-of-range answer", zap.String("question", q.Question))
			continue
		}
		questions = append(questions, q)
	}
	out.Questions = questions
	return &out, nil
}

func (p *Pipeline) Presentation(ctx context.Context, a *Analysis) (*Presentation, error) {
	if a == nil || strings.TrimSpace(a.Title) == "" {
		return nil, ErrNothingToPresent
	}
	out, err := request[Presentation](ctx, p, "presentation", presentationPrompt(a), PresentationSchema)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *Pipeline) Synthesize(ctx context.Context, papers []*Analysis) (*Synthesis, error) {
	if len(papers) < 2 {
		return nil, ErrTooFewPapers
	}
	out, err := request[Synthesis](ctx, p, "synthesis", synthesisPrompt(papers), SynthesisSchema)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ValidateDocument asks the model whether text reads like a research paper.
func (p *Pipeline) ValidateDocument(ctx context.Context, text string) (Validation, error) {
	if strings.TrimSpace(text) == "" {
		return Validation{IsValid: false, Reason: "The document contains no extractable text."}, nil
	}
	return request[Validation](ctx, p, "document validation", validationPrompt(text), ValidationSchema)
}
