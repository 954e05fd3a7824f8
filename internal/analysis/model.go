package analysis

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// KeyFinding is the canonical finding shape. Models sometimes return a bare
// string instead of an object; both decode to a KeyFinding.
type KeyFinding struct {
	Finding  string `json:"finding"`
	Evidence string `json:"evidence"`
}

func (k *KeyFinding) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*k = KeyFinding{Finding: text}
		return nil
	}

	type raw KeyFinding
	var obj raw
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("key finding is neither a string nor an object: %w", err)
	}
	*k = KeyFinding(obj)
	return nil
}

type Point struct {
	Point    string `json:"point"`
	Evidence string `json:"evidence"`
}

type Hypothesis struct {
	Hypothesis         string `json:"hypothesis"`
	ExperimentalDesign string `json:"experimentalDesign"`
	ExpectedOutcome    string `json:"expectedOutcome,omitempty"`
}

type Reference struct {
	APA    string `json:"apa"`
	BibTeX string `json:"bibtex"`
}

type RelatedQuery struct {
	Query         string `json:"query"`
	Justification string `json:"justification"`
}

type RelatedQueries struct {
	Similar       []RelatedQuery `json:"similar"`
	Methodology   []RelatedQuery `json:"methodology"`
	Evolution     []RelatedQuery `json:"evolution"`
	Contradictory []RelatedQuery `json:"contradictory"`
}

// All returns every query, in category order.
func (r *RelatedQueries) All() []RelatedQuery {
	if r == nil {
		return nil
	}
	out := make([]RelatedQuery, 0, len(r.Similar)+len(r.Methodology)+len(r.Evolution)+len(r.Contradictory))
	out = append(out, r.Similar...)
	out = append(out, r.Methodology...)
	out = append(out, r.Evolution...)
	return append(out, r.Contradictory...)
}

type GlossaryTerm struct {
	Term       string `json:"term"`
	Definition string `json:"definition"`
}

type QuizQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"`
	Explanation   string   `json:"explanation"`
}

type Quiz struct {
	Questions []QuizQuestion `json:"questions"`
}

type Slide struct {
	Title   string   `json:"title"`
	Content []string `json:"content"`
}

type Presentation struct {
	Slides []Slide `json:"slides"`
}

type Theme struct {
	Theme            string   `json:"theme"`
	PapersDiscussing []string `json:"papersDiscussing"`
}

type Conflict struct {
	Topic     string `json:"topic"`
	Conflicts string `json:"conflicts"`
}

type Synthesis struct {
	OverallSynthesis    string     `json:"overallSynthesis"`
	CommonThemes        []Theme    `json:"commonThemes"`
	ConflictingFindings []Conflict `json:"conflictingFindings"`
	ConceptEvolution    string     `json:"conceptEvolution"`
}

type Validation struct {
	IsValid bool   `json:"isValid"`
	Reason  string `json:"reason"`
}

// Core holds the fields produced by the first tier.
type Core struct {
	Title            string       `json:"title"`
	Authors          []string     `json:"authors,omitempty"`
	PublicationYear  string       `json:"publicationYear,omitempty"`
	Takeaways        []string     `json:"takeaways"`
	Summary          string       `json:"summary"`
	ProblemStatement string       `json:"problemStatement"`
	Methodology      string       `json:"methodology"`
	KeyFindings      []KeyFinding `json:"keyFindings"`
}

// Advanced holds critique and ideation, which come from one generation.
type Advanced struct {
	Strengths  []Point      `json:"strengths"`
	Weaknesses []Point      `json:"weaknesses"`
	Hypotheses []Hypothesis `json:"hypotheses"`
}

func (a Advanced) empty() bool {
	return a.Strengths == nil && a.Weaknesses == nil && a.Hypotheses == nil
}

// Analysis is the aggregate result for one document. Nil slices and pointers
// mean "not computed yet"; an empty non-nil slice is a computed empty result.
type Analysis struct {
	Fingerprint string `json:"contentFingerprint"`

	Core
	Advanced

	References     []Reference     `json:"references"`
	RelatedQueries *RelatedQueries `json:"relatedQueries,omitempty"`
	Glossary       []GlossaryTerm  `json:"glossary"`
	Quiz           *Quiz           `json:"quiz,omitempty"`
	Presentation   *Presentation   `json:"presentation,omitempty"`
	CustomSummary  string          `json:"customSummary,omitempty"`

	FileName   string    `json:"fileName"`
	FullText   string    `json:"fullText"`
	AnalyzedAt time.Time `json:"analyzedAt"`
	Tags       []string  `json:"tags"`
}

// Merge copies every field update specifies into a. Empty strings, nil
// slices and nil pointers leave the existing value alone.
func (a *Analysis) Merge(update *Analysis) {
	if update == nil {
		return
	}

	mergeString(&a.Fingerprint, update.Fingerprint)
	mergeString(&a.Title, update.Title)
	mergeString(&a.PublicationYear, update.PublicationYear)
	mergeString(&a.Summary, update.Summary)
	mergeString(&a.ProblemStatement, update.ProblemStatement)
	mergeString(&a.Methodology, update.Methodology)
	mergeString(&a.CustomSummary, update.CustomSummary)
	mergeString(&a.FileName, update.FileName)
	mergeString(&a.FullText, update.FullText)

	if update.Authors != nil {
		a.Authors = update.Authors
	}
	if update.Takeaways != nil {
		a.Takeaways = update.Takeaways
	}
	if update.KeyFindings != nil {
		a.KeyFindings = update.KeyFindings
	}
	if update.Strengths != nil {
		a.Strengths = update.Strengths
	}
	if update.Weaknesses != nil {
		a.Weaknesses = update.Weaknesses
	}
	if update.Hypotheses != nil {
		a.Hypotheses = update.Hypotheses
	}
	if update.References != nil {
		a.References = update.References
	}
	if update.RelatedQueries != nil {
		a.RelatedQueries = update.RelatedQueries
	}
	if update.Glossary != nil {
		a.Glossary = update.Glossary
	}
	if update.Quiz != nil {
		a.Quiz = update.Quiz
	}
	if update.Presentation != nil {
		a.Presentation = update.Presentation
	}
	if update.Tags != nil {
		a.Tags = update.Tags
	}
	if !update.AnalyzedAt.IsZero() {
		a.AnalyzedAt = update.AnalyzedAt
	}
}

func mergeString(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

// Clone returns a deep enough copy for handing out of a locked store: the
// top-level slices are copied, their elements are values.
func (a *Analysis) Clone() *Analysis {
	if a == nil {
		return nil
	}
	out := *a
	out.Authors = cloneSlice(a.Authors)
	out.Takeaways = cloneSlice(a.Takeaways)
	out.KeyFindings = cloneSlice(a.KeyFindings)
	out.Strengths = cloneSlice(a.Strengths)
	out.Weaknesses = cloneSlice(a.Weaknesses)
	out.Hypotheses = cloneSlice(a.Hypotheses)
	out.References = cloneSlice(a.References)
	out.Glossary = cloneSlice(a.Glossary)
	out.Tags = cloneSlice(a.Tags)
	return &out
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

// Fragment returns the part of a that backs tab, or nil when it has not been
// computed.
func (a *Analysis) Fragment(tab Tab) any {
	switch tab {
	case TabTakeaways:
		if a.Title == "" {
			return nil
		}
		return a.Takeaways
	case TabOverview:
		if a.Title == "" {
			return nil
		}
		return a.Core
	case TabCritique:
		if a.Advanced.empty() {
			return nil
		}
		return Advanced{Strengths: a.Strengths, Weaknesses: a.Weaknesses}
	case TabIdeation:
		if a.Advanced.empty() {
			return nil
		}
		return Advanced{Hypotheses: a.Hypotheses}
	case TabReferences:
		if a.References == nil {
			return nil
		}
		return a.References
	case TabRelated:
		if a.RelatedQueries == nil {
			return nil
		}
		return a.RelatedQueries
	case TabGlossary:
		if a.Glossary == nil {
			return nil
		}
		return a.Glossary
	case TabQuiz:
		if a.Quiz == nil {
			return nil
		}
		return a.Quiz
	case TabPresentation:
		if a.Presentation == nil {
			return nil
		}
		return a.Presentation
	case TabGraph:
		if a.Title == "" {
			return nil
		}
		return BuildKnowledgeGraph(a)
	default:
		return nil
	}
}

// Abstract is the text used for quizzes: the summary when there is one,
// otherwise the opening of the paper.
func (a *Analysis) Abstract() string {
	if a.Summary != "" {
		return a.Summary
	}
	return truncate(a.FullText, 2000)
}

func (a *Analysis) FindingsText() string {
	parts := make([]string, 0, len(a.KeyFindings))
	for _, f := range a.KeyFindings {
		parts = append(parts, f.Finding)
	}
	return strings.Join(parts, "; ")
}
