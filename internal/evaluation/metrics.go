package evaluation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/paperlens/backend/internal/analysis"
)

var wordRe = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// Tokenize lowercases text and splits it into word tokens.
func Tokenize(text string) []string {
	return wordRe.FindAllString(strings.ToLower(text), -1)
}

func ngrams(words []string, n int) []string {
	if n < 1 || len(words) < n {
		return nil
	}
	out := make([]string, 0, len(words)-n+1)
	for i := 0; i+n <= len(words); i++ {
		out = append(out, strings.Join(words[i:i+n], " "))
	}
	return out
}

type Rouge struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}

// RougeN scores generated against reference. Precision divides by the
// distinct generated n-grams, recall by every reference n-gram.
func RougeN(generated, reference string, n int) Rouge {
	refGrams := ngrams(Tokenize(reference), n)
	if len(refGrams) == 0 {
		return Rouge{}
	}

	genSet := make(map[string]struct{})
	for _, g := range ngrams(Tokenize(generated), n) {
		genSet[g] = struct{}{}
	}

	matches := 0
	for _, g := range refGrams {
		if _, ok := genSet[g]; ok {
			matches++
		}
	}

	var precision float64
	if len(genSet) > 0 {
		precision = float64(matches) / float64(len(genSet))
	}
	recall := float64(matches) / float64(len(refGrams))

	var f1 float64
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}

	return Rouge{
		Precision: round(precision, 4),
		Recall:    round(recall, 4),
		F1:        round(f1, 4),
	}
}

// SemanticSimilarity is a word-overlap heuristic: 0.3 + jaccard*0.7.
func SemanticSimilarity(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)

	union := len(setA)
	intersection := 0
	for w := range setB {
		if _, ok := setA[w]; ok {
			intersection++
		} else {
			union++
		}
	}

	var jaccard float64
	if union > 0 {
		jaccard = float64(intersection) / float64(union)
	}
	return round(0.3+jaccard*0.7, 4)
}

func wordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range Tokenize(text) {
		set[w] = struct{}{}
	}
	return set
}

// Ratio is a fraction that may be undefined. Undefined ratios marshal as
// "N/A".
type Ratio struct {
	Value   float64
	Defined bool
}

func NewRatio(num, den int) Ratio {
	if den == 0 {
		return Ratio{}
	}
	return Ratio{Value: round(float64(num)/float64(den), 4), Defined: true}
}

// OrZero returns the value, or 0 when undefined.
func (r Ratio) OrZero() float64 {
	if !r.Defined {
		return 0
	}
	return r.Value
}

func (r Ratio) String() string {
	if !r.Defined {
		return "N/A"
	}
	return fmt.Sprintf("%.4f", r.Value)
}

func (r Ratio) MarshalJSON() ([]byte, error) {
	if !r.Defined {
		return []byte(`"N/A"`), nil
	}
	return json.Marshal(r.Value)
}

func (r *Ratio) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) || bytes.Equal(data, []byte(`"N/A"`)) {
		*r = Ratio{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid ratio %s: %w", data, err)
	}
	*r = Ratio{Value: v, Defined: true}
	return nil
}

type CitationDetail struct {
	Finding    string  `json:"finding"`
	Evidence   string  `json:"evidence"`
	Verified   bool    `json:"verified"`
	Confidence float64 `json:"confidence"`
}

type CitationResult struct {
	Accuracy         Ratio            `json:"accuracy"`
	CorrectCitations int              `json:"correctCitations"`
	TotalCitations   int              `json:"totalCitations"`
	Details          []CitationDetail `json:"details"`
}

// CitationAccuracy checks that each finding's evidence appears verbatim in
// fullText, ignoring case and whitespace runs. Findings without evidence are
// not counted.
func CitationAccuracy(findings []analysis.KeyFinding, fullText string) CitationResult {
	normalizedText := normalizeSpace(fullText)
	res := CitationResult{Details: []CitationDetail{}}

	for _, f := range findings {
		evidence := strings.TrimSpace(f.Evidence)
		if evidence == "" {
			continue
		}
		res.TotalCitations++

		found := strings.Contains(normalizedText, normalizeSpace(evidence))
		detail := CitationDetail{Finding: f.Finding, Evidence: evidence, Verified: found}
		if found {
			res.CorrectCitations++
			detail.Confidence = 1
		}
		res.Details = append(res.Details, detail)
	}

	res.Accuracy = NewRatio(res.CorrectCitations, res.TotalCitations)
	return res
}

func normalizeSpace(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

type HallucinationResult struct {
	Hallucinations  []string `json:"hallucinations"`
	Confidence      float64  `json:"confidence"`
	SupportedClaims float64  `json:"supportedClaims"`
}

// NeutralHallucination is reported when the check itself fails.
func NeutralHallucination() HallucinationResult {
	return HallucinationResult{Hallucinations: []string{}, Confidence: 0.8, SupportedClaims: 0}
}

type PerformanceResult struct {
	ProcessingTime    float64 `json:"processingTime"`
	TextLength        int     `json:"textLength"`
	TokensPerSecond   int     `json:"tokensPerSecond"`
	PerformanceRating string  `json:"performanceRating"`
}

// Performance rates a run of d over textLength characters. Durations under a
// millisecond are counted as one.
func Performance(d time.Duration, textLength int) PerformanceResult {
	if d < time.Millisecond {
		d = time.Millisecond
	}
	seconds := d.Seconds()

	rating := "Fair"
	switch {
	case seconds < 5:
		rating = "Excellent"
	case seconds < 10:
		rating = "Good"
	}

	return PerformanceResult{
		ProcessingTime:    round(seconds, 2),
		TextLength:        textLength,
		TokensPerSecond:   int(math.Round(float64(textLength) / seconds)),
		PerformanceRating: rating,
	}
}

const (
	weightRouge         = 25
	weightSemantic      = 25
	weightCitation      = 30
	weightHallucination = 20
)

// QualityScore combines the signals into 0-100. An undefined citation
// accuracy contributes nothing.
func QualityScore(rouge2 Rouge, semantic float64, citation Ratio, hallucinationConfidence float64) float64 {
	score := rouge2.F1*weightRouge +
		semantic*weightSemantic +
		citation.OrZero()*weightCitation +
		hallucinationConfidence*weightHallucination
	return round(score, 1)
}

const (
	RatingExcellent        = "Excellent"
	RatingGood             = "Good"
	RatingFair             = "Fair"
	RatingNeedsImprovement = "Needs Improvement"
)

func Rating(score float64) string {
	switch {
	case score >= 80:
		return RatingExcellent
	case score >= 70:
		return RatingGood
	case score >= 60:
		return RatingFair
	default:
		return RatingNeedsImprovement
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
