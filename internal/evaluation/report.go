package evaluation

import (
	"fmt"
	"strings"
)

type Baseline struct {
	Name             string  `json:"name"`
	Rouge2F1         float64 `json:"rouge2F1"`
	SemanticScore    float64 `json:"semanticScore"`
	CitationAccuracy float64 `json:"citationAccuracy"`
	ProcessingTime   float64 `json:"processingTime"`
}

// Published figures for comparable summarisation tools.
var baselines = []Baseline{
	{Name: "SciSummary", Rouge2F1: 0.35, SemanticScore: 0.72, CitationAccuracy: 0.68, ProcessingTime: 8.5},
	{Name: "ChatPDF", Rouge2F1: 0.42, SemanticScore: 0.78, CitationAccuracy: 0.71, ProcessingTime: 6.2},
	{Name: "Semantic Scholar TLDR", Rouge2F1: 0.48, SemanticScore: 0.82, CitationAccuracy: 0.85, ProcessingTime: 3.1},
}

func Baselines() []Baseline {
	out := make([]Baseline, len(baselines))
	copy(out, baselines)
	return out
}

// Observed holds the figures of one record in baseline units.
type Observed struct {
	Rouge2F1         float64 `json:"rouge2F1"`
	SemanticScore    float64 `json:"semanticScore"`
	CitationAccuracy float64 `json:"citationAccuracy"`
	ProcessingTime   float64 `json:"processingTime"`
}

// Improvements are percentages relative to the baseline. Speed is positive
// when the record was faster.
type Improvements struct {
	Rouge2           float64 `json:"rouge2"`
	SemanticScore    float64 `json:"semanticScore"`
	CitationAccuracy float64 `json:"citationAccuracy"`
	Speed            float64 `json:"speed"`
}

type Comparison struct {
	Baseline     Baseline     `json:"baseline"`
	Observed     Observed     `json:"observed"`
	Improvements Improvements `json:"improvements"`
}

func CompareWithBaseline(rec *Record) []Comparison {
	observed := Observed{
		Rouge2F1:         rec.Metrics.Rouge2.F1,
		SemanticScore:    rec.Metrics.SemanticSimilarity,
		CitationAccuracy: rec.Metrics.CitationAccuracy.Accuracy.OrZero(),
		ProcessingTime:   rec.Metrics.Performance.ProcessingTime,
	}

	out := make([]Comparison, 0, len(baselines))
	for _, b := range baselines {
		out = append(out, Comparison{
			Baseline: b,
			Observed: observed,
			Improvements: Improvements{
				Rouge2:           percentChange(observed.Rouge2F1, b.Rouge2F1),
				SemanticScore:    percentChange(observed.SemanticScore, b.SemanticScore),
				CitationAccuracy: percentChange(observed.CitationAccuracy, b.CitationAccuracy),
				Speed:            round((b.ProcessingTime-observed.ProcessingTime)/b.ProcessingTime*100, 1),
			},
		})
	}
	return out
}

func percentChange(observed, baseline float64) float64 {
	return round((observed-baseline)/baseline*100, 1)
}

type ReportSummary struct {
	TotalPapers               int     `json:"totalPapers"`
	AverageQualityScore       float64 `json:"averageQualityScore"`
	AverageRouge2F1           float64 `json:"averageRouge2F1"`
	AverageSemanticSimilarity float64 `json:"averageSemanticSimilarity"`
	AverageCitationAccuracy   float64 `json:"averageCitationAccuracy"`
	AverageProcessingTime     float64 `json:"averageProcessingTime"`
}

type Distribution struct {
	Excellent        int `json:"excellent"`
	Good             int `json:"good"`
	Fair             int `json:"fair"`
	NeedsImprovement int `json:"needsImprovement"`
}

type Report struct {
	Summary      ReportSummary `json:"summary"`
	Distribution Distribution  `json:"distribution"`
	Evaluations  []Record      `json:"evaluations"`
}

func GenerateReport(records []Record) *Report {
	report := &Report{Evaluations: records}
	if report.Evaluations == nil {
		report.Evaluations = []Record{}
	}
	if len(records) == 0 {
		return report
	}

	var quality, rouge, semantic, citation, elapsed float64
	defined := 0
	for _, r := range records {
		quality += r.QualityScore
		rouge += r.Metrics.Rouge2.F1
		semantic += r.Metrics.SemanticSimilarity
		elapsed += r.Metrics.Performance.ProcessingTime
		if acc := r.Metrics.CitationAccuracy.Accuracy; acc.Defined {
			citation += acc.Value
			defined++
		}

		switch Rating(r.QualityScore) {
		case RatingExcellent:
			report.Distribution.Excellent++
		case RatingGood:
			report.Distribution.Good++
		case RatingFair:
			report.Distribution.Fair++
		default:
			report.Distribution.NeedsImprovement++
		}
	}

	n := float64(len(records))
	report.Summary = ReportSummary{
		TotalPapers:               len(records),
		AverageQualityScore:       round(quality/n, 2),
		AverageRouge2F1:           round(rouge/n, 4),
		AverageSemanticSimilarity: round(semantic/n, 4),
		AverageProcessingTime:     round(elapsed/n, 2),
	}
	if defined > 0 {
		report.Summary.AverageCitationAccuracy = round(citation/float64(defined), 4)
	}
	return report
}

func percentage(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// RenderReport formats report for a terminal or a plain-text download.
func RenderReport(report *Report) string {
	s := report.Summary
	d := report.Distribution

	out := fmt.Sprintf(`
Evaluation Report
=================

Total Papers: %d

Quality Distribution:
- Excellent: %d (%.1f%%)
- Good: %d (%.1f%%)
- Fair: %d (%.1f%%)
- Needs Improvement: %d (%.1f%%)

Average Scores:
- Quality: %.2f / 100
- ROUGE-2 F1: %.4f
- Semantic Similarity: %.4f
- Citation Accuracy: %.4f

Average Processing Time: %.2fs
`,
		s.TotalPapers,
		d.Excellent, percentage(d.Excellent, s.TotalPapers),
		d.Good, percentage(d.Good, s.TotalPapers),
		d.Fair, percentage(d.Fair, s.TotalPapers),
		d.NeedsImprovement, percentage(d.NeedsImprovement, s.TotalPapers),
		s.AverageQualityScore,
		s.AverageRouge2F1,
		s.AverageSemanticSimilarity,
		s.AverageCitationAccuracy,
		s.AverageProcessingTime,
	)
	return out
}

// RenderComparison formats a baseline comparison as one block per tool.
func RenderComparison(comparisons []Comparison) string {
	var b strings.Builder
	b.WriteString("\nBaseline Comparison\n===================\n")
	for _, c := range comparisons {
		fmt.Fprintf(&b, "\n%s:\n", c.Baseline.Name)
		fmt.Fprintf(&b, "- ROUGE-2: %+.1f%% (baseline %.2f)\n", c.Improvements.Rouge2, c.Baseline.Rouge2F1)
		fmt.Fprintf(&b, "- Semantic: %+.1f%% (baseline %.2f)\n", c.Improvements.SemanticScore, c.Baseline.SemanticScore)
		fmt.Fprintf(&b, "- Citations: %+.1f%% (baseline %.2f)\n", c.Improvements.CitationAccuracy, c.Baseline.CitationAccuracy)
		fmt.Fprintf(&b, "- Speed: %+.1f%% (baseline %.1fs)\n", c.Improvements.Speed, c.Baseline.ProcessingTime)
	}
	return b.String()
}
