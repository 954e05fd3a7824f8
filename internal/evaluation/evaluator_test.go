package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperlens/backend/internal/analysis"
	"github.com/paperlens/backend/internal/llm"
	"github.com/paperlens/backend/internal/storage/memory"
)

type fakeRequester struct {
	reply   string
	err     error
	prompts []string
}

func (f *fakeRequester) Request(ctx context.Context, prompt string, schema llm.Schema, advanced bool) (json.RawMessage, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.reply), nil
}

// steppingClock advances by step on every call.
func steppingClock(step time.Duration) func() time.Time {
	t := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		now := t
		t = t.Add(step)
		return now
	}
}

const source = "Transformers replace recurrence with attention. The model achieves 94% accuracy on the benchmark."

func sample() *analysis.Analysis {
	return &analysis.Analysis{
		Fingerprint: "fp1",
		Core: analysis.Core{
			Title:   "Attention",
			Summary: "Transformers replace recurrence with attention.",
			KeyFindings: []analysis.KeyFinding{
				{Finding: "accuracy", Evidence: "94% accuracy on the benchmark"},
				{Finding: "made up", Evidence: "99% accuracy"},
			},
		},
	}
}

func TestEngine_Evaluate(t *testing.T) {
	fr := &fakeRequester{reply: `{"hallucinations": ["claim"], "confidence": 0.9, "supportedClaims": 3}`}
	e := NewEngine(fr, WithClock(steppingClock(2*time.Second)))

	rec, err := e.Evaluate(context.Background(), sample(), source)
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "fp1", rec.Fingerprint)
	assert.Equal(t, 1, rec.Metrics.CitationAccuracy.CorrectCitations)
	assert.Equal(t, 2, rec.Metrics.CitationAccuracy.TotalCitations)
	assert.Equal(t, 0.9, rec.Metrics.HallucinationCheck.Confidence)
	assert.Equal(t, []string{"claim"}, rec.Metrics.HallucinationCheck.Hallucinations)
	assert.Equal(t, 2.0, rec.Metrics.Performance.ProcessingTime)
	assert.Equal(t, "Excellent", rec.Metrics.Performance.PerformanceRating)

	want := QualityScore(rec.Metrics.Rouge2, rec.Metrics.SemanticSimilarity, rec.Metrics.CitationAccuracy.Accuracy, 0.9)
	assert.Equal(t, want, rec.QualityScore)
	assert.Equal(t, Rating(want), rec.Rating)

	require.Len(t, fr.prompts, 1)
	assert.Contains(t, fr.prompts[0], "AI-generated summary:\nTransformers replace recurrence with attention.")
}

func TestEngine_HallucinationFallback(t *testing.T) {
	e := NewEngine(&fakeRequester{err: errors.New("quota")})
	res := e.HallucinationCheck(context.Background(), "s", "text")
	assert.Equal(t, NeutralHallucination(), res)

	e = NewEngine(&fakeRequester{reply: `{"hallucinations": "not a list"}`})
	assert.Equal(t, NeutralHallucination(), e.HallucinationCheck(context.Background(), "s", "text"))

	e = NewEngine(nil)
	assert.Equal(t, NeutralHallucination(), e.HallucinationCheck(context.Background(), "s", "text"))
}

func TestEngine_HallucinationFractionalClaimCount(t *testing.T) {
	e := NewEngine(&fakeRequester{reply: `{"hallucinations": [], "confidence": 0.95, "supportedClaims": 2.5}`})

	res := e.HallucinationCheck(context.Background(), "s", "text")
	assert.NotEqual(t, NeutralHallucination(), res)
	assert.Equal(t, 2.5, res.SupportedClaims)
	assert.Equal(t, 0.95, res.Confidence)
	assert.Empty(t, res.Hallucinations)
}

func TestEngine_HallucinationUsesExcerpt(t *testing.T) {
	fr := &fakeRequester{reply: `{"hallucinations": [], "confidence": 1, "supportedClaims": 1}`}
	e := NewEngine(fr)

	long := make([]byte, HallucinationWindow+100)
	for i := range long {
		long[i] = 'x'
	}
	e.HallucinationCheck(context.Background(), "s", string(long)+"TAIL")
	assert.NotContains(t, fr.prompts[0], "TAIL")
}

func TestEngine_EvaluateNil(t *testing.T) {
	_, err := NewEngine(nil).Evaluate(context.Background(), nil, "text")
	assert.Error(t, err)
}

func record(score, rouge, semantic float64, acc Ratio, correct, total int, seconds float64) *Record {
	return &Record{
		ID:           "r",
		QualityScore: score,
		Rating:       Rating(score),
		Metrics: Metrics{
			Rouge2:             Rouge{F1: rouge},
			SemanticSimilarity: semantic,
			CitationAccuracy:   CitationResult{Accuracy: acc, CorrectCitations: correct, TotalCitations: total},
			Performance:        PerformanceResult{ProcessingTime: seconds},
		},
	}
}

func TestTracker_StatisticsRecomputed(t *testing.T) {
	ctx := context.Background()
	tr, err := OpenTracker(ctx, memory.New(), "paperlens-storage")
	require.NoError(t, err)
	assert.Equal(t, 0, tr.Statistics().TotalPapersAnalyzed)
	assert.Nil(t, tr.Statistics().LastUpdated)

	require.NoError(t, tr.Add(ctx, record(80, 0.4, 0.7, NewRatio(1, 2), 1, 2, 3)))
	require.NoError(t, tr.Add(ctx, record(60, 0.2, 0.5, Ratio{}, 0, 0, 5)))

	stats := tr.Statistics()
	assert.Equal(t, 2, stats.TotalPapersAnalyzed)
	assert.Equal(t, 8.0, stats.TotalProcessingTime)
	assert.Equal(t, 70.0, stats.AverageQualityScore)
	assert.Equal(t, 0.3, stats.AverageRouge2F1)
	assert.Equal(t, 0.6, stats.AverageSemanticSimilarity)
	assert.Equal(t, 0.5, stats.AverageCitationAccuracy, "undefined accuracies are left out of the mean")
	assert.Equal(t, 2, stats.TotalCitationsVerified)
	assert.Equal(t, 1, stats.CorrectCitations)
	assert.NotNil(t, stats.LastUpdated)
}

func TestTracker_PersistsRecordsAndCounters(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	tr, err := OpenTracker(ctx, store, "ns")
	require.NoError(t, err)
	require.NoError(t, tr.Add(ctx, record(90, 0.5, 0.8, NewRatio(1, 1), 1, 1, 2)))
	require.NoError(t, tr.Increment(ctx, PapersUploaded))
	require.NoError(t, tr.Increment(ctx, PapersUploaded))
	require.NoError(t, tr.Increment(ctx, ChatMessages))
	assert.Error(t, tr.Increment(ctx, Counter("exports")))

	reopened, err := OpenTracker(ctx, store, "ns")
	require.NoError(t, err)
	assert.Len(t, reopened.Records(), 1)
	assert.Equal(t, 1, reopened.Statistics().TotalPapersAnalyzed)
	assert.Equal(t, 2, reopened.UserMetrics().PapersUploaded)
	assert.Equal(t, 1, reopened.UserMetrics().ChatMessages)
	assert.Equal(t, tr.UserMetrics().SessionStart.Unix(), reopened.UserMetrics().SessionStart.Unix())
}

func TestCompareWithBaseline(t *testing.T) {
	rec := record(75, 0.42, 0.78, NewRatio(71, 100), 71, 100, 6.2)

	comps := CompareWithBaseline(rec)
	require.Len(t, comps, 3)

	assert.Equal(t, "SciSummary", comps[0].Baseline.Name)
	assert.Equal(t, 20.0, comps[0].Improvements.Rouge2)
	assert.Equal(t, 27.1, comps[0].Improvements.Speed)

	assert.Equal(t, "ChatPDF", comps[1].Baseline.Name)
	assert.Equal(t, 0.0, comps[1].Improvements.Rouge2)
	assert.Equal(t, 0.0, comps[1].Improvements.SemanticScore)
	assert.Equal(t, 0.0, comps[1].Improvements.CitationAccuracy)
	assert.Equal(t, 0.0, comps[1].Improvements.Speed)

	assert.Equal(t, "Semantic Scholar TLDR", comps[2].Baseline.Name)
	assert.Less(t, comps[2].Improvements.Speed, 0.0)

	assert.Contains(t, RenderComparison(comps), "ChatPDF:")
}

func TestGenerateReport(t *testing.T) {
	empty := GenerateReport(nil)
	assert.Equal(t, 0, empty.Summary.TotalPapers)
	assert.NotNil(t, empty.Evaluations)

	records := []Record{
		*record(85, 0.5, 0.8, NewRatio(1, 1), 1, 1, 2),
		*record(72, 0.3, 0.6, Ratio{}, 0, 0, 4),
		*record(65, 0.1, 0.5, NewRatio(1, 2), 1, 2, 6),
		*record(40, 0.1, 0.4, NewRatio(0, 3), 0, 3, 8),
	}

	report := GenerateReport(records)
	assert.Equal(t, 4, report.Summary.TotalPapers)
	assert.Equal(t, Distribution{Excellent: 1, Good: 1, Fair: 1, NeedsImprovement: 1}, report.Distribution)
	assert.Equal(t, 65.5, report.Summary.AverageQualityScore)
	assert.Equal(t, 5.0, report.Summary.AverageProcessingTime)
	assert.Equal(t, 0.5, report.Summary.AverageCitationAccuracy)

	text := RenderReport(report)
	assert.Contains(t, text, "Total Papers: 4")
	assert.Contains(t, text, "- Excellent: 1 (25.0%)")
}
