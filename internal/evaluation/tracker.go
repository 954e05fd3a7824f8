package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RecordStore is the part of the storage layer the tracker needs.
type RecordStore interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, data []byte) error
	AppendRecord(ctx context.Context, list string, data []byte) error
	Records(ctx context.Context, list string) ([][]byte, error)
}

type Statistics struct {
	TotalPapersAnalyzed       int        `json:"totalPapersAnalyzed"`
	TotalProcessingTime       float64    `json:"totalProcessingTime"`
	AverageQualityScore       float64    `json:"averageQualityScore"`
	AverageRouge2F1           float64    `json:"averageRouge2F1"`
	AverageSemanticSimilarity float64    `json:"averageSemanticSimilarity"`
	AverageCitationAccuracy   float64    `json:"averageCitationAccuracy"`
	TotalCitationsVerified    int        `json:"totalCitationsVerified"`
	CorrectCitations          int        `json:"correctCitations"`
	LastUpdated               *time.Time `json:"lastUpdated"`
}

type Counter string

const (
	PapersUploaded     Counter = "papersUploaded"
	AnalysesGenerated  Counter = "analysesGenerated"
	CritiquesGenerated Counter = "critiquesGenerated"
	FiguresExplained   Counter = "figuresExplained"
	ChatMessages       Counter = "chatMessages"
)

type UserMetrics struct {
	SessionStart       time.Time `json:"sessionStart"`
	PapersUploaded     int       `json:"papersUploaded"`
	AnalysesGenerated  int       `json:"analysesGenerated"`
	CritiquesGenerated int       `json:"critiquesGenerated"`
	FiguresExplained   int       `json:"figuresExplained"`
	ChatMessages       int       `json:"chatMessages"`
}

func (u *UserMetrics) field(c Counter) *int {
	switch c {
	case PapersUploaded:
		return &u.PapersUploaded
	case AnalysesGenerated:
		return &u.AnalysesGenerated
	case CritiquesGenerated:
		return &u.CritiquesGenerated
	case FiguresExplained:
		return &u.FiguresExplained
	case ChatMessages:
		return &u.ChatMessages
	default:
		return nil
	}
}

// Tracker is the append-only list of evaluation records plus the statistics
// derived from it.
type Tracker struct {
	mu      sync.RWMutex
	store   RecordStore
	list    string
	userKey string
	records []Record
	stats   Statistics
	user    UserMetrics
	now     func() time.Time
	logger  *zap.Logger
}

type TrackerOption func(*Tracker)

func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

func WithTrackerLogger(l *zap.Logger) TrackerOption {
	return func(t *Tracker) { t.logger = l }
}

// OpenTracker reads the records saved under namespace.
func OpenTracker(ctx context.Context, store RecordStore, namespace string, opts ...TrackerOption) (*Tracker, error) {
	t := &Tracker{
		store:   store,
		list:    namespace + ":evaluations",
		userKey: namespace + ":user-metrics",
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}

	raw, err := store.Records(ctx, t.list)
	if err != nil {
		return nil, fmt.Errorf("failed to load evaluations: %w", err)
	}
	for _, data := range raw {
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			t.logger.Warn("Skipping unreadable evaluation record", zap.Error(err))
			continue
		}
		t.records = append(t.records, rec)
	}

	data, found, err := store.Load(ctx, t.userKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load user metrics: %w", err)
	}
	if found {
		if err := json.Unmarshal(data, &t.user); err != nil {
			t.logger.Warn("Discarding unreadable user metrics", zap.Error(err))
			t.user = UserMetrics{}
		}
	}
	if t.user.SessionStart.IsZero() {
		t.user.SessionStart = t.now()
	}

	if len(t.records) > 0 {
		t.recompute()
	}
	return t, nil
}

// Add appends rec and recomputes the statistics over every record.
func (t *Tracker) Add(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal evaluation: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.store.AppendRecord(ctx, t.list, data); err != nil {
		return fmt.Errorf("failed to persist evaluation: %w", err)
	}
	t.records = append(t.records, *rec)
	t.recompute()

	t.logger.Debug("Evaluation recorded",
		zap.String("id", rec.ID),
		zap.Int("total", t.stats.TotalPapersAnalyzed),
	)
	return nil
}

func (t *Tracker) recompute() {
	stats := Statistics{TotalPapersAnalyzed: len(t.records)}
	if len(t.records) == 0 {
		t.stats = stats
		return
	}

	var quality, rouge, semantic, citation float64
	defined := 0
	for _, r := range t.records {
		m := r.Metrics
		stats.TotalProcessingTime += m.Performance.ProcessingTime
		quality += r.QualityScore
		rouge += m.Rouge2.F1
		semantic += m.SemanticSimilarity
		if m.CitationAccuracy.Accuracy.Defined {
			citation += m.CitationAccuracy.Accuracy.Value
			defined++
		}
		stats.TotalCitationsVerified += m.CitationAccuracy.TotalCitations
		stats.CorrectCitations += m.CitationAccuracy.CorrectCitations
	}

	n := float64(len(t.records))
	stats.TotalProcessingTime = round(stats.TotalProcessingTime, 2)
	stats.AverageQualityScore = round(quality/n, 2)
	stats.AverageRouge2F1 = round(rouge/n, 4)
	stats.AverageSemanticSimilarity = round(semantic/n, 4)
	if defined > 0 {
		stats.AverageCitationAccuracy = round(citation/float64(defined), 4)
	}
	now := t.now()
	stats.LastUpdated = &now

	t.stats = stats
}

func (t *Tracker) Records() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Record, len(t.records))
	copy(out, t.records)
	return out
}

func (t *Tracker) Statistics() Statistics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.stats
}

func (t *Tracker) UserMetrics() UserMetrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.user
}

// Increment bumps one user counter and saves the counters.
func (t *Tracker) Increment(ctx context.Context, c Counter) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	f := t.user.field(c)
	if f == nil {
		return fmt.Errorf("unknown counter %q", c)
	}
	*f++

	data, err := json.Marshal(t.user)
	if err != nil {
		return fmt.Errorf("failed to marshal user metrics: %w", err)
	}
	if err := t.store.Save(ctx, t.userKey, data); err != nil {
		return fmt.Errorf("failed to persist user metrics: %w", err)
	}
	return nil
}
