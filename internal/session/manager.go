// Package session coordinates one open paper: its analysis tiers, the
// per-tab cache, history persistence and background evaluation.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/paperlens/backend/internal/analysis"
	"github.com/paperlens/backend/internal/cache"
	"github.com/paperlens/backend/internal/evaluation"
	"github.com/paperlens/backend/internal/events"
	"github.com/paperlens/backend/internal/history"
	"github.com/paperlens/backend/internal/llm"
	"github.com/paperlens/backend/internal/metrics"
	"github.com/paperlens/backend/pkg/fingerprint"
)

var (
	ErrNoDocument   = errors.New("no document is open")
	ErrTabLoading   = errors.New("tab is already loading")
	ErrStaleSession = errors.New("the document changed while the request was running")
)

// Analyzer is the analysis pipeline.
type Analyzer interface {
	Core(ctx context.Context, text string, persona analysis.Persona) (analysis.Core, error)
	Advanced(ctx context.Context, text string, core analysis.Core) (analysis.Advanced, error)
	References(ctx context.Context, text string) ([]analysis.Reference, error)
	RelatedQueries(ctx context.Context, title, summary string) (*analysis.RelatedQueries, error)
	Glossary(ctx context.Context, text string, persona analysis.Persona) ([]analysis.GlossaryTerm, error)
	ExplainFigure(ctx context.Context, paperContext, caption, number string) (string, error)
	RegenerateSummary(ctx context.Context, text string, persona analysis.Persona, length analysis.SummaryLength, depth analysis.SummaryDepth) (string, error)
	Quiz(ctx context.Context, abstract string) (*analysis.Quiz, error)
	Presentation(ctx context.Context, a *analysis.Analysis) (*analysis.Presentation, error)
	Synthesize(ctx context.Context, papers []*analysis.Analysis) (*analysis.Synthesis, error)
	ValidateDocument(ctx context.Context, text string) (analysis.Validation, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, a *analysis.Analysis, sourceText string) (*evaluation.Record, error)
}

// Recorder keeps evaluation records and usage counters.
type Recorder interface {
	Add(ctx context.Context, rec *evaluation.Record) error
	Increment(ctx context.Context, c evaluation.Counter) error
}

// SessionState lives only while a paper is open. Nothing in it is persisted
// directly; finished results flow into the history store.
type SessionState struct {
	ID          string
	Fingerprint string
	FileName    string
	Text        string
	OpenedAt    time.Time
	Restored    bool

	Cache *cache.ResultCache
	Tabs  *analysis.TabTracker

	mu       sync.Mutex
	analysis *analysis.Analysis
}

// Analysis returns a copy of the session's current analysis.
func (s *SessionState) Analysis() *analysis.Analysis {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.analysis.Clone()
}

// begin returns the computed fragment behind tab, or starts a load of it.
// The check and the start happen under one lock so a result being committed
// for a sibling tab is never generated twice.
func (s *SessionState) begin(tab analysis.Tab) (any, analysis.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if frag := s.analysis.Fragment(tab); frag != nil {
		return frag, analysis.Ticket{}, nil
	}
	ticket, ok := s.Tabs.Begin(tab)
	if !ok {
		return nil, analysis.Ticket{}, ErrTabLoading
	}
	return nil, ticket, nil
}

// commit marks ticket's slot Ready and merges update in one step. It reports
// false, and applies nothing, for a stale ticket.
func (s *SessionState) commit(ticket analysis.Ticket, update *analysis.Analysis) (*analysis.Analysis, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Tabs.Complete(ticket) {
		return nil, false
	}
	s.analysis.Merge(update)
	for _, tab := range ticket.Tab.Siblings() {
		s.Cache.Set(tab, s.analysis.Fragment(tab))
	}
	return s.analysis.Clone(), true
}

// apply merges update into the analysis and refreshes the cache for tabs.
func (s *SessionState) apply(update *analysis.Analysis, tabs ...analysis.Tab) *analysis.Analysis {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.analysis.Merge(update)
	for _, tab := range tabs {
		s.Cache.Set(tab, s.analysis.Fragment(tab))
	}
	return s.analysis.Clone()
}

type Config struct {
	EvaluationEnabled  bool
	EvaluationTimeout  time.Duration
	ValidateConcurrent int
	MaxFileSize        int64
}

func (c *Config) setDefaults() {
	if c.EvaluationTimeout <= 0 {
		c.EvaluationTimeout = 2 * time.Minute
	}
	if c.ValidateConcurrent <= 0 {
		c.ValidateConcurrent = 3
	}
}

type Manager struct {
	pipeline  Analyzer
	history   *history.Store
	evaluator Evaluator
	recorder  Recorder
	bus       *events.Bus
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.RWMutex
	current *SessionState
	opens   uint64

	background sync.WaitGroup
}

type Option func(*Manager)

func WithEvaluation(e Evaluator, r Recorder) Option {
	return func(m *Manager) {
		m.evaluator = e
		m.recorder = r
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(pipeline Analyzer, store *history.Store, bus *events.Bus, cfg Config, opts ...Option) *Manager {
	cfg.setDefaults()
	m := &Manager{
		pipeline: pipeline,
		history:  store,
		bus:      bus,
		cfg:      cfg,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.bus == nil {
		m.bus = events.NewBus()
	}
	return m
}

func (m *Manager) Bus() *events.Bus { return m.bus }

func (m *Manager) History() *history.Store { return m.history }

// Current returns the open session, or ErrNoDocument.
func (m *Manager) Current() (*SessionState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current == nil {
		return nil, ErrNoDocument
	}
	return m.current, nil
}

func (m *Manager) isCurrent(s *SessionState) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.current == s
}

// Open analyses text, or restores it from history when the same content was
// seen before, and makes it the open session.
func (m *Manager) Open(ctx context.Context, fileName, text string) (*analysis.Analysis, error) {
	if text == "" {
		return nil, analysis.ErrEmptyDocument
	}

	m.mu.Lock()
	m.opens++
	seq := m.opens
	m.mu.Unlock()

	fp := fingerprint.Compute(text)
	m.count(ctx, evaluation.PapersUploaded)

	if cached, ok := m.history.Lookup(fp); ok {
		m.logger.Info("Restoring analysis from history", zap.String("fingerprint", fp))
		if cached.FullText == "" {
			cached.FullText = text
		}
		if fileName != "" {
			cached.FileName = fileName
		}
		s := m.newSession(fp, fileName, text, cached)
		s.Restored = true
		if !m.install(seq, s) {
			return nil, ErrStaleSession
		}
		m.bus.Info("Loaded analysis from history")
		return s.Analysis(), nil
	}

	persona := m.history.Persona()
	start := m.now()
	core, err := m.pipeline.Core(ctx, text, persona)
	if err != nil {
		metrics.TabLoads.WithLabelValues(string(analysis.TabOverview), "failed").Inc()
		m.logger.Error("Core analysis failed", zap.String("fingerprint", fp), zap.Error(err))
		m.bus.Error(llm.UserMessage(err))
		return nil, err
	}
	metrics.TabLoads.WithLabelValues(string(analysis.TabOverview), "success").Inc()

	a := &analysis.Analysis{
		Fingerprint: fp,
		Core:        core,
		FileName:    fileName,
		FullText:    text,
		AnalyzedAt:  m.now(),
	}

	s := m.newSession(fp, fileName, text, a)
	if !m.install(seq, s) {
		return nil, ErrStaleSession
	}

	if _, err := m.history.Upsert(ctx, a); err != nil {
		m.logger.Error("Failed to save analysis to history", zap.String("fingerprint", fp), zap.Error(err))
	}
	m.count(ctx, evaluation.AnalysesGenerated)

	m.logger.Info("Core analysis complete",
		zap.String("fingerprint", fp),
		zap.String("title", core.Title),
		zap.Duration("duration", m.now().Sub(start)),
	)
	m.bus.Success("Analysis complete")

	m.evaluateInBackground(a.Clone(), text)
	return s.Analysis(), nil
}

func (m *Manager) newSession(fp, fileName, text string, a *analysis.Analysis) *SessionState {
	s := &SessionState{
		ID:          uuid.New().String(),
		Fingerprint: fp,
		FileName:    fileName,
		Text:        text,
		OpenedAt:    m.now(),
		Cache:       cache.NewResultCache(),
		Tabs:        analysis.NewTabTracker(),
		analysis:    a,
	}
	s.Cache.Prime(a)
	for _, tab := range analysis.Tabs() {
		if s.Cache.Has(tab) {
			s.Tabs.MarkReady(tab)
		}
	}
	return s
}

// install replaces the open session unless a later Open has started since.
func (m *Manager) install(seq uint64, s *SessionState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if seq != m.opens {
		m.logger.Debug("Discarding superseded open", zap.String("session", s.ID))
		return false
	}
	if m.current != nil {
		m.current.Cache.Clear()
	}
	m.current = s
	metrics.ActiveSessions.Set(1)
	return true
}

// Close drops the open session and its cache. History is unaffected.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.current.Cache.Clear()
		m.current = nil
	}
	metrics.ActiveSessions.Set(0)
}

// Wait blocks until background evaluations finish.
func (m *Manager) Wait() {
	m.background.Wait()
}

func (m *Manager) evaluateInBackground(a *analysis.Analysis, text string) {
	if !m.cfg.EvaluationEnabled || m.evaluator == nil {
		return
	}

	m.background.Add(1)
	go func() {
		defer m.background.Done()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("Evaluation panicked", zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.EvaluationTimeout)
		defer cancel()

		rec, err := m.evaluator.Evaluate(ctx, a, text)
		if err != nil {
			m.logger.Warn("Evaluation failed", zap.String("fingerprint", a.Fingerprint), zap.Error(err))
			return
		}
		if m.recorder == nil {
			return
		}
		if err := m.recorder.Add(ctx, rec); err != nil {
			m.logger.Warn("Failed to record evaluation", zap.String("fingerprint", a.Fingerprint), zap.Error(err))
		}
	}()
}

func (m *Manager) count(ctx context.Context, c evaluation.Counter) {
	if m.recorder == nil {
		return
	}
	if err := m.recorder.Increment(ctx, c); err != nil {
		m.logger.Warn("Failed to update usage counter", zap.String("counter", string(c)), zap.Error(err))
	}
}

// SetPersona changes the persona used for new analyses.
func (m *Manager) SetPersona(ctx context.Context, p analysis.Persona) (analysis.Persona, error) {
	p = p.Normalize()
	if err := m.history.SetPersona(ctx, p); err != nil {
		return "", err
	}
	return p, nil
}

// UpdateTags sets the tags of a history entry, and of the open session when
// it shows the same paper.
func (m *Manager) UpdateTags(ctx context.Context, fp string, tags []string) error {
	if err := m.history.UpdateTags(ctx, fp, tags); err != nil {
		return err
	}
	if s, err := m.Current(); err == nil && s.Fingerprint == fp {
		if tags == nil {
			tags = []string{}
		}
		s.apply(&analysis.Analysis{Tags: tags})
	}
	return nil
}

// Synthesize compares papers from history.
func (m *Manager) Synthesize(ctx context.Context, fingerprints []string) (*analysis.Synthesis, error) {
	papers := make([]*analysis.Analysis, 0, len(fingerprints))
	for _, fp := range fingerprints {
		a, ok := m.history.Lookup(fp)
		if !ok {
			return nil, fmt.Errorf("%s: %w", fp, history.ErrNotFound)
		}
		papers = append(papers, a)
	}

	out, err := m.pipeline.Synthesize(ctx, papers)
	if err != nil {
		if !errors.Is(err, analysis.ErrTooFewPapers) {
			m.bus.Error(llm.UserMessage(err))
		}
		return nil, err
	}
	m.bus.Success("Synthesis complete")
	return out, nil
}
