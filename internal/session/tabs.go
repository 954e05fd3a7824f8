package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/paperlens/backend/internal/analysis"
	"github.com/paperlens/backend/internal/evaluation"
	"github.com/paperlens/backend/internal/llm"
	"github.com/paperlens/backend/internal/metrics"
)

// LoadTab returns the fragment behind tab, generating it on first request.
// Tabs that share a generation are filled together.
func (m *Manager) LoadTab(ctx context.Context, tab analysis.Tab) (any, error) {
	s, err := m.Current()
	if err != nil {
		return nil, err
	}

	if v := s.Cache.Get(tab); v != nil {
		return v, nil
	}

	frag, ticket, err := s.begin(tab)
	if err != nil {
		return nil, err
	}
	if frag != nil {
		for _, sib := range tab.Siblings() {
			s.Cache.Set(sib, s.Analysis().Fragment(sib))
		}
		s.Tabs.MarkReady(tab)
		return frag, nil
	}

	m.logger.Debug("Loading tab", zap.String("tab", string(tab)), zap.String("session", s.ID))
	update, err := m.runTab(ctx, ticket.Tab, s, s.Analysis())
	if err != nil {
		metrics.TabLoads.WithLabelValues(string(ticket.Tab), "failed").Inc()
		if s.Tabs.Fail(ticket, err) {
			if m.isCurrent(s) {
				m.bus.Error(llm.UserMessage(err))
			}
			s.Tabs.Reset(tab)
		}
		m.logger.Error("Tab generation failed",
			zap.String("tab", string(tab)),
			zap.String("fingerprint", s.Fingerprint),
			zap.Error(err),
		)
		return nil, err
	}

	if !m.isCurrent(s) {
		m.logger.Debug("Dropping stale tab result", zap.String("tab", string(tab)), zap.String("session", s.ID))
		return nil, ErrStaleSession
	}
	merged, ok := s.commit(ticket, update)
	if !ok {
		m.logger.Debug("Dropping superseded tab result", zap.String("tab", string(tab)), zap.String("session", s.ID))
		return nil, ErrStaleSession
	}
	metrics.TabLoads.WithLabelValues(string(ticket.Tab), "success").Inc()
	m.persist(ctx, merged)

	if ticket.Tab == analysis.TabCritique {
		m.count(ctx, evaluation.CritiquesGenerated)
	}
	return merged.Fragment(tab), nil
}

// runTab performs the generation backing slot and returns the fields it
// produced. Computed empty results come back as empty, non-nil values.
func (m *Manager) runTab(ctx context.Context, slot analysis.Tab, s *SessionState, a *analysis.Analysis) (*analysis.Analysis, error) {
	switch slot {
	case analysis.TabOverview:
		core, err := m.pipeline.Core(ctx, s.Text, m.history.Persona())
		if err != nil {
			return nil, err
		}
		return &analysis.Analysis{Core: core}, nil

	case analysis.TabCritique:
		adv, err := m.pipeline.Advanced(ctx, s.Text, a.Core)
		if err != nil {
			return nil, err
		}
		if adv.Strengths == nil {
			adv.Strengths = []analysis.Point{}
		}
		if adv.Weaknesses == nil {
			adv.Weaknesses = []analysis.Point{}
		}
		if adv.Hypotheses == nil {
			adv.Hypotheses = []analysis.Hypothesis{}
		}
		return &analysis.Analysis{Advanced: adv}, nil

	case analysis.TabReferences:
		refs, err := m.pipeline.References(ctx, s.Text)
		if err != nil {
			return nil, err
		}
		if refs == nil {
			refs = []analysis.Reference{}
		}
		return &analysis.Analysis{References: refs}, nil

	case analysis.TabRelated:
		related, err := m.pipeline.RelatedQueries(ctx, a.Title, a.Summary)
		if err != nil {
			return nil, err
		}
		return &analysis.Analysis{RelatedQueries: related}, nil

	case analysis.TabGlossary:
		terms, err := m.pipeline.Glossary(ctx, s.Text, m.history.Persona())
		if err != nil {
			return nil, err
		}
		if terms == nil {
			terms = []analysis.GlossaryTerm{}
		}
		return &analysis.Analysis{Glossary: terms}, nil

	case analysis.TabQuiz:
		quiz, err := m.pipeline.Quiz(ctx, a.Abstract())
		if err != nil {
			return nil, err
		}
		return &analysis.Analysis{Quiz: quiz}, nil

	case analysis.TabPresentation:
		deck, err := m.pipeline.Presentation(ctx, a)
		if err != nil {
			return nil, err
		}
		return &analysis.Analysis{Presentation: deck}, nil

	default:
		return nil, fmt.Errorf("no generation for tab %q", slot)
	}
}

// persist writes the session's analysis to history. Failures are logged; the
// session keeps its in-memory result.
func (m *Manager) persist(ctx context.Context, a *analysis.Analysis) {
	if _, err := m.history.Upsert(ctx, a); err != nil {
		m.logger.Error("Failed to save analysis to history", zap.String("fingerprint", a.Fingerprint), zap.Error(err))
	}
}

// TabStates reports the load state of every tab in the open session.
func (m *Manager) TabStates() (map[analysis.Tab]analysis.TabState, error) {
	s, err := m.Current()
	if err != nil {
		return nil, err
	}
	return s.Tabs.Snapshot(), nil
}

// RegenerateSummary rewrites the summary at the requested length and depth
// and stores it as the custom summary.
func (m *Manager) RegenerateSummary(ctx context.Context, length analysis.SummaryLength, depth analysis.SummaryDepth) (string, error) {
	s, err := m.Current()
	if err != nil {
		return "", err
	}

	summary, err := m.pipeline.RegenerateSummary(ctx, s.Text, m.history.Persona(), length.Normalize(), depth.Normalize())
	if err != nil {
		m.bus.Error(llm.UserMessage(err))
		return "", err
	}
	if !m.isCurrent(s) {
		return "", ErrStaleSession
	}

	merged := s.apply(&analysis.Analysis{CustomSummary: summary})
	m.persist(ctx, merged)
	m.bus.Success("Summary regenerated")
	return summary, nil
}

// ExplainFigure explains one figure of the open paper. Explanations are not
// stored.
func (m *Manager) ExplainFigure(ctx context.Context, caption, number string) (string, error) {
	s, err := m.Current()
	if err != nil {
		return "", err
	}

	a := s.Analysis()
	paperContext := "Research paper figure"
	if a.Title != "" {
		paperContext = a.Title
		if a.Summary != "" {
			paperContext += ": " + a.Summary
		}
	}

	out, err := m.pipeline.ExplainFigure(ctx, paperContext, caption, number)
	if err != nil {
		if !errors.Is(err, analysis.ErrMissingCaption) {
			m.bus.Error(llm.UserMessage(err))
		}
		return "", err
	}
	m.count(ctx, evaluation.FiguresExplained)
	return out, nil
}
