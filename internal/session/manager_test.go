package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperlens/backend/internal/analysis"
	"github.com/paperlens/backend/internal/evaluation"
	"github.com/paperlens/backend/internal/events"
	"github.com/paperlens/backend/internal/history"
	"github.com/paperlens/backend/internal/llm"
	"github.com/paperlens/backend/internal/storage/memory"
)

const (
	paperText = "Attention Is All You Need. We propose the Transformer, based solely on attention mechanisms. " +
		"Our results show 28.4 BLEU on the WMT 2014 English-to-German translation task."
	otherText = "A different paper about graph neural networks and message passing."

	coreReply = `{
		"title": "Attention Is All You Need",
		"takeaways": ["attention works", "no recurrence", "faster training"],
		"summary": "The Transformer relies entirely on attention.",
		"problemStatement": "Sequence models are slow.",
		"methodology": "Self-attention.",
		"keyFindings": [{"finding": "28.4 BLEU", "evidence": "28.4 BLEU on the WMT 2014"}]
	}`
	otherCoreReply = `{
		"title": "Graph Networks",
		"takeaways": ["a", "b", "c"],
		"summary": "Message passing.",
		"problemStatement": "p",
		"methodology": "m",
		"keyFindings": []
	}`
	advancedReply = `{
		"strengths": [{"point": "simple", "evidence": "attention only"}],
		"weaknesses": [{"point": "quadratic", "evidence": "n^2"}],
		"hypotheses": [{"hypothesis": "sparse attention", "experimentalDesign": "compare"}]
	}`
)

// scripted answers structured requests by the first required key of the
// schema. A key listed in gates blocks until its channel is closed.
type scripted struct {
	mu      sync.Mutex
	respond func(key, prompt string) (string, error)
	gates   map[string]chan struct{}
	started chan string
	calls   map[string]int
}

func newScripted(respond func(key, prompt string) (string, error)) *scripted {
	return &scripted{
		respond: respond,
		gates:   make(map[string]chan struct{}),
		started: make(chan string, 16),
		calls:   make(map[string]int),
	}
}

func (s *scripted) Request(ctx context.Context, prompt string, schema llm.Schema, advanced bool) (json.RawMessage, error) {
	key := ""
	if req := schema.Required(); len(req) > 0 {
		key = req[0]
	}

	s.mu.Lock()
	s.calls[key]++
	gate := s.gates[key]
	s.mu.Unlock()

	if gate != nil {
		s.started <- key
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	reply, err := s.respond(key, prompt)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(reply), nil
}

func (s *scripted) gate(key string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan struct{})
	s.gates[key] = ch
	return ch
}

func (s *scripted) count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls[key]
}

func defaultReplies(key, prompt string) (string, error) {
	switch key {
	case "title":
		if strings.Contains(prompt, "graph neural networks") {
			return otherCoreReply, nil
		}
		return coreReply, nil
	case "strengths":
		return advancedReply, nil
	case "references":
		return `{"references": []}`, nil
	case "terms":
		return `{"terms": [{"term": "attention", "definition": "weighting"}]}`, nil
	case "summary":
		return `{"summary": "A shorter summary."}`, nil
	case "explanation":
		return `{"explanation": "The figure shows BLEU over time."}`, nil
	case "isValid":
		if strings.Contains(prompt, "chocolate") {
			return `{"isValid": false, "reason": "This is a recipe."}`, nil
		}
		return `{"isValid": true, "reason": ""}`, nil
	default:
		return "", errors.New("no scripted reply for " + key)
	}
}

type fixture struct {
	manager *Manager
	model   *scripted
	history *history.Store
	tracker *evaluation.Tracker
	bus     *events.Bus

	mu     sync.Mutex
	events []events.Event
}

func (f *fixture) published() []events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]events.Event(nil), f.events...)
}

func newFixture(t *testing.T, respond func(key, prompt string) (string, error)) *fixture {
	t.Helper()
	ctx := context.Background()

	backend := memory.New()
	store, err := history.Open(ctx, backend, history.DefaultNamespace)
	require.NoError(t, err)
	tracker, err := evaluation.OpenTracker(ctx, backend, history.DefaultNamespace)
	require.NoError(t, err)

	model := newScripted(respond)
	pipeline := analysis.NewPipeline(model, nil)
	engine := evaluation.NewEngine(model)

	f := &fixture{model: model, history: store, tracker: tracker, bus: events.NewBus()}
	f.bus.Subscribe(func(e events.Event) {
		f.mu.Lock()
		f.events = append(f.events, e)
		f.mu.Unlock()
	})

	f.manager = NewManager(pipeline, store, f.bus, Config{EvaluationEnabled: true, EvaluationTimeout: 5 * time.Second},
		WithEvaluation(engine, tracker))
	return f
}

func TestOpen_AnalysesAndRecords(t *testing.T) {
	f := newFixture(t, defaultReplies)
	ctx := context.Background()

	a, err := f.manager.Open(ctx, "attention.pdf", paperText)
	require.NoError(t, err)
	f.manager.Wait()

	assert.Equal(t, "Attention Is All You Need", a.Title)
	assert.NotEmpty(t, a.Fingerprint)
	assert.Equal(t, "attention.pdf", a.FileName)
	assert.Equal(t, 1, f.model.count("title"))

	s, err := f.manager.Current()
	require.NoError(t, err)
	assert.False(t, s.Restored)
	assert.Equal(t, analysis.Ready, s.Tabs.State(analysis.TabOverview))
	assert.Equal(t, analysis.Ready, s.Tabs.State(analysis.TabTakeaways))
	assert.Equal(t, analysis.NotRequested, s.Tabs.State(analysis.TabCritique))

	stored, ok := f.history.Lookup(a.Fingerprint)
	require.True(t, ok)
	assert.Equal(t, a.Title, stored.Title)

	records := f.tracker.Records()
	require.Len(t, records, 1)
	assert.Equal(t, a.Fingerprint, records[0].Fingerprint)

	um := f.tracker.UserMetrics()
	assert.Equal(t, 1, um.PapersUploaded)
	assert.Equal(t, 1, um.AnalysesGenerated)

	evs := f.published()
	require.NotEmpty(t, evs)
	assert.Equal(t, events.Success, evs[len(evs)-1].Kind)
}

func TestOpen_RestoresFromHistory(t *testing.T) {
	f := newFixture(t, defaultReplies)
	ctx := context.Background()

	first, err := f.manager.Open(ctx, "attention.pdf", paperText)
	require.NoError(t, err)
	_, err = f.manager.LoadTab(ctx, analysis.TabCritique)
	require.NoError(t, err)

	_, err = f.manager.Open(ctx, "other.txt", otherText)
	require.NoError(t, err)

	again, err := f.manager.Open(ctx, "renamed.pdf", paperText)
	require.NoError(t, err)
	f.manager.Wait()

	assert.Equal(t, first.Fingerprint, again.Fingerprint)
	assert.Equal(t, 2, f.model.count("title"), "restored paper is not analysed again")
	assert.Equal(t, 1, f.model.count("strengths"))

	s, err := f.manager.Current()
	require.NoError(t, err)
	assert.True(t, s.Restored)
	assert.Equal(t, analysis.Ready, s.Tabs.State(analysis.TabCritique))

	frag, err := f.manager.LoadTab(ctx, analysis.TabIdeation)
	require.NoError(t, err)
	require.IsType(t, analysis.Advanced{}, frag)
	assert.Len(t, frag.(analysis.Advanced).Hypotheses, 1)
	assert.Equal(t, 1, f.model.count("strengths"))
}

func TestOpen_CoreFailurePublishesUserMessage(t *testing.T) {
	f := newFixture(t, func(key, prompt string) (string, error) {
		return "", &llm.APIError{StatusCode: 429, Message: "RESOURCE_EXHAUSTED quota"}
	})

	_, err := f.manager.Open(context.Background(), "a.pdf", paperText)
	require.Error(t, err)

	_, err = f.manager.Current()
	assert.ErrorIs(t, err, ErrNoDocument)

	evs := f.published()
	require.Len(t, evs, 1)
	assert.Equal(t, events.Error, evs[0].Kind)
	assert.NotContains(t, evs[0].Message, "RESOURCE_EXHAUSTED")
}

func TestOpen_EmptyText(t *testing.T) {
	f := newFixture(t, defaultReplies)
	_, err := f.manager.Open(context.Background(), "a.txt", "")
	assert.ErrorIs(t, err, analysis.ErrEmptyDocument)
}

func TestLoadTab_CritiqueFillsIdeation(t *testing.T) {
	f := newFixture(t, defaultReplies)
	ctx := context.Background()

	_, err := f.manager.Open(ctx, "a.pdf", paperText)
	require.NoError(t, err)

	frag, err := f.manager.LoadTab(ctx, analysis.TabCritique)
	require.NoError(t, err)
	critique := frag.(analysis.Advanced)
	assert.Len(t, critique.Strengths, 1)
	assert.Nil(t, critique.Hypotheses)

	frag, err = f.manager.LoadTab(ctx, analysis.TabIdeation)
	require.NoError(t, err)
	assert.Len(t, frag.(analysis.Advanced).Hypotheses, 1)
	assert.Equal(t, 1, f.model.count("strengths"))

	states, err := f.manager.TabStates()
	require.NoError(t, err)
	assert.Equal(t, analysis.Ready, states[analysis.TabIdeation])

	s, _ := f.manager.Current()
	stored, ok := f.history.Lookup(s.Fingerprint)
	require.True(t, ok)
	assert.Len(t, stored.Strengths, 1)

	assert.Equal(t, 1, f.tracker.UserMetrics().CritiquesGenerated)
}

func TestLoadTab_EmptyReferencesAreAResult(t *testing.T) {
	f := newFixture(t, defaultReplies)
	ctx := context.Background()

	_, err := f.manager.Open(ctx, "a.pdf", paperText)
	require.NoError(t, err)

	frag, err := f.manager.LoadTab(ctx, analysis.TabReferences)
	require.NoError(t, err)
	assert.Equal(t, []analysis.Reference{}, frag)

	_, err = f.manager.LoadTab(ctx, analysis.TabReferences)
	require.NoError(t, err)
	assert.Equal(t, 1, f.model.count("references"))
}

func TestLoadTab_NoDocument(t *testing.T) {
	f := newFixture(t, defaultReplies)
	_, err := f.manager.LoadTab(context.Background(), analysis.TabGlossary)
	assert.ErrorIs(t, err, ErrNoDocument)
}

func TestLoadTab_FailureThenRetry(t *testing.T) {
	var mu sync.Mutex
	fail := true
	f := newFixture(t, func(key, prompt string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if key == "terms" && fail {
			return "", &llm.APIError{StatusCode: 503, Message: "overloaded"}
		}
		return defaultReplies(key, prompt)
	})
	ctx := context.Background()

	_, err := f.manager.Open(ctx, "a.pdf", paperText)
	require.NoError(t, err)

	_, err = f.manager.LoadTab(ctx, analysis.TabGlossary)
	require.Error(t, err)
	s, _ := f.manager.Current()
	assert.Equal(t, analysis.NotRequested, s.Tabs.State(analysis.TabGlossary), "a failed tab can be requested again")
	assert.False(t, s.Cache.Has(analysis.TabGlossary))

	evs := f.published()
	assert.Equal(t, events.Error, evs[len(evs)-1].Kind)
	assert.Equal(t, llm.UserMessage(err), evs[len(evs)-1].Message)

	mu.Lock()
	fail = false
	mu.Unlock()

	frag, err := f.manager.LoadTab(ctx, analysis.TabGlossary)
	require.NoError(t, err)
	assert.Len(t, frag, 1)
	assert.Equal(t, analysis.Ready, s.Tabs.State(analysis.TabGlossary))
}

func TestLoadTab_TiersLoadIndependently(t *testing.T) {
	f := newFixture(t, defaultReplies)
	ctx := context.Background()

	_, err := f.manager.Open(ctx, "a.pdf", paperText)
	require.NoError(t, err)

	release := f.model.gate("strengths")
	done := make(chan error, 1)
	go func() {
		_, err := f.manager.LoadTab(ctx, analysis.TabCritique)
		done <- err
	}()
	<-f.model.started

	frag, err := f.manager.LoadTab(ctx, analysis.TabReferences)
	require.NoError(t, err)
	assert.Equal(t, []analysis.Reference{}, frag)

	s, err := f.manager.Current()
	require.NoError(t, err)
	assert.Equal(t, analysis.Loading, s.Tabs.State(analysis.TabCritique))
	assert.Equal(t, analysis.Ready, s.Tabs.State(analysis.TabReferences))
	mid := s.Analysis()
	assert.NotNil(t, mid.References)
	assert.Nil(t, mid.Strengths)
	assert.Nil(t, mid.Hypotheses)

	close(release)
	require.NoError(t, <-done)

	final := s.Analysis()
	assert.Len(t, final.Strengths, 1)
	assert.Len(t, final.Hypotheses, 1)
	assert.Equal(t, []analysis.Reference{}, final.References)
	assert.Nil(t, final.Glossary)
	assert.Equal(t, 1, f.model.count("strengths"))
	assert.Equal(t, 1, f.model.count("references"))
}

func TestLoadTab_GraphNeedsNoModelCall(t *testing.T) {
	f := newFixture(t, defaultReplies)
	ctx := context.Background()

	_, err := f.manager.LoadTab(ctx, analysis.TabGraph)
	assert.ErrorIs(t, err, ErrNoDocument)

	_, err = f.manager.Open(ctx, "a.pdf", paperText)
	require.NoError(t, err)
	f.manager.Wait()

	frag, err := f.manager.LoadTab(ctx, analysis.TabGraph)
	require.NoError(t, err)
	graph, ok := frag.(*analysis.KnowledgeGraph)
	require.True(t, ok)

	// paper, one finding, methodology, and three long summary words
	assert.Len(t, graph.Nodes, 6)
	assert.Len(t, graph.Links, 5)
	assert.Equal(t, 1, f.model.count("title"))

	s, _ := f.manager.Current()
	assert.Equal(t, analysis.Ready, s.Tabs.State(analysis.TabGraph))
}

func TestLoadTab_RejectsDuplicateLoad(t *testing.T) {
	f := newFixture(t, defaultReplies)
	ctx := context.Background()

	_, err := f.manager.Open(ctx, "a.pdf", paperText)
	require.NoError(t, err)

	release := f.model.gate("references")
	done := make(chan error, 1)
	go func() {
		_, err := f.manager.LoadTab(ctx, analysis.TabReferences)
		done <- err
	}()
	<-f.model.started

	_, err = f.manager.LoadTab(ctx, analysis.TabReferences)
	assert.ErrorIs(t, err, ErrTabLoading)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, f.model.count("references"))
}

func TestBeginCommit_SiblingNeverRegenerates(t *testing.T) {
	f := newFixture(t, defaultReplies)
	ctx := context.Background()

	_, err := f.manager.Open(ctx, "a.pdf", paperText)
	require.NoError(t, err)
	s, err := f.manager.Current()
	require.NoError(t, err)

	frag, ticket, err := s.begin(analysis.TabCritique)
	require.NoError(t, err)
	assert.Nil(t, frag)

	_, _, err = s.begin(analysis.TabIdeation)
	assert.ErrorIs(t, err, ErrTabLoading)

	update := &analysis.Analysis{Advanced: analysis.Advanced{
		Strengths:  []analysis.Point{{Point: "clear ablations", Evidence: "Table 3"}},
		Hypotheses: []analysis.Hypothesis{{Hypothesis: "scales further", ExperimentalDesign: "train larger"}},
	}}
	merged, ok := s.commit(ticket, update)
	require.True(t, ok)
	assert.Len(t, merged.Hypotheses, 1)

	assert.Equal(t, analysis.Ready, s.Tabs.State(analysis.TabIdeation))
	assert.True(t, s.Cache.Has(analysis.TabIdeation))

	frag, next, err := s.begin(analysis.TabIdeation)
	require.NoError(t, err)
	assert.Equal(t, analysis.Ticket{}, next)
	assert.Len(t, frag.(analysis.Advanced).Hypotheses, 1)

	_, ok = s.commit(ticket, update)
	assert.False(t, ok)
}

func TestLoadTab_DropsResultForReplacedSession(t *testing.T) {
	f := newFixture(t, defaultReplies)
	ctx := context.Background()

	_, err := f.manager.Open(ctx, "a.pdf", paperText)
	require.NoError(t, err)

	release := f.model.gate("terms")
	done := make(chan error, 1)
	go func() {
		_, err := f.manager.LoadTab(ctx, analysis.TabGlossary)
		done <- err
	}()
	<-f.model.started

	_, err = f.manager.Open(ctx, "b.txt", otherText)
	require.NoError(t, err)

	close(release)
	assert.ErrorIs(t, <-done, ErrStaleSession)

	s, err := f.manager.Current()
	require.NoError(t, err)
	assert.Nil(t, s.Analysis().Glossary)
	assert.False(t, s.Cache.Has(analysis.TabGlossary))
}

func TestRegenerateSummaryAndFigure(t *testing.T) {
	f := newFixture(t, defaultReplies)
	ctx := context.Background()

	_, err := f.manager.RegenerateSummary(ctx, analysis.LengthShort, analysis.DepthTechnical)
	assert.ErrorIs(t, err, ErrNoDocument)

	_, err = f.manager.Open(ctx, "a.pdf", paperText)
	require.NoError(t, err)

	summary, err := f.manager.RegenerateSummary(ctx, "bogus", "")
	require.NoError(t, err)
	assert.Equal(t, "A shorter summary.", summary)

	s, _ := f.manager.Current()
	assert.Equal(t, "A shorter summary.", s.Analysis().CustomSummary)
	stored, _ := f.history.Lookup(s.Fingerprint)
	assert.Equal(t, "A shorter summary.", stored.CustomSummary)

	explanation, err := f.manager.ExplainFigure(ctx, "BLEU scores", "3")
	require.NoError(t, err)
	assert.Contains(t, explanation, "BLEU")
	assert.Equal(t, 1, f.tracker.UserMetrics().FiguresExplained)

	_, err = f.manager.ExplainFigure(ctx, "", "")
	assert.ErrorIs(t, err, analysis.ErrMissingCaption)
}

func TestTagsPersonaAndClose(t *testing.T) {
	f := newFixture(t, defaultReplies)
	ctx := context.Background()

	a, err := f.manager.Open(ctx, "a.pdf", paperText)
	require.NoError(t, err)

	require.NoError(t, f.manager.UpdateTags(ctx, a.Fingerprint, []string{"nlp", "attention"}))
	s, _ := f.manager.Current()
	assert.Equal(t, []string{"nlp", "attention"}, s.Analysis().Tags)
	stored, _ := f.history.Lookup(a.Fingerprint)
	assert.Equal(t, []string{"nlp", "attention"}, stored.Tags)

	assert.ErrorIs(t, f.manager.UpdateTags(ctx, "missing", nil), history.ErrNotFound)

	p, err := f.manager.SetPersona(ctx, "pirate")
	require.NoError(t, err)
	assert.Equal(t, analysis.PersonaEngineer, p)
	_, err = f.manager.SetPersona(ctx, analysis.PersonaStudent)
	require.NoError(t, err)
	assert.Equal(t, analysis.PersonaStudent, f.history.Persona())

	f.manager.Close()
	_, err = f.manager.Current()
	assert.ErrorIs(t, err, ErrNoDocument)
	assert.Equal(t, 0, s.Cache.Len())
	assert.Equal(t, 1, f.history.Len())
}

func TestSynthesize(t *testing.T) {
	f := newFixture(t, func(key, prompt string) (string, error) {
		if key == "overallSynthesis" {
			return `{"overallSynthesis": "Both use neural nets.", "commonThemes": [], "conflictingFindings": [], "conceptEvolution": "x"}`, nil
		}
		return defaultReplies(key, prompt)
	})
	ctx := context.Background()

	a, err := f.manager.Open(ctx, "a.pdf", paperText)
	require.NoError(t, err)

	_, err = f.manager.Synthesize(ctx, []string{a.Fingerprint})
	assert.ErrorIs(t, err, analysis.ErrTooFewPapers)

	_, err = f.manager.Synthesize(ctx, []string{a.Fingerprint, "nope"})
	assert.ErrorIs(t, err, history.ErrNotFound)

	b, err := f.manager.Open(ctx, "b.txt", otherText)
	require.NoError(t, err)

	out, err := f.manager.Synthesize(ctx, []string{a.Fingerprint, b.Fingerprint})
	require.NoError(t, err)
	assert.Equal(t, "Both use neural nets.", out.OverallSynthesis)
}

func TestValidateBatch(t *testing.T) {
	f := newFixture(t, defaultReplies)

	files := []Upload{
		{Name: "paper.txt", Data: []byte(paperText)},
		{Name: "malware.exe", Data: []byte("MZ")},
		{Name: "blank.txt", Data: nil},
		{Name: "cake.txt", Data: []byte("Melt the chocolate and fold in the flour.")},
	}

	results, err := f.manager.ValidateBatch(context.Background(), files)
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.True(t, results[0].Valid)
	require.NotNil(t, results[0].Document)
	assert.Contains(t, results[0].Document.Text, "Transformer")

	assert.False(t, results[1].Valid)
	assert.Contains(t, results[1].Reason, "Unsupported")

	assert.False(t, results[2].Valid)
	assert.Equal(t, "File is empty.", results[2].Reason)

	assert.False(t, results[3].Valid)
	assert.Equal(t, "This is a recipe.", results[3].Reason)

	_, err = f.manager.Open(context.Background(), "paper.txt", results[0].Document.Text)
	require.NoError(t, err)
	f.manager.Wait()
	assert.Equal(t, 2, f.model.count("isValid"))

	again, err := f.manager.ValidateBatch(context.Background(), files[:1])
	require.NoError(t, err)
	assert.True(t, again[0].Valid)
	assert.NotNil(t, again[0].Document)
	assert.Equal(t, 2, f.model.count("isValid"), "papers already in history are not validated again")

	errorsPublished := 0
	for _, e := range f.published() {
		if e.Kind == events.Error {
			errorsPublished++
		}
	}
	assert.Equal(t, 3, errorsPublished)
}
