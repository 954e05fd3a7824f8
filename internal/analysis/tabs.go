package analysis

import (
	"fmt"
	"sync"
)

type Tab string

const (
	TabTakeaways    Tab = "takeaways"
	TabOverview     Tab = "overview"
	TabCritique     Tab = "critique"
	TabIdeation     Tab = "ideation"
	TabReferences   Tab = "references"
	TabRelated      Tab = "related"
	TabGlossary     Tab = "glossary"
	TabQuiz         Tab = "quiz"
	TabPresentation Tab = "presentation"
	TabGraph        Tab = "graph"
)

var allTabs = []Tab{
	TabTakeaways, TabOverview, TabCritique, TabIdeation,
	TabReferences, TabRelated, TabGlossary, TabQuiz, TabPresentation, TabGraph,
}

func Tabs() []Tab {
	out := make([]Tab, len(allTabs))
	copy(out, allTabs)
	return out
}

func ParseTab(s string) (Tab, error) {
	for _, t := range allTabs {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown tab %q", s)
}

// Tier is 0 for the core tabs, 1 for critique and ideation, 2 for the rest.
func (t Tab) Tier() int {
	switch t {
	case TabTakeaways, TabOverview:
		return 0
	case TabCritique, TabIdeation:
		return 1
	default:
		return 2
	}
}

// Slot is the tab whose generation backs t. Tabs that share a generation
// share a slot.
func (t Tab) Slot() Tab {
	switch t {
	case TabTakeaways:
		return TabOverview
	case TabIdeation:
		return TabCritique
	default:
		return t
	}
}

// Siblings returns every tab served by t's generation.
func (t Tab) Siblings() []Tab {
	switch t.Slot() {
	case TabOverview:
		return []Tab{TabOverview, TabTakeaways}
	case TabCritique:
		return []Tab{TabCritique, TabIdeation}
	default:
		return []Tab{t}
	}
}

type TabState int

const (
	NotRequested TabState = iota
	Loading
	Ready
	Failed
)

func (s TabState) String() string {
	switch s {
	case NotRequested:
		return "not_requested"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s TabState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Ticket identifies one load of one slot. Results carrying an old ticket are
// dropped.
type Ticket struct {
	Tab     Tab
	Attempt uint64
}

type tabEntry struct {
	state   TabState
	attempt uint64
	err     error
}

// TabTracker is the per-session load state of every tab.
type TabTracker struct {
	mu   sync.Mutex
	tabs map[Tab]*tabEntry
}

func NewTabTracker() *TabTracker {
	return &TabTracker{tabs: make(map[Tab]*tabEntry)}
}

func (t *TabTracker) entry(tab Tab) *tabEntry {
	slot := tab.Slot()
	e, ok := t.tabs[slot]
	if !ok {
		e = &tabEntry{}
		t.tabs[slot] = e
	}
	return e
}

// Begin moves tab to Loading and returns its ticket. It reports false, and
// changes nothing, when the tab is already Loading.
func (t *TabTracker) Begin(tab Tab) (Ticket, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entry(tab)
	if e.state == Loading {
		return Ticket{}, false
	}
	e.attempt++
	e.state = Loading
	e.err = nil
	return Ticket{Tab: tab.Slot(), Attempt: e.attempt}, true
}

// Complete marks the ticket's tab Ready. It reports false for a stale ticket.
func (t *TabTracker) Complete(ticket Ticket) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entry(ticket.Tab)
	if e.attempt != ticket.Attempt || e.state != Loading {
		return false
	}
	e.state = Ready
	return true
}

// Fail marks the ticket's tab Failed. It reports false for a stale ticket.
func (t *TabTracker) Fail(ticket Ticket, err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entry(ticket.Tab)
	if e.attempt != ticket.Attempt || e.state != Loading {
		return false
	}
	e.state = Failed
	e.err = err
	return true
}

// Reset returns a Failed tab to NotRequested.
func (t *TabTracker) Reset(tab Tab) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entry(tab)
	if e.state != Failed {
		return false
	}
	e.state = NotRequested
	e.err = nil
	return true
}

// MarkReady records a tab restored from history without a load.
func (t *TabTracker) MarkReady(tab Tab) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entry(tab)
	e.attempt++
	e.state = Ready
	e.err = nil
}

func (t *TabTracker) State(tab Tab) TabState {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.entry(tab).state
}

func (t *TabTracker) Err(tab Tab) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.entry(tab).err
}

func (t *TabTracker) Snapshot() map[Tab]TabState {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[Tab]TabState, len(allTabs))
	for _, tab := range allTabs {
		out[tab] = t.entry(tab).state
	}
	return out
}
