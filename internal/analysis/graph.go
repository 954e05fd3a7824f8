package analysis

import (
	"fmt"
	"strings"
)

const (
	GroupCore    = "core"
	GroupFinding = "finding"
	GroupMethod  = "method"
	GroupConcept = "concept"
)

const (
	paperNodeID        = "paper"
	findingLabelLength = 30
	maxConcepts        = 5
	minConceptLength   = 7
)

type GraphNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Group string `json:"group"`
	Val   int    `json:"val"`
}

type GraphLink struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// KnowledgeGraph is a star of concepts around the paper node, ready for a
// force-directed layout.
type KnowledgeGraph struct {
	Nodes []GraphNode `json:"nodes"`
	Links []GraphLink `json:"links"`
}

func (g *KnowledgeGraph) link(n GraphNode) {
	g.Nodes = append(g.Nodes, n)
	g.Links = append(g.Links, GraphLink{Source: paperNodeID, Target: n.ID})
}

// BuildKnowledgeGraph derives the graph from the core fields of a: one node
// per key finding, one for the methodology, and up to five long words of
// the summary as concepts.
func BuildKnowledgeGraph(a *Analysis) *KnowledgeGraph {
	g := &KnowledgeGraph{
		Nodes: []GraphNode{{ID: paperNodeID, Label: "Research Paper", Group: GroupCore, Val: 20}},
		Links: []GraphLink{},
	}

	for i, f := range a.KeyFindings {
		g.link(GraphNode{
			ID:    fmt.Sprintf("finding-%d", i),
			Label: truncate(f.Finding, findingLabelLength) + "...",
			Group: GroupFinding,
			Val:   10,
		})
	}

	if a.Methodology != "" {
		g.link(GraphNode{ID: "method", Label: "Methodology", Group: GroupMethod, Val: 15})
	}

	for i, word := range summaryConcepts(a.Summary) {
		g.link(GraphNode{ID: fmt.Sprintf("concept-%d", i), Label: word, Group: GroupConcept, Val: 5})
	}
	return g
}

func summaryConcepts(summary string) []string {
	var out []string
	for _, w := range strings.Split(summary, " ") {
		if len([]rune(w)) < minConceptLength {
			continue
		}
		out = append(out, w)
		if len(out) == maxConcepts {
			break
		}
	}
	return out
}
