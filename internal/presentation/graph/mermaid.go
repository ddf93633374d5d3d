package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/pitch/pkg/domain"
	"github.com/aretw0/pitch/pkg/graph"
)

// GraphOverlay contains per-user data to visualize on the graph.
type GraphOverlay struct {
	VisitedNodes []string
	CurrentNode  string
}

// GenerateMermaid produces a Mermaid flowchart of a compiled graph.
// It applies semantic styling:
// - Start: ((Circle))
// - Choice (waits for input): [/Parallelogram/]
// - Help: [[Subroutine]]
// - Default: [Rectangle]
//
// Keyword edges carry the keyword, moves between locations are dotted and
// delayed steps are annotated with their delay.
func GenerateMermaid(g *graph.Graph, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, node := range g.Nodes() {
		safeID := sanitizeMermaidID(node.Name())

		opener, closer := "[", "]"
		switch {
		case node.Name() == g.StartName():
			opener, closer = "((", "))"
		case node.Kind() == graph.KindChoice:
			opener, closer = "[/", "/]"
		case node.Kind() == graph.KindHelp:
			opener, closer = "[[", "]]"
		}

		label := node.Name()
		if d := delayOf(node); !d.IsZero() {
			label = fmt.Sprintf("%s <br/> ⏱️ %s", label, d)
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", safeID, opener, escapeLabel(label), closer)

		switch n := node.(type) {
		case *graph.ChoiceNode:
			for _, c := range n.Choices() {
				fmt.Fprintf(&sb, "    %s -- \"%s\" --> %s\n", safeID, escapeLabel(c.Keyword), sanitizeMermaidID(c.Target))
			}
		case *graph.EffectNode:
			arrow := "-->"
			if _, ok := n.Effect().(domain.Go); ok {
				arrow = "-.->"
			}
			for _, to := range n.Edges() {
				fmt.Fprintf(&sb, "    %s %s %s\n", safeID, arrow, sanitizeMermaidID(to))
			}
		default:
			for _, to := range node.Edges() {
				fmt.Fprintf(&sb, "    %s --> %s\n", safeID, sanitizeMermaidID(to))
			}
		}
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Black text keeps contrast on light fills under both themes.
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		visitedSet := make(map[string]bool)
		for _, name := range overlay.VisitedNodes {
			// History may name nodes a newer script no longer has.
			if _, ok := g.Get(name); !ok {
				continue
			}
			safeID := sanitizeMermaidID(name)
			if !visitedSet[safeID] {
				visitedSet[safeID] = true
				fmt.Fprintf(&sb, "    class %s visited;\n", safeID)
			}
		}

		if _, ok := g.Get(overlay.CurrentNode); ok {
			fmt.Fprintf(&sb, "    class %s current;\n", sanitizeMermaidID(overlay.CurrentNode))
		}
	}

	return sb.String()
}

// OverlayFromHistory marks every visited node and the node the user waits at.
func OverlayFromHistory(h *domain.History) *GraphOverlay {
	o := &GraphOverlay{}
	if h == nil {
		return o
	}
	for _, v := range h.Visits {
		o.VisitedNodes = append(o.VisitedNodes, v.CurrentNode)
	}
	if n := len(h.Visits); n > 0 {
		o.CurrentNode = h.Visits[n-1].NextNode
	}
	return o
}

func delayOf(n graph.Node) domain.Delay {
	switch n := n.(type) {
	case *graph.EffectNode:
		return n.Effect().EffectDelay()
	case *graph.EntryNode:
		return n.Delay()
	}
	return ""
}

func escapeLabel(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	return s
}
