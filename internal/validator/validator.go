// Package validator lints compiled graphs for authoring mistakes the
// compiler accepts.
package validator

import (
	"fmt"
	"strings"

	"github.com/aretw0/pitch/pkg/graph"
)

// Report lists the nodes no user can ever reach from the start node.
type Report struct {
	Unreachable []string
}

// OK reports whether nothing was found.
func (r Report) OK() bool {
	return len(r.Unreachable) == 0
}

func (r Report) String() string {
	if r.OK() {
		return "no issues"
	}
	return fmt.Sprintf("found %d unreachable nodes:\n- %s", len(r.Unreachable), strings.Join(r.Unreachable, "\n- "))
}

// ValidateGraph crawls the graph from its start node. Missing edge targets
// are the compiler's concern and are skipped here.
func ValidateGraph(g *graph.Graph) Report {
	visited := make(map[string]bool, g.Len())
	queue := []string{g.StartName()}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if visited[current] {
			continue
		}
		node, ok := g.Get(current)
		if !ok {
			continue
		}
		visited[current] = true

		for _, target := range node.Edges() {
			if !visited[target] {
				queue = append(queue, target)
			}
		}
	}

	var report Report
	for _, n := range g.Nodes() {
		if !visited[n.Name()] {
			report.Unreachable = append(report.Unreachable, n.Name())
		}
	}
	return report
}
