// Package graph holds the compiled dialogue: a name-indexed registry of
// nodes plus the node new users start at.
//
// A Graph is built once by the compiler and is read-only afterwards, so it
// can be shared by concurrent runs without locking.
package graph

import (
	"errors"
	"fmt"

	"github.com/aretw0/pitch/pkg/domain"
)

// Graph is a name-indexed registry of nodes.
type Graph struct {
	nodes map[string]Node
	order []string
	start string
	// homes maps a node to the choice node of its location.
	homes map[string]string
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]Node), homes: make(map[string]string)}
}

// Register adds a node. Names must be unique.
func (g *Graph) Register(n Node) error {
	if _, exists := g.nodes[n.Name()]; exists {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateNodeName, n.Name())
	}
	g.nodes[n.Name()] = n
	g.order = append(g.order, n.Name())
	return nil
}

// SetStart designates the node new users begin at.
func (g *Graph) SetStart(name string) error {
	if _, ok := g.nodes[name]; !ok {
		return fmt.Errorf("start %w: %s", domain.ErrNodeNotFound, name)
	}
	g.start = name
	return nil
}

// Start returns the start node, or nil for an empty graph.
func (g *Graph) Start() Node {
	return g.nodes[g.start]
}

// SetHome records the choice node a user waits at while in node's location.
func (g *Graph) SetHome(name, choice string) {
	g.homes[name] = choice
}

// Home returns the choice node of name's location. Choice nodes are their
// own home; the shared help node has none.
func (g *Graph) Home(name string) (string, bool) {
	if n, ok := g.nodes[name]; ok && n.Kind() == KindChoice {
		return name, true
	}
	home, ok := g.homes[name]
	return home, ok
}

// StartName returns the name of the start node.
func (g *Graph) StartName() string {
	return g.start
}

// Get looks up a node by name.
func (g *Graph) Get(name string) (Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Nodes returns every node in registration order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.nodes[name])
	}
	return out
}

// Len returns the number of registered nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Validate checks that a start node is set and every edge resolves.
func (g *Graph) Validate() error {
	var errs []error
	if g.start == "" {
		errs = append(errs, errors.New("graph has no start node"))
	}
	for _, name := range g.order {
		for _, edge := range g.nodes[name].Edges() {
			if _, ok := g.nodes[edge]; !ok {
				errs = append(errs, fmt.Errorf("%s -> %w: %s", name, domain.ErrNodeNotFound, edge))
			}
		}
		if home, ok := g.homes[name]; ok {
			if n, found := g.nodes[home]; !found || n.Kind() != KindChoice {
				errs = append(errs, fmt.Errorf("%s home %w: %s", name, domain.ErrNodeNotFound, home))
			}
		}
	}
	return errors.Join(errs...)
}
