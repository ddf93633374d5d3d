// Package compiler turns script documents into executable dialogue graphs.
package compiler

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aretw0/pitch/internal/logging"
	"github.com/aretw0/pitch/pkg/domain"
	"github.com/aretw0/pitch/pkg/graph"
)

// Compiler builds a graph from the script model.
type Compiler struct {
	logger *slog.Logger
}

// Option configures the Compiler.
type Option func(*Compiler)

// WithLogger sets the logger used for non-fatal authoring warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Compiler) {
		c.logger = logger
	}
}

// New creates a compiler.
func New(opts ...Option) *Compiler {
	c := &Compiler{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EntryName names the i-th node of a location's enter chain.
// Indexes count down, so the head of a chain of n has index n.
func EntryName(tag string, i int) string {
	return fmt.Sprintf("%s_enter_%d", tag, i)
}

// ActionName names the i-th node of an action chain.
func ActionName(tag, action string, i int) string {
	return fmt.Sprintf("%s_%s_%d", tag, action, i)
}

// ChoiceName names a location's choice node.
func ChoiceName(tag string) string {
	return tag + "_choice"
}

// Compile builds the graph. The start node is the head of the first
// location's enter chain.
func (c *Compiler) Compile(script *domain.Script) (*graph.Graph, error) {
	if script == nil || len(script.Locations) == 0 {
		return nil, specErr("", "", "script has no locations")
	}

	heads := make(map[string]string, len(script.Locations))
	for _, loc := range script.Locations {
		switch {
		case loc.Tag == "":
			return nil, specErr("", "", "location with empty tag")
		case loc.Tag == domain.HelpNodeName:
			return nil, specErr(loc.Tag, "", "tag %q is reserved", domain.HelpNodeName)
		case len(loc.Enter) == 0:
			return nil, specErr(loc.Tag, "", "enter chain is empty")
		}
		if _, dup := heads[loc.Tag]; dup {
			return nil, specErr(loc.Tag, "", "location defined twice")
		}
		heads[loc.Tag] = EntryName(loc.Tag, len(loc.Enter))
	}

	g := graph.New()
	for _, loc := range script.Locations {
		nodes, err := c.compileLocation(loc, heads)
		if err != nil {
			return nil, err
		}
		for _, n := range nodes {
			if err := g.Register(n); err != nil {
				return nil, fmt.Errorf("location %q: %w", loc.Tag, err)
			}
			g.SetHome(n.Name(), ChoiceName(loc.Tag))
		}
	}

	if err := g.Register(graph.NewHelpNode()); err != nil {
		return nil, err
	}
	if err := g.SetStart(heads[script.Locations[0].Tag]); err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, &SpecError{Err: err}
	}

	c.logger.Debug("Script compiled",
		"locations", len(script.Locations),
		"nodes", g.Len(),
		"start", g.StartName(),
	)
	return g, nil
}

// WithDefaultActions returns the location's actions with help appended
// when the author did not define it.
func WithDefaultActions(loc domain.Location) []domain.Action {
	actions := make([]domain.Action, 0, len(loc.Actions)+1)
	actions = append(actions, loc.Actions...)
	for _, a := range loc.Actions {
		if strings.EqualFold(strings.TrimSpace(a.Tag), domain.HelpAction) {
			return actions
		}
	}
	return append(actions, domain.Action{
		Tag:     domain.HelpAction,
		Effects: []domain.Effect{domain.Go{Target: domain.HelpNodeName}},
	})
}

func (c *Compiler) compileLocation(loc domain.Location, heads map[string]string) ([]graph.Node, error) {
	choice := ChoiceName(loc.Tag)
	var nodes []graph.Node

	n := len(loc.Enter)
	for k, effect := range loc.Enter {
		i := n - k
		say, ok := effect.(domain.Say)
		if !ok {
			return nil, specErr(loc.Tag, "", "enter chain may only say")
		}
		c.checkDelay(loc.Tag, "enter", say.Delay)
		if i == 1 {
			nodes = append(nodes, graph.NewEntryNode(EntryName(loc.Tag, i), say, choice, true))
		} else {
			nodes = append(nodes, graph.NewEntryNode(EntryName(loc.Tag, i), say, EntryName(loc.Tag, i-1), false))
		}
	}

	actions := WithDefaultActions(loc)
	choices := make([]graph.Choice, 0, len(actions))
	seen := make(map[string]bool, len(actions))
	var actionNodes []graph.Node

	for _, action := range actions {
		keyword := strings.ToLower(strings.TrimSpace(action.Tag))
		switch {
		case keyword == "":
			return nil, specErr(loc.Tag, action.Tag, "empty keyword")
		case seen[keyword]:
			return nil, specErr(loc.Tag, action.Tag, "keyword defined twice")
		case len(action.Effects) == 0:
			return nil, specErr(loc.Tag, action.Tag, "effect chain is empty")
		}
		seen[keyword] = true

		chain, err := c.compileChain(loc.Tag, action, choice, heads)
		if err != nil {
			return nil, err
		}
		actionNodes = append(actionNodes, chain...)
		choices = append(choices, graph.Choice{
			Keyword: keyword,
			Target:  ActionName(loc.Tag, action.Tag, len(action.Effects)),
		})
	}

	nodes = append(nodes, graph.NewChoiceNode(choice, choices))
	return append(nodes, actionNodes...), nil
}

func (c *Compiler) compileChain(tag string, action domain.Action, choice string, heads map[string]string) ([]graph.Node, error) {
	n := len(action.Effects)
	nodes := make([]graph.Node, 0, n)

	for k, effect := range action.Effects {
		i := n - k
		name := ActionName(tag, action.Tag, i)
		c.checkDelay(tag, action.Tag, effect.EffectDelay())

		switch e := effect.(type) {
		case domain.Say:
			if i == 1 {
				nodes = append(nodes, graph.NewSayNode(name, e, choice, true))
			} else {
				nodes = append(nodes, graph.NewSayNode(name, e, ActionName(tag, action.Tag, i-1), false))
			}
		case domain.Go:
			target, err := resolveTarget(e.Target, heads)
			if err != nil {
				return nil, &SpecError{Location: tag, Action: action.Tag, Err: err}
			}
			if i > 1 {
				c.logger.Warn("Effects after goto are unreachable",
					"location", tag, "action", action.Tag, "node", name)
			}
			nodes = append(nodes, graph.NewGoNode(name, e, target))
		default:
			return nil, specErr(tag, action.Tag, "unsupported effect %T", effect)
		}
	}
	return nodes, nil
}

// resolveTarget maps a goto to the head of the destination's enter chain
// (the highest index), not to "_enter_1", so the whole narration is replayed.
func resolveTarget(target string, heads map[string]string) (string, error) {
	if target == domain.HelpNodeName {
		return domain.HelpNodeName, nil
	}
	head, ok := heads[target]
	if !ok {
		return "", fmt.Errorf("goto unknown location %q", target)
	}
	return head, nil
}

func (c *Compiler) checkDelay(tag, where string, d domain.Delay) {
	if _, err := d.Duration(); err != nil {
		c.logger.Warn("Ignoring delay",
			"location", tag, "at", where, "err", err)
	}
}

// IsSpecError reports whether err rejected a script.
func IsSpecError(err error) bool {
	return errors.Is(err, domain.ErrInvalidSpec)
}
