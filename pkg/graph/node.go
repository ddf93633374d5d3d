package graph

import (
	"strings"

	"github.com/aretw0/pitch/pkg/domain"
)

// Kind classifies compiled nodes.
type Kind string

const (
	KindEntry  Kind = "entry"
	KindChoice Kind = "choice"
	KindEffect Kind = "effect"
	KindHelp   Kind = "help"
)

// Result is what a node produces for one step.
type Result struct {
	Transition domain.Transition
	Says       []string
	// Delay gates the next step. The dispatcher turns it into sleep_until.
	Delay domain.Delay
	State domain.AppState
}

// Node is one compiled, addressable step of the dialogue.
// Handle must be pure: nodes are shared across concurrent runs.
type Node interface {
	Name() string
	Kind() Kind
	Handle(state domain.AppState, input string) Result
	// Edges lists the node names this node can transition to.
	Edges() []string
}

// delayed reports whether d is a usable, non-zero delay.
func delayed(d domain.Delay) bool {
	dur, err := d.Duration()
	return err == nil && dur > 0
}

// suspend returns GetMessage unless a delay gates the next step, in which
// case the step is left for the wake sweep.
func suspend(target string, d domain.Delay) domain.Transition {
	if delayed(d) {
		return domain.GoTo{Target: target}
	}
	return domain.GetMessage{Target: target}
}

// EntryNode narrates one line of a location's enter chain.
type EntryNode struct {
	name string
	say  domain.Say
	next string
	last bool
}

// NewEntryNode creates an entry node. When last is set, next is the
// location's choice node and the node suspends for input.
func NewEntryNode(name string, say domain.Say, next string, last bool) *EntryNode {
	return &EntryNode{name: name, say: say, next: next, last: last}
}

func (n *EntryNode) Name() string    { return n.name }
func (n *EntryNode) Kind() Kind      { return KindEntry }
func (n *EntryNode) Edges() []string { return []string{n.next} }
func (n *EntryNode) Text() string    { return n.say.Text }

// Delay returns the authored wait after this line, if any.
func (n *EntryNode) Delay() domain.Delay { return n.say.Delay }

func (n *EntryNode) Handle(state domain.AppState, _ string) Result {
	res := Result{
		Says:  []string{n.say.Text},
		Delay: n.say.Delay,
		State: state,
	}
	if n.last {
		res.Transition = suspend(n.next, n.say.Delay)
	} else {
		res.Transition = domain.GoTo{Target: n.next}
	}
	return res
}

// Choice maps an accepted keyword to the head of its action chain.
type Choice struct {
	Keyword string
	Target  string
}

// ChoiceNode matches user input against a location's keywords.
type ChoiceNode struct {
	name    string
	choices []Choice
}

// NewChoiceNode creates a choice node. Keywords are matched case-insensitively
// and listed to the user in the given order.
func NewChoiceNode(name string, choices []Choice) *ChoiceNode {
	normalized := make([]Choice, len(choices))
	for i, c := range choices {
		normalized[i] = Choice{Keyword: normalize(c.Keyword), Target: c.Target}
	}
	return &ChoiceNode{name: name, choices: normalized}
}

func (n *ChoiceNode) Name() string { return n.name }
func (n *ChoiceNode) Kind() Kind   { return KindChoice }

func (n *ChoiceNode) Edges() []string {
	edges := make([]string, 0, len(n.choices)+1)
	for _, c := range n.choices {
		edges = append(edges, c.Target)
	}
	return append(edges, n.name)
}

// Choices returns the keyword bindings in order.
func (n *ChoiceNode) Choices() []Choice {
	out := make([]Choice, len(n.choices))
	copy(out, n.choices)
	return out
}

// Keywords returns the accepted keywords in order.
func (n *ChoiceNode) Keywords() []string {
	keywords := make([]string, len(n.choices))
	for i, c := range n.choices {
		keywords[i] = c.Keyword
	}
	return keywords
}

func (n *ChoiceNode) Handle(state domain.AppState, input string) Result {
	keyword := normalize(input)

	// Woken up or returned to without input: keep waiting quietly.
	if keyword == "" {
		return Result{Transition: domain.GetMessage{Target: n.name}, State: state}
	}

	for _, c := range n.choices {
		if c.Keyword == keyword {
			return Result{Transition: domain.GoTo{Target: c.Target}, State: state}
		}
	}

	return Result{
		Transition: domain.GetMessage{Target: n.name},
		Says: []string{
			domain.NotUnderstoodText,
			domain.KeywordListPrefix + strings.Join(n.Keywords(), ", "),
		},
		State: state,
	}
}

// EffectNode runs one effect of an action chain.
type EffectNode struct {
	name   string
	effect domain.Effect
	// next is the following node, the location's choice node, or the
	// resolved entry head of a Go target.
	next       string
	choiceNext bool
}

// NewSayNode creates an effect node that speaks. choiceNext marks the last
// node of a chain that hands control back to its location's choice node.
func NewSayNode(name string, say domain.Say, next string, choiceNext bool) *EffectNode {
	return &EffectNode{name: name, effect: say, next: next, choiceNext: choiceNext}
}

// NewGoNode creates an effect node that moves the user to target, which is
// the node name the move resolves to.
func NewGoNode(name string, move domain.Go, target string) *EffectNode {
	return &EffectNode{name: name, effect: move, next: target}
}

func (n *EffectNode) Name() string          { return n.name }
func (n *EffectNode) Kind() Kind            { return KindEffect }
func (n *EffectNode) Effect() domain.Effect { return n.effect }

func (n *EffectNode) Edges() []string {
	if n.next == "" {
		return nil
	}
	return []string{n.next}
}

func (n *EffectNode) Handle(state domain.AppState, _ string) Result {
	switch e := n.effect.(type) {
	case domain.Say:
		res := Result{Says: []string{e.Text}, Delay: e.Delay, State: state}
		if n.choiceNext {
			res.Transition = suspend(n.next, e.Delay)
		} else {
			res.Transition = domain.GoTo{Target: n.next}
		}
		return res
	case domain.Go:
		return Result{Transition: domain.GoTo{Target: n.next}, Delay: e.Delay, State: state}
	default:
		return Result{Transition: domain.GoBack{}, State: state}
	}
}

// HelpNode is the single node every help action leads to.
type HelpNode struct{}

// NewHelpNode creates the help node.
func NewHelpNode() *HelpNode { return &HelpNode{} }

func (n *HelpNode) Name() string    { return domain.HelpNodeName }
func (n *HelpNode) Kind() Kind      { return KindHelp }
func (n *HelpNode) Edges() []string { return nil }

func (n *HelpNode) Handle(state domain.AppState, _ string) Result {
	return Result{
		Transition: domain.GoBack{},
		Says:       []string{domain.HelpText},
		State:      state,
	}
}

func normalize(input string) string {
	return strings.ToLower(strings.TrimSpace(input))
}
