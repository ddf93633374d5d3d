package dsl

import "github.com/aretw0/pitch/pkg/domain"

// LocationBuilder provides a fluent API for configuring a location.
type LocationBuilder struct {
	tag     string
	enter   []domain.Effect
	order   []*ActionBuilder
	actions map[string]*ActionBuilder
}

// Say appends a line to the enter chain.
func (l *LocationBuilder) Say(text string) *LocationBuilder {
	l.enter = append(l.enter, domain.Say{Text: text})
	return l
}

// SayAfter appends a line to the enter chain and waits delay before the next step.
func (l *LocationBuilder) SayAfter(text string, delay domain.Delay) *LocationBuilder {
	l.enter = append(l.enter, domain.Say{Text: text, Delay: delay})
	return l
}

// Action returns the builder of the action bound to keyword, adding it on first use.
func (l *LocationBuilder) Action(keyword string) *ActionBuilder {
	if ab, ok := l.actions[keyword]; ok {
		return ab
	}
	ab := &ActionBuilder{location: l, action: domain.Action{Tag: keyword}}
	l.actions[keyword] = ab
	l.order = append(l.order, ab)
	return ab
}

// Build returns the underlying domain.Location.
func (l *LocationBuilder) Build() domain.Location {
	loc := domain.Location{Tag: l.tag, Enter: append([]domain.Effect(nil), l.enter...)}
	for _, ab := range l.order {
		loc.Actions = append(loc.Actions, ab.Build())
	}
	return loc
}

// ActionBuilder provides a fluent API for an action's effect chain.
type ActionBuilder struct {
	location *LocationBuilder
	action   domain.Action
}

// Say appends a line to the chain.
func (a *ActionBuilder) Say(text string) *ActionBuilder {
	a.action.Effects = append(a.action.Effects, domain.Say{Text: text})
	return a
}

// SayAfter appends a line and waits delay before the next step.
func (a *ActionBuilder) SayAfter(text string, delay domain.Delay) *ActionBuilder {
	a.action.Effects = append(a.action.Effects, domain.Say{Text: text, Delay: delay})
	return a
}

// Goto moves the user to the location tagged target.
func (a *ActionBuilder) Goto(target string) *ActionBuilder {
	a.action.Effects = append(a.action.Effects, domain.Go{Target: target})
	return a
}

// GotoAfter moves the user to target once delay has passed.
func (a *ActionBuilder) GotoAfter(target string, delay domain.Delay) *ActionBuilder {
	a.action.Effects = append(a.action.Effects, domain.Go{Target: target, Delay: delay})
	return a
}

// Location returns to the owning location, for chaining several actions.
func (a *ActionBuilder) Location() *LocationBuilder {
	return a.location
}

// Build returns the underlying domain.Action.
func (a *ActionBuilder) Build() domain.Action {
	return domain.Action{Tag: a.action.Tag, Effects: append([]domain.Effect(nil), a.action.Effects...)}
}
