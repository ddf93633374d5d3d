package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventNodeEnter    EventType = "node_enter"
	EventTransition   EventType = "transition"
	EventRecovery     EventType = "recovery"
	EventChainAborted EventType = "chain_aborted"
	EventGated        EventType = "gated"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Identity  string    `json:"identity"`
}

// NodeEvent is emitted when the dispatcher hands control to a node.
type NodeEvent struct {
	EventBase
	NodeName string `json:"node_name"`
	NodeKind string `json:"node_kind"`
	Depth    int    `json:"depth"`
}

// TransitionEvent is emitted after a node returns its transition.
type TransitionEvent struct {
	EventBase
	From       string `json:"from"`
	To         string `json:"to"`
	Transition string `json:"transition"`
	Delayed    bool   `json:"delayed,omitempty"`
}

// AnomalyEvent covers recovered or aborted runs.
type AnomalyEvent struct {
	EventBase
	NodeName string `json:"node_name"`
	Err      error  `json:"-"`
}

// LifecycleHooks defines callbacks for engine observability.
type LifecycleHooks struct {
	OnNodeEnter    func(context.Context, *NodeEvent)
	OnTransition   func(context.Context, *TransitionEvent)
	OnRecovery     func(context.Context, *AnomalyEvent)
	OnChainAborted func(context.Context, *AnomalyEvent)
	OnGated        func(context.Context, *AnomalyEvent)
}

// Merge returns hooks that call h first and then other.
func (h LifecycleHooks) Merge(other LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnNodeEnter:    chain(h.OnNodeEnter, other.OnNodeEnter),
		OnTransition:   chain(h.OnTransition, other.OnTransition),
		OnRecovery:     chain(h.OnRecovery, other.OnRecovery),
		OnChainAborted: chain(h.OnChainAborted, other.OnChainAborted),
		OnGated:        chain(h.OnGated, other.OnGated),
	}
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}
