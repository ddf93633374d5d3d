package runtime

import (
	"context"
	"fmt"

	"github.com/aretw0/pitch/pkg/domain"
	"github.com/aretw0/pitch/pkg/graph"
)

func (d *Dispatcher) base(r *run, typ domain.EventType) domain.EventBase {
	return domain.EventBase{
		Timestamp: d.now(),
		Type:      typ,
		Identity:  r.session.Identity,
	}
}

func (d *Dispatcher) emitNodeEnter(ctx context.Context, r *run, node graph.Node) {
	d.logger.Debug("Node enter",
		"identity", r.session.Identity,
		"node", node.Name(),
		"kind", string(node.Kind()),
		"depth", r.depth,
	)
	if d.hooks.OnNodeEnter == nil {
		return
	}
	d.hooks.OnNodeEnter(ctx, &domain.NodeEvent{
		EventBase: d.base(r, domain.EventNodeEnter),
		NodeName:  node.Name(),
		NodeKind:  string(node.Kind()),
		Depth:     r.depth,
	})
}

func (d *Dispatcher) emitTransition(ctx context.Context, r *run, from string, visit *domain.Visit, t domain.Transition) {
	delayed := visit.SleepUntil != nil
	d.logger.Debug("Transition",
		"identity", r.session.Identity,
		"from", from,
		"to", visit.NextNode,
		"transition", domain.TransitionName(t),
		"delayed", delayed,
	)
	if d.hooks.OnTransition == nil {
		return
	}
	d.hooks.OnTransition(ctx, &domain.TransitionEvent{
		EventBase:  d.base(r, domain.EventTransition),
		From:       from,
		To:         visit.NextNode,
		Transition: domain.TransitionName(t),
		Delayed:    delayed,
	})
}

// gated reports a run stopped by an unexpired timer. Only a gate hit at the
// top of the run means nothing happened; deeper it just ends the chain.
func (d *Dispatcher) gated(ctx context.Context, r *run, prev *domain.Visit, text string) {
	if r.depth > 1 {
		return
	}
	r.session.Gated = true
	r.session.NextNode = prev.NextNode

	if text != "" {
		d.logger.Info("Inbound message dropped while waiting",
			"identity", r.session.Identity,
			"next_node", prev.NextNode,
			"sleep_until", prev.SleepUntil,
		)
	} else {
		d.logger.Debug("Wake-up before timer expired",
			"identity", r.session.Identity,
			"sleep_until", prev.SleepUntil,
		)
	}
	if d.hooks.OnGated != nil {
		d.hooks.OnGated(ctx, &domain.AnomalyEvent{
			EventBase: d.base(r, domain.EventGated),
			NodeName:  prev.NextNode,
		})
	}
}

// recoverStart restarts a user whose next node vanished from the graph.
func (d *Dispatcher) recoverStart(ctx context.Context, r *run, missing string) {
	err := fmt.Errorf("%w: next node %q not in graph", domain.ErrBadState, missing)
	d.logger.Warn("Restarting user at start node",
		"identity", r.session.Identity,
		"missing_node", missing,
		"start", d.graph.StartName(),
		"err", err,
	)
	if d.hooks.OnRecovery != nil {
		d.hooks.OnRecovery(ctx, &domain.AnomalyEvent{
			EventBase: d.base(r, domain.EventRecovery),
			NodeName:  missing,
			Err:       err,
		})
	}
}

// abort ends a chain that never reached a suspension point.
func (d *Dispatcher) abort(ctx context.Context, r *run) {
	r.session.Aborted = true
	err := fmt.Errorf("%w: %d steps without waiting for input", domain.ErrUnboundedChain, r.depth)
	d.logger.Error("Automatic chain aborted",
		"identity", r.session.Identity,
		"next_node", r.session.NextNode,
		"messages", len(r.session.Messages),
		"err", err,
	)
	if d.hooks.OnChainAborted != nil {
		d.hooks.OnChainAborted(ctx, &domain.AnomalyEvent{
			EventBase: d.base(r, domain.EventChainAborted),
			NodeName:  r.session.NextNode,
			Err:       err,
		})
	}
}
