// Package runtime drives users through a compiled dialogue graph.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/pitch/internal/logging"
	"github.com/aretw0/pitch/pkg/domain"
	"github.com/aretw0/pitch/pkg/graph"
	"github.com/aretw0/pitch/pkg/ports"
	"github.com/aretw0/pitch/pkg/session"
)

// Dispatcher resolves a user's last visit, re-enters the graph and follows
// automatic transitions until the graph waits for input.
type Dispatcher struct {
	graph    *graph.Graph
	store    ports.VisitStore
	sessions *session.Manager
	logger   *slog.Logger
	hooks    domain.LifecycleHooks
	now      func() time.Time
	maxDepth int
}

// Option configures the Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets a custom logger for the dispatcher.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithLifecycleHooks registers observability callbacks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(d *Dispatcher) {
		d.hooks = d.hooks.Merge(hooks)
	}
}

// WithClock replaces time.Now, mostly for tests of delayed wake.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// WithMaxChainDepth bounds the number of steps a single run may take.
func WithMaxChainDepth(depth int) Option {
	return func(d *Dispatcher) {
		if depth > 0 {
			d.maxDepth = depth
		}
	}
}

// NewDispatcher creates a dispatcher. A nil manager gets a default one over store.
func NewDispatcher(g *graph.Graph, store ports.VisitStore, sessions *session.Manager, opts ...Option) *Dispatcher {
	if sessions == nil {
		sessions = session.NewManager(store)
	}
	d := &Dispatcher{
		graph:    g,
		store:    store,
		sessions: sessions,
		logger:   logging.NewNop(),
		now:      time.Now,
		maxDepth: domain.DefaultMaxChainDepth,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// run is the bookkeeping of one top-level Run call.
type run struct {
	user    *domain.User
	session domain.Session
	// origin is the choice node the user was waiting at; GoBack returns there.
	origin string
	depth  int
}

// Run handles one inbound event. An empty text means no text, as for a
// scheduled wake-up. Script anomalies never surface as errors: the returned
// error is reserved for store, lock and context failures.
func (d *Dispatcher) Run(ctx context.Context, identity, text string) (domain.Session, error) {
	r := &run{session: domain.Session{Identity: identity}}

	err := d.sessions.WithLock(ctx, identity, func(ctx context.Context) error {
		user, err := d.resolveUser(ctx, identity)
		if err != nil {
			return err
		}
		r.user = user
		return d.dispatch(ctx, r, text)
	})
	if err != nil {
		return r.session, fmt.Errorf("run for %s: %w", identity, err)
	}
	return r.session, nil
}

func (d *Dispatcher) resolveUser(ctx context.Context, identity string) (*domain.User, error) {
	user, err := d.store.FindUser(ctx, identity)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}
	user, err = d.store.CreateUser(ctx, identity)
	if err != nil {
		return nil, err
	}
	d.logger.Info("New user", "identity", identity)
	return user, nil
}

// dispatch executes one step and recurses on automatic transitions.
func (d *Dispatcher) dispatch(ctx context.Context, r *run, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.depth >= d.maxDepth {
		d.abort(ctx, r)
		return nil
	}
	r.depth++

	node, state, stop, err := d.resume(ctx, r, text)
	if err != nil || stop {
		return err
	}

	visit := &domain.Visit{
		UserID:      r.user.ID,
		CurrentNode: node.Name(),
		State:       state,
	}
	if err := d.store.CreateVisit(ctx, visit); err != nil {
		return fmt.Errorf("failed to create visit: %w", err)
	}

	if text != "" {
		if _, err := d.record(ctx, visit, domain.DirectionInbound, text); err != nil {
			return err
		}
	}

	d.emitNodeEnter(ctx, r, node)
	res := node.Handle(state, text)

	for _, say := range res.Says {
		msg, err := d.record(ctx, visit, domain.DirectionOutbound, say)
		if err != nil {
			return err
		}
		r.session.Messages = append(r.session.Messages, *msg)
	}
	visit.State = res.State
	d.applyDelay(r, visit, res.Delay)

	suspend := false
	switch t := res.Transition.(type) {
	case domain.GetMessage:
		visit.NextNode = t.Target
		visit.TransitionExecuted = true
		suspend = true
	case domain.GoTo:
		visit.NextNode = t.Target
	case domain.GoBack:
		visit.NextNode = r.origin
	default:
		return fmt.Errorf("node %s returned unknown transition %T", node.Name(), res.Transition)
	}

	if err := d.store.UpdateVisit(ctx, visit); err != nil {
		return fmt.Errorf("failed to update visit: %w", err)
	}
	r.session.NextNode = visit.NextNode
	d.emitTransition(ctx, r, node.Name(), visit, res.Transition)

	if suspend {
		return nil
	}
	return d.dispatch(ctx, r, "")
}

// resume picks the node to execute from the latest visit. stop reports that
// the user is gated by an unexpired timer and nothing must run.
func (d *Dispatcher) resume(ctx context.Context, r *run, text string) (graph.Node, domain.AppState, bool, error) {
	prev, err := d.store.LatestVisit(ctx, r.user.ID)
	if err != nil && !errors.Is(err, domain.ErrVisitNotFound) {
		return nil, nil, false, fmt.Errorf("failed to load latest visit: %w", err)
	}
	if prev == nil || prev.NextNode == "" {
		d.setOrigin(r, d.graph.StartName(), "")
		return d.graph.Start(), nil, false, nil
	}

	if prev.Gated(d.now()) {
		d.gated(ctx, r, prev, text)
		return nil, nil, true, nil
	}

	if !prev.TransitionExecuted {
		prev.TransitionExecuted = true
		if err := d.store.UpdateVisit(ctx, prev); err != nil {
			return nil, nil, false, fmt.Errorf("failed to mark visit executed: %w", err)
		}
	}

	node, ok := d.graph.Get(prev.NextNode)
	if !ok {
		d.recoverStart(ctx, r, prev.NextNode)
		d.setOrigin(r, d.graph.StartName(), "")
		return d.graph.Start(), nil, false, nil
	}
	d.setOrigin(r, node.Name(), prev.CurrentNode)
	return node, prev.State.Clone(), false, nil
}

// setOrigin fixes the GoBack target once per run. A wake-up resumes inside
// an effect chain, so the target is the choice node of the location the run
// is in, never the resumed node itself. The help node has no location and
// defers to the previous node's.
func (d *Dispatcher) setOrigin(r *run, resumed, previous string) {
	if r.origin != "" {
		return
	}
	for _, name := range []string{resumed, previous, d.graph.StartName()} {
		if home, ok := d.graph.Home(name); ok {
			r.origin = home
			return
		}
	}
	r.origin = d.graph.StartName()
}

// record appends a message linked to the visit.
func (d *Dispatcher) record(ctx context.Context, visit *domain.Visit, dir domain.Direction, body string) (*domain.Message, error) {
	msg := &domain.Message{
		UserID:    visit.UserID,
		VisitID:   visit.ID,
		Direction: dir,
		Body:      body,
		CreatedAt: d.now().UTC(),
	}
	if err := d.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to append %s message: %w", dir, err)
	}
	visit.MessageIDs = append(visit.MessageIDs, msg.ID)
	return msg, nil
}

// applyDelay stamps sleep_until. An unparseable delay only degrades timing.
func (d *Dispatcher) applyDelay(r *run, visit *domain.Visit, delay domain.Delay) {
	if delay.IsZero() {
		return
	}
	dur, err := delay.Duration()
	if err != nil {
		d.logger.Warn("Invalid delay skipped",
			"identity", r.user.Identity,
			"node", visit.CurrentNode,
			"delay", string(delay),
			"err", err,
		)
		return
	}
	if dur <= 0 {
		return
	}
	until := d.now().Add(dur).UTC()
	visit.SleepUntil = &until
}
