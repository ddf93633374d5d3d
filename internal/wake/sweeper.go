// Package wake drives users whose timers expired without inbound traffic.
package wake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/pitch/internal/logging"
	"github.com/aretw0/pitch/internal/metrics"
	"github.com/aretw0/pitch/internal/sms"
	"github.com/aretw0/pitch/pkg/domain"
	"github.com/robfig/cron/v3"
)

// DefaultBatch caps how many users a single sweep wakes.
const DefaultBatch = 100

// Engine is the subset of the pitch engine a sweep needs.
type Engine interface {
	Due(ctx context.Context, limit int) ([]domain.DueVisit, error)
	Run(ctx context.Context, identity, text string) (domain.Session, error)
}

// Sweeper periodically runs every due user with no text and pushes the
// produced messages through a Sender.
type Sweeper struct {
	engine  Engine
	sender  sms.Sender
	logger  *slog.Logger
	metrics *metrics.Metrics
	batch   int

	mu   sync.Mutex
	cron *cron.Cron
}

// Option configures the Sweeper.
type Option func(*Sweeper)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

// WithBatch sets the per-sweep limit. Non-positive values keep the default.
func WithBatch(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.batch = n
		}
	}
}

// New creates a sweeper.
func New(engine Engine, sender sms.Sender, opts ...Option) *Sweeper {
	s := &Sweeper{
		engine: engine,
		sender: sender,
		logger: logging.NewNop(),
		batch:  DefaultBatch,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep wakes due users once and returns how many produced a reply.
// A failing user is logged and skipped; the joined errors are returned.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	due, err := s.engine.Due(ctx, s.batch)
	if err != nil {
		return 0, fmt.Errorf("failed to list due users: %w", err)
	}

	var (
		woken int
		errs  []error
		seen  = make(map[string]struct{}, len(due))
	)
	for _, d := range due {
		if err := ctx.Err(); err != nil {
			return woken, err
		}
		if _, dup := seen[d.Identity]; dup {
			continue
		}
		seen[d.Identity] = struct{}{}
		sent, err := s.wake(ctx, d.Identity)
		if err != nil {
			s.count("error")
			s.logger.Error("Wake-up failed", "identity", d.Identity, "visit", d.VisitID, "err", err)
			errs = append(errs, err)
			continue
		}
		if sent {
			woken++
			s.count("sent")
		} else {
			s.count("silent")
		}
	}
	if len(due) > 0 {
		s.logger.Info("Wake sweep finished", "due", len(due), "woken", woken)
	}
	return woken, errors.Join(errs...)
}

func (s *Sweeper) wake(ctx context.Context, identity string) (bool, error) {
	started := time.Now()
	sess, err := s.engine.Run(ctx, identity, "")
	if s.metrics != nil {
		s.metrics.ObserveRun("wake", started)
	}
	if err != nil {
		return false, err
	}
	reply := sess.Reply()
	if reply == "" {
		return false, nil
	}
	if err := s.sender.Send(ctx, identity, reply); err != nil {
		return false, fmt.Errorf("failed to deliver wake-up to %s: %w", identity, err)
	}
	return true, nil
}

func (s *Sweeper) count(result string) {
	if s.metrics != nil {
		s.metrics.WakeUps.WithLabelValues(result).Inc()
	}
}

// Start schedules sweeps. The schedule accepts five-field cron
// expressions and descriptors such as "@every 1m".
func (s *Sweeper) Start(ctx context.Context, schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("sweeper already started")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger), cron.Recover(cron.DefaultLogger)))
	if _, err := c.AddFunc(schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Warn("Wake sweep incomplete", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid wake schedule %q: %w", schedule, err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("Wake scheduler started", "schedule", schedule)
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}
