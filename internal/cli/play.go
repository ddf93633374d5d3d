package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aretw0/pitch"
	"github.com/aretw0/pitch/internal/presentation/tui"
	"github.com/aretw0/pitch/pkg/domain"
)

// PlayOptions configures a local play session.
type PlayOptions struct {
	Identity string
	Fresh    bool
	Headless bool
	// Render enables markdown rendering of story lines.
	Render bool
	Input  io.Reader
	Output io.Writer
}

// VirtualClock runs at wall-clock speed but can jump forward, so a local
// player does not have to wait out authored delays.
type VirtualClock struct {
	mu     sync.Mutex
	offset time.Duration
	now    func() time.Time
}

func NewVirtualClock() *VirtualClock {
	return &VirtualClock{now: time.Now}
}

// Now returns the virtual time.
func (c *VirtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Add(c.offset)
}

// AdvanceTo moves the clock to t. Moving backwards is a no-op.
func (c *VirtualClock) AdvanceTo(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d := t.Sub(c.now().Add(c.offset)); d > 0 {
		c.offset += d
	}
}

// RunPlay plays one identity in the terminal. The engine must have been
// built with clock.Now so that an empty line can fast-forward timers.
func RunPlay(ctx context.Context, engine *pitch.Engine, clock *VirtualClock, opts PlayOptions) error {
	if opts.Identity == "" {
		opts.Identity = "local"
	}
	if opts.Fresh {
		if err := engine.Reset(ctx, opts.Identity); err != nil && !errors.Is(err, domain.ErrUserNotFound) {
			return fmt.Errorf("failed to reset %s: %w", opts.Identity, err)
		}
	}

	if !opts.Headless {
		tui.PrintBanner(opts.Output, pitch.Version)
		printSystemMessage(opts.Output, "Playing %q as '%s'. Empty line waits, 'exit' quits.", engine.Name, opts.Identity)
	}

	r := pitch.NewRunner()
	r.Identity = opts.Identity
	r.Headless = opts.Headless
	r.Input = opts.Input
	r.Output = opts.Output
	r.BeforeWake = clock.AdvanceTo
	if opts.Render && !opts.Headless {
		r.Renderer = tui.NewRenderer()
	}

	// Stdin reads cannot be interrupted; on cancel the reader is abandoned.
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, engine) }()

	select {
	case err := <-done:
		return handleExecutionError(err)
	case <-ctx.Done():
		if !opts.Headless {
			fmt.Fprintln(opts.Output)
			printSystemMessage(opts.Output, "Interrupted.")
		}
		return nil
	}
}
