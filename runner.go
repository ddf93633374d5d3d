package pitch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aretw0/pitch/pkg/domain"
)

// Runner plays one identity against the engine over a line-oriented terminal,
// the way an SMS conversation would, without a messaging provider.
type Runner struct {
	Input    io.Reader
	Output   io.Writer
	Identity string
	Headless bool
	Renderer ContentRenderer
	// BeforeWake is called with the expiry of a pending timer before an
	// empty line wakes the user, e.g. to fast-forward a virtual clock.
	BeforeWake func(until time.Time)
}

// ContentRenderer is a function that transforms the content before outputting it.
// This allows for TUI rendering (markdown to ANSI) without coupling the core package.
type ContentRenderer func(string) (string, error)

// NewRunner creates a Runner for the "local" identity.
// Input and Output must be set before Run.
func NewRunner() *Runner {
	return &Runner{Identity: "local"}
}

// Run executes the conversation loop until EOF or "exit".
func (r *Runner) Run(ctx context.Context, engine *Engine) error {
	if r.Input == nil {
		return fmt.Errorf("input reader must be set (use os.Stdin)")
	}
	if r.Output == nil {
		return fmt.Errorf("output writer must be set (use os.Stdout)")
	}
	lineReader := bufio.NewReader(r.Input)

	if !r.Headless {
		fmt.Fprintln(r.Output, "--- pitch (Runner) ---")
	}

	pos, err := engine.Position(ctx, r.Identity)
	if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
		return err
	}
	if pos == "" {
		if err := r.step(ctx, engine, ""); err != nil {
			return err
		}
	}

	for {
		if !r.Headless {
			fmt.Fprint(r.Output, "> ")
		}
		text, readErr := lineReader.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return fmt.Errorf("input error: %w", readErr)
		}
		input := strings.TrimSpace(text)
		if readErr != nil && input == "" {
			// Graceful exit on EOF
			return nil
		}

		if input == "exit" || input == "quit" {
			fmt.Fprintln(r.Output, "Bye!")
			return nil
		}
		if input == "" {
			if err := r.fastForward(ctx, engine); err != nil {
				return err
			}
		}
		if err := r.step(ctx, engine, input); err != nil {
			return err
		}
		if readErr != nil {
			return nil
		}
	}
}

func (r *Runner) step(ctx context.Context, engine *Engine, input string) error {
	s, err := engine.Run(ctx, r.Identity, input)
	if err != nil {
		return fmt.Errorf("run error: %w", err)
	}

	for _, text := range s.Texts() {
		output := text
		if r.Renderer != nil {
			if rendered, err := r.Renderer(text); err == nil {
				output = rendered
			}
		}
		fmt.Fprintln(r.Output, strings.TrimSpace(output))
	}

	switch {
	case s.Aborted:
		fmt.Fprintln(r.Output, "(the story got stuck in a loop)")
	case s.Gated && !r.Headless:
		fmt.Fprintln(r.Output, "(nothing happens yet; press enter to wait)")
	}
	return nil
}

// fastForward hands the pending timer, if any, to BeforeWake.
func (r *Runner) fastForward(ctx context.Context, engine *Engine) error {
	if r.BeforeWake == nil {
		return nil
	}
	h, err := engine.History(ctx, r.Identity)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil
		}
		return err
	}
	if len(h.Visits) == 0 {
		return nil
	}
	last := h.Visits[len(h.Visits)-1]
	if last.SleepUntil != nil && !last.TransitionExecuted {
		r.BeforeWake(*last.SleepUntil)
	}
	return nil
}
