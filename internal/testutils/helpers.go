// Package testutils holds helpers shared by tests across packages.
package testutils

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/pitch/internal/compiler"
	"github.com/aretw0/pitch/pkg/graph"
	"github.com/stretchr/testify/require"
)

// Clock is a time source advanced by hand.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock stopped at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// WriteScript writes src to name inside a fresh temp dir and returns its path.
// It fails the test immediately on error.
func WriteScript(t *testing.T, name, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(src), 0644), "Failed to write script")
	return path
}

// CompileGraph parses and compiles src, failing the test on error.
func CompileGraph(t *testing.T, src string) *graph.Graph {
	t.Helper()
	script, err := compiler.NewParser().Parse([]byte(src))
	require.NoError(t, err, "Failed to parse script")
	g, err := compiler.New().Compile(script)
	require.NoError(t, err, "Failed to compile script")
	return g
}
