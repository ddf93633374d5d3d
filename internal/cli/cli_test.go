package cli

import (
	"bytes"
	"context"
	"encoding/hex"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/pitch"
	"github.com/aretw0/pitch/internal/config"
	"github.com/aretw0/pitch/internal/logging"
	"github.com/aretw0/pitch/internal/testutils"
	"github.com/aretw0/pitch/pkg/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const story = `
locations:
  porch:
    enter: You sit on the porch.
    actions:
      wait:
        - say: OK, waiting...
          delay: 2h
        - say: The mail arrives.
`

func testConfig(t *testing.T, store string) config.Config {
	t.Helper()
	path := testutils.WriteScript(t, "porch.yaml", story)
	dir := filepath.Dir(path)
	return config.Config{
		Script:   path,
		Store:    store,
		StateDir: filepath.Join(dir, ".pitch"),
		DSN:      filepath.Join(dir, "pitch.db"),
		LockTTL:  time.Second,
	}
}

func converse(t *testing.T, app *App) {
	t.Helper()
	ctx := context.Background()
	s, err := app.Engine.Run(ctx, "5550100", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"You sit on the porch."}, s.Texts())
	s, err = app.Engine.Run(ctx, "5550100", "wait")
	require.NoError(t, err)
	assert.Equal(t, []string{"OK, waiting..."}, s.Texts())
}

func TestNewApp_Stores(t *testing.T) {
	mr := miniredis.RunT(t)

	for _, store := range []string{config.StoreMemory, config.StoreFile, config.StoreSQLite, config.StoreRedis} {
		t.Run(store, func(t *testing.T) {
			cfg := testConfig(t, store)
			cfg.RedisAddr = mr.Addr()

			app, err := NewApp(cfg, logging.NewNop())
			require.NoError(t, err)
			defer app.Close()

			assert.Equal(t, "porch", app.Engine.Name)
			converse(t, app)

			h, err := app.Engine.History(context.Background(), "5550100")
			require.NoError(t, err)
			assert.Len(t, h.Messages, 3)
		})
	}
}

func TestNewApp_FileStorePersists(t *testing.T) {
	cfg := testConfig(t, config.StoreFile)
	app, err := NewApp(cfg, logging.NewNop())
	require.NoError(t, err)
	converse(t, app)
	require.NoError(t, app.Close())

	again, err := NewApp(cfg, logging.NewNop())
	require.NoError(t, err)
	pos, err := again.Engine.Position(context.Background(), "5550100")
	require.NoError(t, err)
	assert.Equal(t, "porch_wait_1", pos)
}

func TestNewApp_Decorators(t *testing.T) {
	cfg := testConfig(t, config.StoreMemory)
	cfg.PIIPatterns = []string{`\d{3}-\d{4}`}
	cfg.EncryptionKey = hex.EncodeToString(bytes.Repeat([]byte{7}, 32))

	app, err := NewApp(cfg, logging.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = app.Engine.Run(ctx, "a", "")
	require.NoError(t, err)
	s, err := app.Engine.Run(ctx, "a", "call 555-1234")
	require.NoError(t, err)
	// The reply is built before masking.
	assert.Equal(t, domain.NotUnderstoodText, s.Messages[0].Body)

	h, err := app.Engine.History(ctx, "a")
	require.NoError(t, err)
	var inbound []string
	for _, m := range h.Messages {
		if m.Direction == domain.DirectionInbound {
			inbound = append(inbound, m.Body)
		}
	}
	assert.Equal(t, []string{"call ***"}, inbound)
}

func TestNewApp_Errors(t *testing.T) {
	cfg := testConfig(t, "floppy")
	_, err := NewApp(cfg, logging.NewNop())
	assert.ErrorContains(t, err, "unknown store")

	cfg = testConfig(t, config.StoreMemory)
	cfg.PIIPatterns = []string{"("}
	_, err = NewApp(cfg, logging.NewNop())
	assert.ErrorContains(t, err, "invalid PII pattern")

	cfg = testConfig(t, config.StoreMemory)
	cfg.Script = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = NewApp(cfg, logging.NewNop())
	assert.Error(t, err)
}

func TestNewApp_MetricsHooks(t *testing.T) {
	app, err := NewApp(testConfig(t, config.StoreMemory), logging.NewNop())
	require.NoError(t, err)
	converse(t, app)
	assert.Equal(t, 1.0, testutil.ToFloat64(app.Metrics.NodeVisits.WithLabelValues("porch_wait_2", "effect")))
}

func TestVirtualClock(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &VirtualClock{now: func() time.Time { return base }}
	assert.Equal(t, base, c.Now())

	c.AdvanceTo(base.Add(time.Hour))
	assert.Equal(t, base.Add(time.Hour), c.Now())

	c.AdvanceTo(base)
	assert.Equal(t, base.Add(time.Hour), c.Now(), "the clock never goes back")
}

func TestRunPlay_Headless(t *testing.T) {
	clock := NewVirtualClock()
	cfg := testConfig(t, config.StoreFile)
	app, err := NewApp(cfg, logging.NewNop(), pitch.WithClock(clock.Now))
	require.NoError(t, err)

	var out bytes.Buffer
	err = RunPlay(context.Background(), app.Engine, clock, PlayOptions{
		Headless: true,
		Input:    strings.NewReader("wait\n\nexit\n"),
		Output:   &out,
	})
	require.NoError(t, err)
	assert.Equal(t, "You sit on the porch.\nOK, waiting...\nThe mail arrives.\nBye!\n", out.String())

	// A fresh play starts over.
	out.Reset()
	err = RunPlay(context.Background(), app.Engine, clock, PlayOptions{
		Fresh:    true,
		Headless: true,
		Input:    strings.NewReader(""),
		Output:   &out,
	})
	require.NoError(t, err)
	assert.Equal(t, "You sit on the porch.\n", out.String())
}

func TestRunPlay_Banner(t *testing.T) {
	clock := NewVirtualClock()
	app, err := NewApp(testConfig(t, config.StoreMemory), logging.NewNop(), pitch.WithClock(clock.Now))
	require.NoError(t, err)

	var out bytes.Buffer
	err = RunPlay(context.Background(), app.Engine, clock, PlayOptions{
		Identity: "me",
		Input:    strings.NewReader("quit\n"),
		Output:   &out,
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), `Playing "porch" as 'me'`)
	assert.Contains(t, out.String(), "Bye!")
}
