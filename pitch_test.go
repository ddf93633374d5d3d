package pitch_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/pitch"
	"github.com/aretw0/pitch/internal/adapters/file"
	"github.com/aretw0/pitch/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const story = `
locations:
  room:
    enter:
      - You wake up.
      - You see a door.
    actions:
      open:
        - say: It creaks open.
        - goto: hall
      wait:
        - say: OK, waiting...
          delay: 1h
        - say: Time passes.
  hall:
    enter: A long hall.
    actions:
      back:
        - goto: room
`

func writeStory(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "story.yaml")
	require.NoError(t, os.WriteFile(path, []byte(story), 0644))
	return path
}

func TestFacade_Integration(t *testing.T) {
	eng, err := pitch.New(writeStory(t))
	require.NoError(t, err)
	assert.Equal(t, "story", eng.Name)
	assert.Equal(t, "room_enter_2", eng.Graph().StartName())
	assert.Len(t, eng.Script().Locations, 2)

	ctx := context.Background()
	s, err := eng.Run(ctx, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, "You wake up.\nYou see a door.", s.Reply())

	s, err = eng.Run(ctx, "alice", "open")
	require.NoError(t, err)
	assert.Equal(t, []string{"It creaks open.", "A long hall."}, s.Texts())

	pos, err := eng.Position(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "hall_choice", pos)

	s, err = eng.Run(ctx, "alice", "back")
	require.NoError(t, err)
	assert.Equal(t, []string{"You wake up.", "You see a door."}, s.Texts())
}

func TestFacade_InvalidScript(t *testing.T) {
	_, err := pitch.NewFromScript([]byte("locations:\n  room:\n    actions: {}\n"))
	assert.ErrorIs(t, err, domain.ErrInvalidSpec)

	_, err = pitch.New(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestFacade_ResetAndUsers(t *testing.T) {
	eng, err := pitch.NewFromScript([]byte(story))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = eng.Run(ctx, "alice", "")
	require.NoError(t, err)
	_, err = eng.Run(ctx, "bob", "")
	require.NoError(t, err)

	users, err := eng.Users(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	require.NoError(t, eng.Reset(ctx, "alice"))
	_, err = eng.History(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	// A reset user starts over.
	s, err := eng.Run(ctx, "alice", "open")
	require.NoError(t, err)
	assert.Equal(t, []string{"You wake up.", "You see a door."}, s.Texts())
}

func TestFacade_DueWithFileStore(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	eng, err := pitch.NewFromScript([]byte(story),
		pitch.WithStore(file.New(t.TempDir())),
		pitch.WithClock(clock),
	)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = eng.Run(ctx, "alice", "")
	require.NoError(t, err)
	_, err = eng.Run(ctx, "alice", "wait")
	require.NoError(t, err)

	due, err := eng.Due(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	mu.Lock()
	now = now.Add(2 * time.Hour)
	mu.Unlock()

	due, err = eng.Due(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "alice", due[0].Identity)

	s, err := eng.Run(ctx, due[0].Identity, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"Time passes."}, s.Texts())
}

func TestRunner_Headless(t *testing.T) {
	eng, err := pitch.NewFromScript([]byte(story))
	require.NoError(t, err)

	var out bytes.Buffer
	r := pitch.NewRunner()
	r.Headless = true
	r.Input = strings.NewReader("open\nback\nexit\n")
	r.Output = &out

	require.NoError(t, r.Run(context.Background(), eng))

	assert.Equal(t, strings.Join([]string{
		"You wake up.",
		"You see a door.",
		"It creaks open.",
		"A long hall.",
		"You wake up.",
		"You see a door.",
		"Bye!",
	}, "\n")+"\n", out.String())
}

func TestRunner_FastForwardsTimers(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	eng, err := pitch.NewFromScript([]byte(story), pitch.WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}))
	require.NoError(t, err)

	var out bytes.Buffer
	r := pitch.NewRunner()
	r.Headless = true
	r.Input = strings.NewReader("wait\n\n")
	r.Output = &out
	r.BeforeWake = func(until time.Time) {
		mu.Lock()
		defer mu.Unlock()
		now = until
	}

	require.NoError(t, r.Run(context.Background(), eng))
	assert.Contains(t, out.String(), "OK, waiting...\nTime passes.\n")
}
