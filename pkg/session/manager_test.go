package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/pitch/pkg/adapters/memory"
	"github.com/aretw0/pitch/pkg/domain"
	"github.com/aretw0/pitch/pkg/ports"
	"github.com/aretw0/pitch/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_Locking(t *testing.T) {
	manager := session.NewManager(memory.NewStore())
	ctx := context.Background()
	id := "+15551230000"

	var inside int32
	var maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := manager.WithLock(ctx, id, func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond) // Simulate IO
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside, "Work for one identity must be serialized")
}

func TestManager_DifferentIdentitiesRunInParallel(t *testing.T) {
	manager := session.NewManager(memory.NewStore())
	ctx := context.Background()

	release := make(chan struct{})
	entered := make(chan struct{})

	go func() {
		_ = manager.WithLock(ctx, "alice", func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	done := make(chan struct{})
	go func() {
		_ = manager.WithLock(ctx, "bob", func(ctx context.Context) error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("bob was blocked by alice's lock")
	}
	close(release)
}

func TestManager_PropagatesError(t *testing.T) {
	manager := session.NewManager(memory.NewStore())
	boom := errors.New("boom")

	err := manager.WithLock(context.Background(), "x", func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestManager_CancelledContext(t *testing.T) {
	manager := session.NewManager(memory.NewStore())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := manager.WithLock(ctx, "x", func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

type recordingLocker struct {
	mu       sync.Mutex
	keys     []string
	ttls     []time.Duration
	unlocked int
	failWith error
}

func (l *recordingLocker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failWith != nil {
		return nil, l.failWith
	}
	l.keys = append(l.keys, key)
	l.ttls = append(l.ttls, ttl)
	return func(ctx context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.unlocked++
		return nil
	}, nil
}

func TestManager_DistributedLocker(t *testing.T) {
	locker := &recordingLocker{}
	manager := session.NewManager(memory.NewStore(),
		session.WithLocker(locker),
		session.WithLockTTL(5*time.Second),
	)

	require.NoError(t, manager.WithLock(context.Background(), "alice", func(ctx context.Context) error { return nil }))

	assert.Equal(t, []string{"alice"}, locker.keys)
	assert.Equal(t, []time.Duration{5 * time.Second}, locker.ttls)
	assert.Equal(t, 1, locker.unlocked)
}

func TestManager_DistributedLockerFailure(t *testing.T) {
	down := errors.New("redis down")
	manager := session.NewManager(memory.NewStore(), session.WithLocker(&recordingLocker{failWith: down}))

	called := false
	err := manager.WithLock(context.Background(), "alice", func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, down)
	assert.False(t, called)
}

func TestManager_ResetAndHistory(t *testing.T) {
	store := memory.NewStore()
	manager := session.NewManager(store)
	ctx := context.Background()

	_, err := store.CreateUser(ctx, "alice")
	require.NoError(t, err)

	h, err := manager.History(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", h.User.Identity)

	users, err := manager.List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	require.NoError(t, manager.Reset(ctx, "alice"))
	_, err = manager.History(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	assert.ErrorIs(t, manager.Reset(ctx, "alice"), domain.ErrUserNotFound)
}
