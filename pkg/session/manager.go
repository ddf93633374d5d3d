package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/aretw0/pitch/internal/logging"
	"github.com/aretw0/pitch/pkg/domain"
	"github.com/aretw0/pitch/pkg/ports"
)

// DefaultLockTTL bounds how long a crashed replica can hold a distributed lock.
const DefaultLockTTL = 30 * time.Second

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager serializes work per identity, so that reading the latest visit
// and appending the next one never interleave for the same user.
// It uses Reference Counting to garbage collect unused locks.
type Manager struct {
	store ports.VisitStore

	mu    sync.Mutex            // Global lock for the map
	locks map[string]*lockEntry // Map of active locks

	locker  ports.DistributedLocker // Optional distributed locker
	lockTTL time.Duration
	logger  *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the lease of distributed locks.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.lockTTL = ttl
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a new session Manager over the given store.
func NewManager(store ports.VisitStore, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[string]*lockEntry),
		lockTTL: DefaultLockTTL,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(identity) after unlocking.
func (m *Manager) acquire(identity string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[identity]
	if !exists {
		entry = &lockEntry{}
		m.locks[identity] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(identity string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[identity]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, identity)
	}
}

// WithLock executes fn while holding the lock for the identity.
func (m *Manager) WithLock(ctx context.Context, identity string, fn func(context.Context) error) error {
	entry := m.acquire(identity)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(identity)
	}()

	if err := ctx.Err(); err != nil {
		return err
	}

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, identity, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			// Release with a fresh context so a cancelled request still unlocks.
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"identity", identity,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}

// History returns the recorded log of an identity.
func (m *Manager) History(ctx context.Context, identity string) (*domain.History, error) {
	return m.store.History(ctx, identity)
}

// Reset deletes a user and its whole history, waiting for any in-flight run.
func (m *Manager) Reset(ctx context.Context, identity string) error {
	return m.WithLock(ctx, identity, func(ctx context.Context) error {
		return m.store.DeleteUser(ctx, identity)
	})
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]domain.User, error) {
	return m.store.ListUsers(ctx)
}

// Store returns the underlying visit store.
func (m *Manager) Store() ports.VisitStore {
	return m.store
}
