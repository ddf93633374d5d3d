package pitch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/pitch/internal/compiler"
	"github.com/aretw0/pitch/internal/logging"
	"github.com/aretw0/pitch/internal/runtime"
	"github.com/aretw0/pitch/pkg/adapters/memory"
	"github.com/aretw0/pitch/pkg/domain"
	"github.com/aretw0/pitch/pkg/graph"
	"github.com/aretw0/pitch/pkg/ports"
	"github.com/aretw0/pitch/pkg/session"
)

// Engine is the high-level entry point for the pitch library.
// It compiles a script once and dispatches inbound events against it.
type Engine struct {
	script     *domain.Script
	graph      *graph.Graph
	dispatcher *runtime.Dispatcher
	sessions   *session.Manager

	store    ports.VisitStore
	locker   ports.DistributedLocker
	lockTTL  time.Duration
	hooks    domain.LifecycleHooks
	logger   *slog.Logger
	clock    func() time.Time
	maxDepth int

	// Name labels the script in logs, taken from its file name.
	Name string
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithStore sets where visits and messages are kept. Defaults to memory.
func WithStore(store ports.VisitStore) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithLocker serializes users across replicas.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(e *Engine) {
		e.locker = locker
	}
}

// WithLockTTL sets the lease of distributed locks.
func WithLockTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.lockTTL = ttl
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = e.hooks.Merge(hooks)
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock replaces time.Now for timers.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.clock = now
	}
}

// WithMaxChainDepth bounds the automatic steps of one run.
func WithMaxChainDepth(depth int) Option {
	return func(e *Engine) {
		e.maxDepth = depth
	}
}

// New compiles the script file at path.
func New(path string, opts ...Option) (*Engine, error) {
	script, err := compiler.NewParser().ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load script %s: %w", path, err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return build(name, script, opts)
}

// NewFromScript compiles a script document held in memory.
func NewFromScript(data []byte, opts ...Option) (*Engine, error) {
	script, err := compiler.NewParser().Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	return build("", script, opts)
}

// NewFromModel compiles a script built in code, e.g. with the dsl package.
func NewFromModel(name string, script *domain.Script, opts ...Option) (*Engine, error) {
	return build(name, script, opts)
}

func build(name string, script *domain.Script, opts []Option) (*Engine, error) {
	eng := &Engine{Name: name, clock: time.Now}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.logger == nil {
		eng.logger = logging.NewNop()
	}
	if eng.Name != "" {
		eng.logger = eng.logger.With("script", eng.Name)
	}
	if eng.store == nil {
		eng.store = memory.NewStore()
	}

	g, err := compiler.New(compiler.WithLogger(eng.logger)).Compile(script)
	if err != nil {
		return nil, err
	}
	eng.script = script
	eng.graph = g

	sessionOpts := []session.Option{session.WithLogger(eng.logger)}
	if eng.locker != nil {
		sessionOpts = append(sessionOpts, session.WithLocker(eng.locker))
	}
	if eng.lockTTL > 0 {
		sessionOpts = append(sessionOpts, session.WithLockTTL(eng.lockTTL))
	}
	eng.sessions = session.NewManager(eng.store, sessionOpts...)

	eng.dispatcher = runtime.NewDispatcher(g, eng.store, eng.sessions,
		runtime.WithLogger(eng.logger),
		runtime.WithLifecycleHooks(eng.hooks),
		runtime.WithClock(eng.clock),
		runtime.WithMaxChainDepth(eng.maxDepth),
	)
	return eng, nil
}

// Run handles one inbound event for identity. An empty text is a wake-up.
func (e *Engine) Run(ctx context.Context, identity, text string) (domain.Session, error) {
	return e.dispatcher.Run(ctx, identity, text)
}

// Due lists users whose timers have expired.
func (e *Engine) Due(ctx context.Context, limit int) ([]domain.DueVisit, error) {
	return e.store.DueVisits(ctx, e.clock(), limit)
}

// History returns the log of one user.
func (e *Engine) History(ctx context.Context, identity string) (*domain.History, error) {
	return e.sessions.History(ctx, identity)
}

// Reset forgets a user, so the next message starts the script over.
func (e *Engine) Reset(ctx context.Context, identity string) error {
	return e.sessions.Reset(ctx, identity)
}

// Users lists every known user.
func (e *Engine) Users(ctx context.Context) ([]domain.User, error) {
	return e.sessions.List(ctx)
}

// Position returns the node a user is waiting at, or "" for new users.
func (e *Engine) Position(ctx context.Context, identity string) (string, error) {
	h, err := e.History(ctx, identity)
	if err != nil {
		return "", err
	}
	if len(h.Visits) == 0 {
		return "", nil
	}
	return h.Visits[len(h.Visits)-1].NextNode, nil
}

// Graph returns the compiled graph.
func (e *Engine) Graph() *graph.Graph {
	return e.graph
}

// Script returns the parsed script.
func (e *Engine) Script() *domain.Script {
	return e.script
}

// Store returns the visit store in use.
func (e *Engine) Store() ports.VisitStore {
	return e.store
}
