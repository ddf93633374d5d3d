package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"

	"github.com/aretw0/pitch"
	"github.com/aretw0/pitch/internal/adapters/file"
	"github.com/aretw0/pitch/internal/config"
	"github.com/aretw0/pitch/internal/metrics"
	"github.com/aretw0/pitch/pkg/adapters/memory"
	"github.com/aretw0/pitch/pkg/adapters/redis"
	"github.com/aretw0/pitch/pkg/adapters/sqlstore"
	"github.com/aretw0/pitch/pkg/persistence/middleware"
	"github.com/aretw0/pitch/pkg/ports"
)

// App bundles an engine with the resources it was built on.
type App struct {
	Config  config.Config
	Engine  *pitch.Engine
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	closers []io.Closer
}

// Close releases store connections.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// NewApp opens the configured store, decorates it and compiles the script.
// extra options are applied after the configured ones.
func NewApp(cfg config.Config, logger *slog.Logger, extra ...pitch.Option) (*App, error) {
	app := &App{Config: cfg, Logger: logger, Metrics: metrics.New()}

	store, locker, err := app.openStore()
	if err != nil {
		return nil, err
	}
	store, err = decorate(store, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}

	opts := []pitch.Option{
		pitch.WithStore(store),
		pitch.WithLogger(logger),
		pitch.WithLifecycleHooks(app.Metrics.Hooks()),
		pitch.WithLockTTL(cfg.LockTTL),
		pitch.WithMaxChainDepth(cfg.MaxChainDepth),
	}
	if locker != nil {
		opts = append(opts, pitch.WithLocker(locker))
	}
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		opts = append(opts, pitch.WithLifecycleHooks(createDebugHooks(logger)))
	}
	opts = append(opts, extra...)

	engine, err := pitch.New(cfg.Script, opts...)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("error initializing engine: %w", err)
	}
	app.Engine = engine
	logger.Debug("Engine ready", "script", cfg.Script, "store", cfg.Store)
	return app, nil
}

func (a *App) openStore() (ports.VisitStore, ports.DistributedLocker, error) {
	cfg := a.Config
	switch cfg.Store {
	case config.StoreMemory:
		return memory.NewStore(), nil, nil
	case config.StoreFile, "":
		return file.New(filepath.Join(cfg.StateDir, "users")), nil, nil
	case config.StoreSQLite, config.StorePostgres:
		dialect := sqlstore.SQLite
		if cfg.Store == config.StorePostgres {
			dialect = sqlstore.Postgres
		}
		s, err := sqlstore.New(dialect, sqlstore.WithDSN(cfg.DSN), sqlstore.WithLogger(a.Logger))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open %s store: %w", cfg.Store, err)
		}
		a.closers = append(a.closers, s)
		return s, nil, nil
	case config.StoreRedis:
		s := redis.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		a.closers = append(a.closers, s)
		return s, redis.NewLocker(s.Client(), "pitch:lock:"), nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// decorate wraps the store with PII masking outside encryption, so what
// gets encrypted is already masked.
func decorate(store ports.VisitStore, cfg config.Config) (ports.VisitStore, error) {
	var mws []middleware.Middleware
	if len(cfg.PIIPatterns) > 0 {
		for _, p := range cfg.PIIPatterns {
			if _, err := regexp.Compile(p); err != nil {
				return nil, fmt.Errorf("invalid PII pattern %q: %w", p, err)
			}
		}
		mws = append(mws, middleware.NewPIIMiddleware(cfg.PIIPatterns))
	}
	if cfg.EncryptionKey != "" {
		key, err := cfg.EncryptionKeyBytes()
		if err != nil {
			return nil, err
		}
		mws = append(mws, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key}))
	}
	return middleware.Chain(store, mws...), nil
}
