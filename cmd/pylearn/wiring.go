package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/pylearn/internal/app"
	"github.com/felixgeelhaar/pylearn/internal/catalog"
	"github.com/felixgeelhaar/pylearn/internal/config"
	"github.com/felixgeelhaar/pylearn/internal/i18n"
	"github.com/felixgeelhaar/pylearn/internal/progress"
	"github.com/felixgeelhaar/pylearn/internal/queue"
	"github.com/felixgeelhaar/pylearn/internal/runner"
	"github.com/felixgeelhaar/pylearn/internal/storage"
	"github.com/felixgeelhaar/pylearn/internal/storage/local"
	"github.com/felixgeelhaar/pylearn/internal/storage/postgres"
	"github.com/felixgeelhaar/pylearn/internal/storage/sqlite"
)

// openStorage returns the configured progress backend. The closer is nil
// for backends without connections.
func openStorage(ctx context.Context, cfg config.StorageConfig) (storage.KV, io.Closer, error) {
	switch cfg.Backend {
	case "memory":
		return storage.NewMemory(), nil, nil

	case "local":
		store, err := local.NewStore(cfg.Path, cfg.QuotaBytes)
		if err != nil {
			return nil, nil, fmt.Errorf("open local storage: %w", err)
		}
		return store, nil, nil

	case "sqlite":
		path := cfg.Path
		if filepath.Ext(path) == "" {
			path = filepath.Join(path, "pylearn.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, nil, fmt.Errorf("create sqlite directory: %w", err)
		}
		db, err := sqlite.Open(path)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		store := sqlite.NewKVStore(db)
		return store, store, nil

	case "postgres":
		store, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil

	default:
		return nil, nil, fmt.Errorf("%w: storage backend %q", config.ErrInvalidConfig, cfg.Backend)
	}
}

// newRuntime builds the configured Python runtime
func newRuntime(cfg *config.LocalConfig, backend string) (runner.Runtime, error) {
	switch backend {
	case "local":
		return runner.NewLocalRuntime(cfg.Runner.Python), nil
	case "docker":
		return runner.NewDockerRuntime(cfg.Runner.Docker.Sandbox(), slog.Default()), nil
	case "queue":
		return queue.NewRemoteRuntime(cfg.Queue.URL), nil
	default:
		return nil, fmt.Errorf("%w: runner backend %q", config.ErrInvalidConfig, backend)
	}
}

func openCatalog(cfg config.LearningConfig) (*catalog.Catalog, error) {
	if cfg.LessonsDir != "" {
		return catalog.LoadDir(cfg.LessonsDir)
	}
	return catalog.LoadBuiltin()
}

// env is everything a session needs
type env struct {
	cfg      *config.LocalConfig
	catalog  *catalog.Catalog
	progress *progress.Store
	gateway  *runner.Gateway
	tr       *i18n.Translator
	closers  []io.Closer
}

// openEnv wires catalog, storage, translator and runtime gateway
func openEnv(ctx context.Context, cfg *config.LocalConfig) (*env, error) {
	cat, err := openCatalog(cfg.Learning)
	if err != nil {
		return nil, fmt.Errorf("load lessons: %w", err)
	}

	tr, err := i18n.New(cfg.Learning.Locale)
	if err != nil {
		return nil, err
	}

	kv, closer, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	rt, err := newRuntime(cfg, cfg.Runner.Backend)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, err
	}

	gwCfg := runner.DefaultConfig()
	gwCfg.Timeout = cfg.Runner.Timeout()
	if cfg.Runner.StartAttempts > 0 {
		gwCfg.StartAttempts = cfg.Runner.StartAttempts
	}

	e := &env{
		cfg:      cfg,
		catalog:  cat,
		progress: progress.NewStore(kv, progress.WithLogger(slog.Default())),
		gateway:  runner.NewGateway(rt, gwCfg, slog.Default()),
		tr:       tr,
	}
	e.closers = append(e.closers, e.gateway)
	if closer != nil {
		e.closers = append(e.closers, closer)
	}
	return e, nil
}

// controller builds the application controller over env
func (e *env) controller() *app.Controller {
	return app.New(app.Deps{
		Catalog:    e.catalog,
		Progress:   e.progress,
		Gateway:    e.gateway,
		Translator: e.tr,
		Logger:     slog.Default(),
	}, app.Config{
		QuizDelay:     e.cfg.Learning.QuizDelay(),
		TierDelay:     e.cfg.Learning.TierDelay(),
		LessonDelay:   e.cfg.Learning.LessonDelay(),
		FeedbackDelay: e.cfg.Learning.FeedbackDelay(),
	})
}

func (e *env) Close() error {
	var errs []error
	for _, c := range e.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
