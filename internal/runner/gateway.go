package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"golang.org/x/sync/singleflight"
)

// Config holds gateway configuration
type Config struct {
	Timeout       time.Duration
	StartAttempts int
	StartDelay    time.Duration
}

// DefaultConfig returns default gateway configuration
func DefaultConfig() Config {
	return Config{
		Timeout:       10 * time.Second,
		StartAttempts: 3,
		StartDelay:    time.Second,
	}
}

// Gateway wraps a Runtime with memoized initialization, output capture and
// diagnostic formatting.
type Gateway struct {
	runtime Runtime
	config  Config
	retrier retry.Retry[struct{}]
	group   singleflight.Group
	logger  *slog.Logger

	mu        sync.RWMutex
	status    Status
	lastErr   error
	observers []Observer
	closed    bool

	// runMu serializes executions so the capture buffer belongs to one run.
	runMu   sync.Mutex
	capture bytes.Buffer
}

// NewGateway creates a gateway over rt
func NewGateway(rt Runtime, cfg Config, logger *slog.Logger) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.StartAttempts <= 0 {
		cfg.StartAttempts = 1
	}
	if cfg.StartDelay <= 0 {
		cfg.StartDelay = DefaultConfig().StartDelay
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Gateway{
		runtime: rt,
		config:  cfg,
		logger:  logger,
		status:  StatusIdle,
		retrier: retry.New[struct{}](retry.Config{
			MaxAttempts:   cfg.StartAttempts,
			InitialDelay:  cfg.StartDelay,
			MaxDelay:      30 * time.Second,
			Multiplier:    2.0,
			BackoffPolicy: retry.BackoffExponential,
			Jitter:        true,
		}),
	}
}

// OnStatus registers an observer for status transitions
func (g *Gateway) OnStatus(obs Observer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.observers = append(g.observers, obs)
}

func (g *Gateway) setStatus(s Status, err error) {
	g.mu.Lock()
	g.status = s
	g.lastErr = err
	observers := append([]Observer(nil), g.observers...)
	g.mu.Unlock()

	for _, obs := range observers {
		obs(s)
	}
}

// Status returns the current runtime status and the last start error.
func (g *Gateway) Status() (Status, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status, g.lastErr
}

// Runtime returns the name of the underlying runtime
func (g *Gateway) Runtime() string {
	return g.runtime.Name()
}

// IsReady reports whether initialization succeeded and none is in progress.
func (g *Gateway) IsReady() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status == StatusReady && !g.closed
}

// Initialize starts the runtime once. Concurrent callers share the same
// in-flight start. A failed start is not remembered, so a later call tries
// again.
func (g *Gateway) Initialize(ctx context.Context) error {
	if g.IsReady() {
		return nil
	}

	g.mu.RLock()
	closed := g.closed
	g.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	ch := g.group.DoChan("init", func() (any, error) {
		if g.IsReady() {
			return nil, nil
		}

		g.setStatus(StatusLoading, nil)
		g.logger.Info("starting python runtime", "runtime", g.runtime.Name())

		// The shared start must not die with the first caller's context.
		startCtx := context.WithoutCancel(ctx)
		_, err := g.retrier.Do(startCtx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, g.runtime.Start(ctx)
		})
		if err != nil {
			g.setStatus(StatusError, err)
			g.logger.Error("python runtime failed to start", "runtime", g.runtime.Name(), "error", err)
			return nil, fmt.Errorf("%w: %v", ErrNotReady, err)
		}

		g.setStatus(StatusReady, nil)
		g.logger.Info("python runtime ready", "runtime", g.runtime.Name())
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes code, initializing the runtime first if needed. Execution
// faults come back in Result.Error; the returned error is reserved for
// infrastructure failures.
func (g *Gateway) Run(ctx context.Context, code string) (Result, error) {
	if err := g.Initialize(ctx); err != nil {
		return Result{}, err
	}

	g.runMu.Lock()
	defer g.runMu.Unlock()

	g.capture.Reset()

	runCtx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	start := time.Now()
	err := g.runtime.Exec(runCtx, code, &g.capture)
	duration := time.Since(start)

	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		var fault *Fault
		if !errors.As(err, &fault) {
			err = TimeoutFault(g.config.Timeout)
		}
	}

	var fault *Fault
	if errors.As(err, &fault) {
		g.logger.Debug("execution fault", "runtime", g.runtime.Name(), "exit_code", fault.ExitCode)
		return Result{
			Output:   "",
			Error:    fault.Diagnostic(),
			Duration: duration,
		}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("execute: %w", err)
	}

	return Result{
		Output:   strings.TrimSuffix(g.capture.String(), "\n"),
		Duration: duration,
	}, nil
}

// Close shuts the runtime down
func (g *Gateway) Close() error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	g.runMu.Lock()
	defer g.runMu.Unlock()
	return g.runtime.Close()
}
