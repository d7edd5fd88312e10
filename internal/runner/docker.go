package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/google/uuid"

	"github.com/felixgeelhaar/pylearn/internal/sandbox"
)

// containerBackend is the slice of the Docker API a runtime drives.
type containerBackend interface {
	CreateContainer(ctx context.Context, cfg sandbox.Config) (string, error)
	CopyFiles(ctx context.Context, containerID, dir string, files map[string]string) error
	Exec(ctx context.Context, containerID, dir string, cmd []string, timeout time.Duration) (*sandbox.ExecResult, error)
	RemoveDir(ctx context.Context, containerID, dir string) error
	DestroyContainer(ctx context.Context, containerID string) error
	IsContainerRunning(ctx context.Context, containerID string) (bool, error)
	Close() error
}

// DockerRuntime runs code inside one long-lived container. Every run gets
// its own directory in the container, so concurrent runs never see each
// other's files. Docker failures trip a circuit breaker so a dead daemon
// fails fast instead of stalling every run.
type DockerRuntime struct {
	config  sandbox.Config
	logger  *slog.Logger
	breaker circuitbreaker.CircuitBreaker[*sandbox.ExecResult]
	dial    func(ctx context.Context) (containerBackend, error)

	mu          sync.Mutex
	backend     containerBackend
	containerID string
}

func dialDocker(ctx context.Context) (containerBackend, error) {
	backend, err := sandbox.NewDockerBackend(ctx)
	if err != nil {
		return nil, err
	}
	return backend, nil
}

// NewDockerRuntime creates a Docker-backed runtime
func NewDockerRuntime(cfg sandbox.Config, logger *slog.Logger) *DockerRuntime {
	if logger == nil {
		logger = slog.Default()
	}
	r := &DockerRuntime{config: cfg, logger: logger, dial: dialDocker}
	r.breaker = circuitbreaker.New[*sandbox.ExecResult](circuitbreaker.Config{
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts circuitbreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(from, to circuitbreaker.State) {
			logger.Warn("docker circuit breaker state change",
				"from", from.String(),
				"to", to.String())
		},
	})
	return r
}

// Name implements Runtime
func (r *DockerRuntime) Name() string {
	return "docker"
}

// Start connects to Docker and creates the sandbox container
func (r *DockerRuntime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.backend == nil {
		backend, err := r.dial(ctx)
		if err != nil {
			return err
		}
		r.backend = backend
	}

	if r.containerID != "" {
		return nil
	}

	id, err := r.backend.CreateContainer(ctx, r.config)
	if err != nil {
		return err
	}
	r.containerID = id
	r.logger.Info("sandbox container started", "container", shortID(id), "image", r.config.Image)
	return nil
}

// Exec implements Runtime
func (r *DockerRuntime) Exec(ctx context.Context, code string, out io.Writer) error {
	deadline, ok := ctx.Deadline()
	timeout := 10 * time.Second
	if ok {
		timeout = time.Until(deadline)
	}

	res, err := r.breaker.Execute(ctx, func(ctx context.Context) (*sandbox.ExecResult, error) {
		return r.exec(ctx, code, timeout)
	})
	if err != nil {
		return fmt.Errorf("docker exec: %w", err)
	}

	io.WriteString(out, res.Output)

	if res.TimedOut {
		return TimeoutFault(timeout.Round(time.Second))
	}
	if res.ExitCode != 0 {
		return &Fault{Traceback: res.Stderr, ExitCode: res.ExitCode}
	}
	return nil
}

func (r *DockerRuntime) exec(ctx context.Context, code string, timeout time.Duration) (*sandbox.ExecResult, error) {
	backend, id, err := r.container(ctx)
	if err != nil {
		return nil, err
	}

	dir := "run-" + uuid.NewString()
	defer func() {
		if err := backend.RemoveDir(context.WithoutCancel(ctx), id, dir); err != nil {
			r.logger.Debug("remove run directory", "dir", dir, "error", err)
		}
	}()

	if err := backend.CopyFiles(ctx, id, dir, map[string]string{UserFile: code}); err != nil {
		return nil, fmt.Errorf("copy code: %w", err)
	}

	return backend.Exec(ctx, id, dir, []string{"python3", "-u", sandbox.RunPath(dir, UserFile)}, timeout)
}

// container returns the live sandbox container, recreating it if it died
// between runs. Concurrent callers that find the same dead container share
// one replacement.
func (r *DockerRuntime) container(ctx context.Context) (containerBackend, string, error) {
	r.mu.Lock()
	backend, id := r.backend, r.containerID
	r.mu.Unlock()

	if backend == nil || id == "" {
		return nil, "", sandbox.ErrSandboxNotReady
	}

	running, err := backend.IsContainerRunning(ctx, id)
	if err == nil && running {
		return backend, id, nil
	}

	r.logger.Warn("sandbox container gone, recreating", "container", shortID(id), "error", err)
	r.mu.Lock()
	if r.containerID == id {
		r.containerID = ""
	}
	r.mu.Unlock()

	if err := r.Start(ctx); err != nil {
		return nil, "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.backend, r.containerID, nil
}

// Close removes the container and closes the Docker client
func (r *DockerRuntime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.backend == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var err error
	if r.containerID != "" {
		err = r.backend.DestroyContainer(ctx, r.containerID)
		r.containerID = ""
	}
	if cerr := r.backend.Close(); err == nil {
		err = cerr
	}
	r.backend = nil
	return err
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

var _ Runtime = (*DockerRuntime)(nil)
