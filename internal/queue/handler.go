package queue

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/felixgeelhaar/fortify/bulkhead"

	"github.com/felixgeelhaar/pylearn/internal/runner"
)

// HandlerConfig bounds how many jobs a worker executes at once
type HandlerConfig struct {
	MaxConcurrent int
	MaxQueue      int
	QueueTimeout  time.Duration
}

// DefaultHandlerConfig returns sensible defaults
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		MaxConcurrent: 2,
		MaxQueue:      8,
		QueueTimeout:  5 * time.Second,
	}
}

// NewRunHandler executes jobs on rt. The runtime must already be started.
func NewRunHandler(rt runner.Runtime, cfg HandlerConfig) JobHandler {
	if cfg.MaxConcurrent <= 0 {
		cfg = DefaultHandlerConfig()
	}
	bh := bulkhead.New[*RunResult](bulkhead.Config{
		MaxConcurrent: cfg.MaxConcurrent,
		MaxQueue:      cfg.MaxQueue,
		QueueTimeout:  cfg.QueueTimeout,
	})

	return func(ctx context.Context, job *RunJob) (*RunResult, error) {
		return bh.Execute(ctx, func(ctx context.Context) (*RunResult, error) {
			return runJob(ctx, rt, job)
		})
	}
}

func runJob(ctx context.Context, rt runner.Runtime, job *RunJob) (*RunResult, error) {
	var out bytes.Buffer
	err := rt.Exec(ctx, job.Code, &out)

	result := &RunResult{Output: out.String()}

	var fault *runner.Fault
	switch {
	case err == nil:
		result.Status = StatusCompleted
	case errors.As(err, &fault):
		result.Status = StatusFaulted
		result.Traceback = fault.Traceback
		result.ExitCode = fault.ExitCode
	case errors.Is(err, context.DeadlineExceeded):
		result.Status = StatusTimeout
		result.Error = "execution timed out"
	default:
		return nil, err
	}
	return result, nil
}
