// Package runner is the code execution gateway: it owns a Python runtime,
// initializes it once, and turns executions into {output, error} results.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Runtime executes Python source. Everything the program writes to stdout
// and stderr goes to out. A *Fault error means the program itself failed;
// any other error is an infrastructure failure.
type Runtime interface {
	Name() string
	Start(ctx context.Context) error
	Exec(ctx context.Context, code string, out io.Writer) error
	Close() error
}

// Fault reports that user code raised, failed to parse, or ran too long.
type Fault struct {
	Traceback string
	ExitCode  int
}

func (f *Fault) Error() string {
	return fmt.Sprintf("SystemExit: exit code %d", f.ExitCode)
}

// Diagnostic is the condensed traceback, or the exit status when the
// program failed without writing one.
func (f *Fault) Diagnostic() string {
	if diag := FormatDiagnostic(f.Traceback); diag != "" {
		return diag
	}
	return f.Error()
}

// TimeoutFault builds the fault reported for an execution that hit its
// deadline.
func TimeoutFault(limit time.Duration) *Fault {
	return &Fault{
		Traceback: fmt.Sprintf("TimeoutError: execution exceeded %s", limit),
		ExitCode:  -1,
	}
}

// Result is what a run hands back to callers: captured output, or a
// condensed diagnostic when the program failed.
type Result struct {
	Output   string        `json:"output"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Failed reports whether the run ended in an execution fault.
func (r Result) Failed() bool {
	return r.Error != ""
}

// Status is the lifecycle state of the gateway runtime.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

// Observer receives status transitions.
type Observer func(status Status)

var (
	// ErrNotReady is returned when the runtime could not be initialized
	ErrNotReady = errors.New("python runtime not ready")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("gateway closed")
)
