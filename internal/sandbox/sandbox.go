// Package sandbox manages the long-lived Docker container user code runs in.
package sandbox

import (
	"errors"
	"time"
)

// ExecResult is what one execution printed and how it ended. Output holds
// both streams in the order they were written; Stderr repeats the error
// stream alone for traceback parsing.
type ExecResult struct {
	ExitCode int           `json:"exit_code"`
	Output   string        `json:"output"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out"`
}

// Config holds sandbox creation parameters.
type Config struct {
	Image      string  `json:"image"`
	MemoryMB   int     `json:"memory_mb"`
	CPULimit   float64 `json:"cpu_limit"`
	NetworkOff bool    `json:"network_off"`
	PidsLimit  int64   `json:"pids_limit"`
}

// DefaultConfig returns sensible defaults for a Python sandbox.
func DefaultConfig() Config {
	return Config{
		Image:      "python:3.12-alpine",
		MemoryMB:   128,
		CPULimit:   0.5,
		NetworkOff: true,
		PidsLimit:  64,
	}
}

var (
	ErrSandboxNotReady = errors.New("sandbox is not ready")
	ErrDockerDown      = errors.New("docker not reachable")
)
