package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// LocalRuntime runs code with a python3 interpreter on the host. It offers
// no isolation and is meant for development and single-user installs.
type LocalRuntime struct {
	python string
	path   string // resolved interpreter
}

// NewLocalRuntime creates a runtime for the given interpreter name or path
func NewLocalRuntime(python string) *LocalRuntime {
	if python == "" {
		python = "python3"
	}
	return &LocalRuntime{python: python}
}

// Name implements Runtime
func (r *LocalRuntime) Name() string {
	return "local"
}

// Start resolves the interpreter and checks that it runs
func (r *LocalRuntime) Start(ctx context.Context) error {
	path, err := exec.LookPath(r.python)
	if err != nil {
		return fmt.Errorf("find %s: %w", r.python, err)
	}

	out, err := exec.CommandContext(ctx, path, "--version").CombinedOutput()
	if err != nil {
		return fmt.Errorf("run %s --version: %w", path, err)
	}
	if !strings.HasPrefix(string(out), "Python 3") {
		return fmt.Errorf("unsupported interpreter: %s", strings.TrimSpace(string(out)))
	}

	r.path = path
	return nil
}

// Exec implements Runtime
func (r *LocalRuntime) Exec(ctx context.Context, code string, out io.Writer) error {
	if r.path == "" {
		return ErrNotReady
	}

	tmpDir, err := createTempCodeDir(map[string]string{UserFile: code})
	if err != nil {
		return fmt.Errorf("write code: %w", err)
	}
	defer removeTempDir(tmpDir)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.path, "-u", UserFile)
	cmd.Dir = tmpDir
	cmd.Env = append(os.Environ(), "PYTHONDONTWRITEBYTECODE=1", "PYTHONIOENCODING=utf-8")
	cmd.Stdin = nil
	cmd.Stdout = out
	cmd.Stderr = io.MultiWriter(out, &stderr)

	err = cmd.Run()
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &Fault{Traceback: stderr.String(), ExitCode: exitErr.ExitCode()}
	}
	return fmt.Errorf("run python: %w", err)
}

// Close implements Runtime
func (r *LocalRuntime) Close() error {
	return nil
}

// Helper functions
func createTempCodeDir(code map[string]string) (string, error) {
	tmpDir, err := os.MkdirTemp("", "pylearn-run-*")
	if err != nil {
		return "", err
	}

	for filename, content := range code {
		filePath := filepath.Join(tmpDir, filename)
		// Create parent directories if needed
		if dir := filepath.Dir(filePath); dir != tmpDir {
			os.MkdirAll(dir, 0755)
		}
		if err := os.WriteFile(filePath, []byte(content), 0644); err != nil {
			removeTempDir(tmpDir)
			return "", err
		}
	}

	return tmpDir, nil
}

func removeTempDir(dir string) {
	os.RemoveAll(dir)
}

var _ Runtime = (*LocalRuntime)(nil)
