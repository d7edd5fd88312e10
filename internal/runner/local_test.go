package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func requirePython(t *testing.T) *LocalRuntime {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
	rt := NewLocalRuntime("")
	if err := rt.Start(context.Background()); err != nil {
		t.Skipf("python3 unusable: %v", err)
	}
	return rt
}

func TestLocalRuntime_Exec(t *testing.T) {
	rt := requirePython(t)

	var out bytes.Buffer
	if err := rt.Exec(context.Background(), `print("Hello, World!")`, &out); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if out.String() != "Hello, World!\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestLocalRuntime_Fault(t *testing.T) {
	rt := requirePython(t)

	var out bytes.Buffer
	err := rt.Exec(context.Background(), "x = 1\nprint(y)\n", &out)

	var fault *Fault
	if !errors.As(err, &fault) {
		t.Fatalf("Exec() error = %v; want *Fault", err)
	}
	if fault.ExitCode != 1 {
		t.Errorf("ExitCode = %d; want 1", fault.ExitCode)
	}
	diag := FormatDiagnostic(fault.Traceback)
	if !strings.Contains(diag, `File "main.py", line 2`) {
		t.Errorf("diagnostic missing user frame: %q", diag)
	}
	if !strings.Contains(diag, "NameError") {
		t.Errorf("diagnostic missing exception: %q", diag)
	}
}

func TestLocalRuntime_SilentExitFails(t *testing.T) {
	rt := requirePython(t)
	g := NewGateway(rt, Config{Timeout: 5 * time.Second, StartAttempts: 1, StartDelay: time.Millisecond}, nil)
	defer g.Close()

	res, err := g.Run(context.Background(), "print('partial')\nimport sys\nsys.exit(1)\n")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.Failed() {
		t.Fatalf("non-zero exit reported as success: %+v", res)
	}
	if res.Error != "SystemExit: exit code 1" {
		t.Errorf("Error = %q", res.Error)
	}
}

func TestLocalRuntime_Deadline(t *testing.T) {
	rt := requirePython(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	err := rt.Exec(ctx, "while True:\n    pass\n", &out)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Exec() error = %v; want deadline exceeded", err)
	}
}

func TestLocalRuntime_NotStarted(t *testing.T) {
	rt := NewLocalRuntime("python3")
	if err := rt.Exec(context.Background(), "print(1)", &bytes.Buffer{}); !errors.Is(err, ErrNotReady) {
		t.Errorf("Exec() before Start error = %v; want ErrNotReady", err)
	}
}

func TestLocalRuntime_MissingInterpreter(t *testing.T) {
	rt := NewLocalRuntime("definitely-not-python-xyz")
	if err := rt.Start(context.Background()); err == nil {
		t.Error("Start() expected error for missing interpreter")
	}
}

func TestCreateTempCodeDir(t *testing.T) {
	dir, err := createTempCodeDir(map[string]string{
		"main.py":        "print(1)",
		"pkg/helpers.py": "X = 1",
	})
	if err != nil {
		t.Fatalf("createTempCodeDir() error = %v", err)
	}
	defer removeTempDir(dir)

	data, err := os.ReadFile(filepath.Join(dir, "pkg", "helpers.py"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "X = 1" {
		t.Errorf("content = %q", data)
	}
}
