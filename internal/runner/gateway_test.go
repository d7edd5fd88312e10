package runner

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeRuntime is a scriptable Runtime for gateway tests
type fakeRuntime struct {
	startCalls atomic.Int32
	startDelay time.Duration
	startErrs  []error // consumed in order, nil afterwards

	mu   sync.Mutex
	exec func(ctx context.Context, code string, out io.Writer) error
}

func (f *fakeRuntime) Name() string { return "fake" }

func (f *fakeRuntime) Start(ctx context.Context) error {
	n := int(f.startCalls.Add(1))
	if f.startDelay > 0 {
		time.Sleep(f.startDelay)
	}
	if n <= len(f.startErrs) {
		return f.startErrs[n-1]
	}
	return nil
}

func (f *fakeRuntime) Exec(ctx context.Context, code string, out io.Writer) error {
	f.mu.Lock()
	fn := f.exec
	f.mu.Unlock()
	if fn == nil {
		_, err := io.WriteString(out, code)
		return err
	}
	return fn(ctx, code, out)
}

func (f *fakeRuntime) Close() error { return nil }

func testConfig() Config {
	return Config{Timeout: time.Second, StartAttempts: 1, StartDelay: time.Millisecond}
}

func TestGateway_InitializeOnce(t *testing.T) {
	rt := &fakeRuntime{startDelay: 20 * time.Millisecond}
	g := NewGateway(rt, testConfig(), nil)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- g.Initialize(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Initialize() error = %v", err)
		}
	}
	if n := rt.startCalls.Load(); n != 1 {
		t.Errorf("Start called %d times; want 1", n)
	}

	// Already ready, no further starts
	if err := g.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if n := rt.startCalls.Load(); n != 1 {
		t.Errorf("Start called %d times after ready; want 1", n)
	}
}

func TestGateway_StatusTransitions(t *testing.T) {
	rt := &fakeRuntime{}
	g := NewGateway(rt, testConfig(), nil)

	var mu sync.Mutex
	var seen []Status
	g.OnStatus(func(s Status) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	if s, _ := g.Status(); s != StatusIdle {
		t.Errorf("initial status = %q; want idle", s)
	}
	if err := g.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []Status{StatusLoading, StatusReady}
	if len(seen) != len(want) {
		t.Fatalf("statuses = %v; want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("statuses[%d] = %q; want %q", i, seen[i], want[i])
		}
	}
	if !g.IsReady() {
		t.Error("IsReady() = false after successful start")
	}
}

func TestGateway_FailedStartIsRetriedLater(t *testing.T) {
	boom := errors.New("no interpreter")
	rt := &fakeRuntime{startErrs: []error{boom}}
	g := NewGateway(rt, testConfig(), nil)

	err := g.Initialize(context.Background())
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("Initialize() error = %v; want ErrNotReady", err)
	}
	if s, lastErr := g.Status(); s != StatusError || !errors.Is(lastErr, boom) {
		t.Errorf("Status() = %q, %v; want error, %v", s, lastErr, boom)
	}

	if _, err := g.Run(context.Background(), "print(1)"); err != nil {
		t.Fatalf("Run() after failed start error = %v", err)
	}
	if n := rt.startCalls.Load(); n != 2 {
		t.Errorf("Start called %d times; want 2", n)
	}
	if !g.IsReady() {
		t.Error("IsReady() = false after recovery")
	}
}

func TestGateway_StartRetries(t *testing.T) {
	rt := &fakeRuntime{startErrs: []error{errors.New("pulling image")}}
	cfg := testConfig()
	cfg.StartAttempts = 3
	g := NewGateway(rt, cfg, nil)

	if err := g.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if n := rt.startCalls.Load(); n < 2 {
		t.Errorf("Start called %d times; want a retry", n)
	}
}

func TestGateway_Run(t *testing.T) {
	tests := []struct {
		name       string
		exec       func(ctx context.Context, code string, out io.Writer) error
		wantOutput string
		wantError  string
	}{
		{
			name: "single trailing newline trimmed",
			exec: func(_ context.Context, _ string, out io.Writer) error {
				io.WriteString(out, "Hello, World!\n")
				return nil
			},
			wantOutput: "Hello, World!",
		},
		{
			name: "only one newline trimmed",
			exec: func(_ context.Context, _ string, out io.Writer) error {
				io.WriteString(out, "a\n\n")
				return nil
			},
			wantOutput: "a\n",
		},
		{
			name: "no output",
			exec: func(context.Context, string, io.Writer) error {
				return nil
			},
			wantOutput: "",
		},
		{
			name: "fault formatted",
			exec: func(_ context.Context, _ string, out io.Writer) error {
				io.WriteString(out, "partial\n")
				return &Fault{
					Traceback: "Traceback (most recent call last):\n" +
						"  File \"<exec>\", line 1, in <module>\n" +
						"NameError: name 'x' is not defined\n",
					ExitCode: 1,
				}
			},
			wantOutput: "",
			wantError:  "  File \"main.py\", line 1, in <module>\nNameError: name 'x' is not defined",
		},
		{
			name: "silent non-zero exit",
			exec: func(_ context.Context, _ string, out io.Writer) error {
				io.WriteString(out, "partial\n")
				return &Fault{ExitCode: 1}
			},
			wantOutput: "",
			wantError:  "SystemExit: exit code 1",
		},
		{
			name: "whitespace-only stderr",
			exec: func(context.Context, string, io.Writer) error {
				return &Fault{Traceback: "\n  \n", ExitCode: 3}
			},
			wantOutput: "",
			wantError:  "SystemExit: exit code 3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := &fakeRuntime{exec: tt.exec}
			g := NewGateway(rt, testConfig(), nil)

			res, err := g.Run(context.Background(), "code")
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if res.Output != tt.wantOutput {
				t.Errorf("Output = %q; want %q", res.Output, tt.wantOutput)
			}
			if res.Error != tt.wantError {
				t.Errorf("Error = %q; want %q", res.Error, tt.wantError)
			}
			if res.Failed() != (tt.wantError != "") {
				t.Errorf("Failed() = %v", res.Failed())
			}
		})
	}
}

func TestGateway_CaptureResetBetweenRuns(t *testing.T) {
	g := NewGateway(&fakeRuntime{}, testConfig(), nil)

	first, err := g.Run(context.Background(), "first")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	second, err := g.Run(context.Background(), "second")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if first.Output != "first" || second.Output != "second" {
		t.Errorf("outputs = %q, %q; want first, second", first.Output, second.Output)
	}
}

func TestGateway_Timeout(t *testing.T) {
	rt := &fakeRuntime{exec: func(ctx context.Context, _ string, out io.Writer) error {
		io.WriteString(out, "started\n")
		<-ctx.Done()
		return ctx.Err()
	}}
	cfg := testConfig()
	cfg.Timeout = 20 * time.Millisecond
	g := NewGateway(rt, cfg, nil)

	res, err := g.Run(context.Background(), "while True: pass")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.HasPrefix(res.Error, "TimeoutError") {
		t.Errorf("Error = %q; want TimeoutError", res.Error)
	}
	if res.Output != "" {
		t.Errorf("Output = %q; want empty on fault", res.Output)
	}
}

func TestGateway_InfrastructureError(t *testing.T) {
	boom := errors.New("container vanished")
	rt := &fakeRuntime{exec: func(context.Context, string, io.Writer) error {
		return boom
	}}
	g := NewGateway(rt, testConfig(), nil)

	if _, err := g.Run(context.Background(), "print(1)"); !errors.Is(err, boom) {
		t.Errorf("Run() error = %v; want %v", err, boom)
	}
}

func TestGateway_Closed(t *testing.T) {
	g := NewGateway(&fakeRuntime{}, testConfig(), nil)
	if err := g.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := g.Initialize(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Initialize() after Close error = %v; want ErrClosed", err)
	}
}
