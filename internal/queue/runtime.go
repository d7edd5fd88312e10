package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/felixgeelhaar/pylearn/internal/runner"
)

// RemoteRuntime is a runner.Runtime that ships code to queue workers
type RemoteRuntime struct {
	url string

	mu       sync.Mutex
	conn     *Connection
	producer *Producer
	results  *ResultConsumer
}

// NewRemoteRuntime creates a runtime for the broker at url
func NewRemoteRuntime(url string) *RemoteRuntime {
	return &RemoteRuntime{url: url}
}

// Name implements runner.Runtime
func (r *RemoteRuntime) Name() string {
	return "queue"
}

// Start connects to the broker and starts listening for results
func (r *RemoteRuntime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil && r.conn.IsConnected() {
		return nil
	}

	conn, err := NewConnection(r.url)
	if err != nil {
		return err
	}

	results := NewResultConsumer(conn)
	if err := results.Start(context.WithoutCancel(ctx)); err != nil {
		conn.Close()
		return err
	}

	r.conn = conn
	r.producer = NewProducer(conn)
	r.results = results
	return nil
}

// Exec publishes code as a job and waits for its result
func (r *RemoteRuntime) Exec(ctx context.Context, code string, out io.Writer) error {
	r.mu.Lock()
	producer, results := r.producer, r.results
	r.mu.Unlock()

	if producer == nil {
		return runner.ErrNotReady
	}

	timeout := 10 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	job := CreateRunJob(code, timeout)

	done := make(chan *RunResult, 1)
	results.Subscribe(job.ID.String(), func(result *RunResult) {
		select {
		case done <- result:
		default:
		}
	})
	defer results.Unsubscribe(job.ID.String())

	if err := producer.PublishRunJob(ctx, job, results.Queue()); err != nil {
		return err
	}

	select {
	case result := <-done:
		return deliver(result, out)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deliver writes the program output and maps the result status to the
// runner error contract
func deliver(result *RunResult, out io.Writer) error {
	if _, err := io.WriteString(out, result.Output); err != nil {
		return err
	}

	switch result.Status {
	case StatusCompleted:
		return nil
	case StatusFaulted:
		return &runner.Fault{Traceback: result.Traceback, ExitCode: result.ExitCode}
	case StatusTimeout:
		return context.DeadlineExceeded
	case StatusFailed:
		return fmt.Errorf("worker: %s", result.Error)
	default:
		return errors.New("worker: unknown result status " + result.Status)
	}
}

// Close stops the result consumer and closes the connection
func (r *RemoteRuntime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.results != nil {
		r.results.Stop()
		r.results = nil
	}
	r.producer = nil
	if r.conn != nil {
		err := r.conn.Close()
		r.conn = nil
		return err
	}
	return nil
}

var _ runner.Runtime = (*RemoteRuntime)(nil)
