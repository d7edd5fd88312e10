// Package queue runs Python code on remote workers over RabbitMQ. The daemon
// publishes a RunJob to a shared durable queue with a private reply queue in
// ReplyTo; a worker executes it and publishes the RunResult back there.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RunQueueName is the durable queue workers consume jobs from
const RunQueueName = "pylearn.runs"

// Result statuses
const (
	StatusCompleted = "completed" // program exited cleanly
	StatusFaulted   = "faulted"   // program raised or exited non-zero
	StatusTimeout   = "timeout"
	StatusFailed    = "failed" // the worker could not run the program
)

// RunJob is one Python execution request
type RunJob struct {
	ID        uuid.UUID `json:"id"`
	Code      string    `json:"code"`
	Timeout   int       `json:"timeout"` // seconds
	CreatedAt time.Time `json:"created_at"`
}

// RunResult is the outcome of a RunJob
type RunResult struct {
	JobID       uuid.UUID     `json:"job_id"`
	Status      string        `json:"status"`
	Output      string        `json:"output"`
	Traceback   string        `json:"traceback,omitempty"`
	ExitCode    int           `json:"exit_code"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Connection manages the RabbitMQ connection with automatic reconnection.
// Consumers re-subscribe through OnReconnect hooks.
type Connection struct {
	url     string
	redial  retry.Retry[struct{}]
	conn    *amqp.Connection
	channel *amqp.Channel
	hooks   []func()
	mu      sync.RWMutex
	closed  bool
}

// NewConnection creates a new RabbitMQ connection
func NewConnection(url string) (*Connection, error) {
	c := &Connection{
		url: url,
		redial: retry.New[struct{}](retry.Config{
			MaxAttempts:   10,
			InitialDelay:  time.Second,
			MaxDelay:      30 * time.Second,
			Multiplier:    2.0,
			BackoffPolicy: retry.BackoffExponential,
			Jitter:        true,
		}),
	}

	if err := c.connect(); err != nil {
		return nil, err
	}

	return c, nil
}

// connect establishes connection and channel
func (c *Connection) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	c.conn, err = amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := c.declareQueues(); err != nil {
		c.channel.Close()
		c.conn.Close()
		return err
	}

	go c.handleReconnect()

	slog.Info("connected to RabbitMQ", "url", sanitizeURL(c.url))
	return nil
}

// declareQueues creates the job queue. Reply queues are declared per
// ResultConsumer.
func (c *Connection) declareQueues() error {
	_, err := c.channel.QueueDeclare(
		RunQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp.Table{
			// A learner waits at most a few seconds; stale jobs are useless.
			"x-message-ttl": int32(60000),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to declare run queue: %w", err)
	}
	return nil
}

// OnReconnect registers fn to run after every successful reconnect
func (c *Connection) OnReconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// handleReconnect waits for the connection to drop, redials with backoff
// and then runs the reconnect hooks
func (c *Connection) handleReconnect() {
	c.mu.RLock()
	notifyClose := c.conn.NotifyClose(make(chan *amqp.Error, 1))
	c.mu.RUnlock()

	amqpErr := <-notifyClose
	if amqpErr == nil {
		return // closed by us
	}
	slog.Warn("RabbitMQ connection lost, reconnecting", "error", amqpErr)

	attempts := 0
	_, err := c.redial.Do(context.Background(), func(context.Context) (struct{}, error) {
		c.mu.RLock()
		closed := c.closed
		c.mu.RUnlock()
		if closed {
			return struct{}{}, nil
		}
		attempts++
		return struct{}{}, c.connect()
	})
	if err != nil {
		slog.Error("failed to reconnect to RabbitMQ", "attempts", attempts, "error", err)
		return
	}

	c.mu.RLock()
	closed, hooks := c.closed, slices.Clone(c.hooks)
	c.mu.RUnlock()
	if closed {
		return
	}

	slog.Info("reconnected to RabbitMQ", "attempts", attempts)
	for _, fn := range hooks {
		fn()
	}
}

// Channel returns the current channel (thread-safe)
func (c *Connection) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// Close closes the connection
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected checks if the connection is active
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// PublishJSON publishes data as a JSON message. msg carries routing
// properties such as ReplyTo and CorrelationId; its body is replaced.
func (c *Connection) PublishJSON(ctx context.Context, routingKey string, data any, msg amqp.Publishing) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	msg.ContentType = "application/json"
	msg.Body = body

	return c.Channel().PublishWithContext(
		ctx,
		"",         // default exchange
		routingKey, // queue name
		false,      // mandatory
		false,      // immediate
		msg,
	)
}

// sanitizeURL removes the password from an AMQP URL for logging
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		if len(raw) > 20 {
			return raw[:20] + "..."
		}
		return raw
	}
	return u.Redacted()
}
