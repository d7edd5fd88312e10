package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// JobHandler processes run jobs
type JobHandler func(ctx context.Context, job *RunJob) (*RunResult, error)

// Consumer consumes run jobs from the queue
type Consumer struct {
	conn       *Connection
	handler    JobHandler
	producer   *Producer
	workers    int
	prefetch   int
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Workers  int // Number of concurrent workers
	Prefetch int // Prefetch count per worker
}

// DefaultConsumerConfig returns sensible defaults
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Workers:  3,
		Prefetch: 1,
	}
}

func (cfg ConsumerConfig) withDefaults() ConsumerConfig {
	def := DefaultConsumerConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = def.Prefetch
	}
	return cfg
}

// NewConsumer creates a new queue consumer
func NewConsumer(conn *Connection, handler JobHandler, cfg ConsumerConfig) *Consumer {
	cfg = cfg.withDefaults()
	return &Consumer{
		conn:     conn,
		handler:  handler,
		producer: NewProducer(conn),
		workers:  cfg.Workers,
		prefetch: cfg.Prefetch,
	}
}

// Start begins consuming jobs and resumes after reconnects
func (c *Consumer) Start(ctx context.Context) error {
	ctx, c.cancelFunc = context.WithCancel(ctx)

	if err := c.subscribe(ctx); err != nil {
		return err
	}
	c.conn.OnReconnect(func() {
		if ctx.Err() != nil {
			return
		}
		if err := c.subscribe(ctx); err != nil {
			slog.Error("failed to resume run queue consumer", "error", err)
		}
	})

	slog.Info("run queue consumer started", "workers", c.workers, "prefetch", c.prefetch)
	return nil
}

// subscribe starts one worker pool on the current channel. The pool exits
// when the channel closes.
func (c *Consumer) subscribe(ctx context.Context) error {
	ch := c.conn.Channel()
	if err := ch.Qos(c.workers*c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	// manual ack so a crashed worker's job is redelivered
	msgs, err := ch.Consume(RunQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	for id := range c.workers {
		c.wg.Go(func() {
			drain(ctx, msgs, func(msg amqp.Delivery) { c.processMessage(ctx, id, msg) })
			slog.Debug("worker stopped", "worker_id", id)
		})
	}
	return nil
}

// drain feeds deliveries to fn until ctx ends or the channel closes
func drain(ctx context.Context, msgs <-chan amqp.Delivery, fn func(amqp.Delivery)) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			fn(msg)
		}
	}
}

// processMessage handles a single message
func (c *Consumer) processMessage(ctx context.Context, workerID int, msg amqp.Delivery) {
	var job RunJob
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		slog.Error("failed to unmarshal job", "worker_id", workerID, "error", err)
		_ = msg.Reject(false)
		return
	}

	if msg.ReplyTo == "" {
		// Nobody can receive the result
		slog.Warn("dropping job without reply queue", "worker_id", workerID, "job_id", job.ID)
		_ = msg.Reject(false)
		return
	}

	result := c.execute(ctx, workerID, &job)

	if err := c.producer.PublishResult(ctx, msg.ReplyTo, result); err != nil {
		slog.Error("failed to publish result",
			"worker_id", workerID,
			"job_id", job.ID,
			"error", err,
		)
	}

	if err := msg.Ack(false); err != nil {
		slog.Error("failed to ack message",
			"worker_id", workerID,
			"job_id", job.ID,
			"error", err,
		)
	}
}

// execute runs the handler under the job timeout and always returns a result
func (c *Consumer) execute(ctx context.Context, workerID int, job *RunJob) *RunResult {
	start := time.Now()

	timeout := time.Duration(job.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := c.handler(jobCtx, job)
	duration := time.Since(start)

	if err != nil {
		slog.Error("job processing failed",
			"worker_id", workerID,
			"job_id", job.ID,
			"error", err,
			"duration", duration,
		)

		result = &RunResult{Status: StatusFailed, Error: err.Error()}
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			result.Status = StatusTimeout
			result.Error = "execution timed out"
		}
	}

	result.JobID = job.ID
	result.Duration = duration
	result.CompletedAt = time.Now()
	if result.Status == "" {
		result.Status = StatusCompleted
	}

	slog.Info("job finished",
		"worker_id", workerID,
		"job_id", job.ID,
		"status", result.Status,
		"duration", duration,
	)
	return result
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	c.wg.Wait()
	slog.Info("consumer stopped")
}

// ResultConsumer receives results on a private reply queue and hands each
// to the handler registered for its job
type ResultConsumer struct {
	conn       *Connection
	queueMu    sync.RWMutex
	queue      string
	handlers   map[string]ResultHandler
	handlersMu sync.RWMutex
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// ResultHandler handles a run result for a specific job
type ResultHandler func(result *RunResult)

// NewResultConsumer creates a result consumer
func NewResultConsumer(conn *Connection) *ResultConsumer {
	return &ResultConsumer{
		conn:     conn,
		handlers: make(map[string]ResultHandler),
	}
}

// Queue returns the current reply queue name. It changes after a reconnect.
func (rc *ResultConsumer) Queue() string {
	rc.queueMu.RLock()
	defer rc.queueMu.RUnlock()
	return rc.queue
}

// Subscribe registers a handler for results of a specific job
func (rc *ResultConsumer) Subscribe(jobID string, handler ResultHandler) {
	rc.handlersMu.Lock()
	defer rc.handlersMu.Unlock()
	rc.handlers[jobID] = handler
}

// Unsubscribe removes a handler
func (rc *ResultConsumer) Unsubscribe(jobID string) {
	rc.handlersMu.Lock()
	defer rc.handlersMu.Unlock()
	delete(rc.handlers, jobID)
}

// Start declares a reply queue and begins consuming results. A reconnect
// declares a fresh reply queue; jobs awaiting the old one time out.
func (rc *ResultConsumer) Start(ctx context.Context) error {
	ctx, rc.cancelFunc = context.WithCancel(ctx)

	if err := rc.subscribe(ctx); err != nil {
		return err
	}
	rc.conn.OnReconnect(func() {
		if ctx.Err() != nil {
			return
		}
		if err := rc.subscribe(ctx); err != nil {
			slog.Error("failed to resume result consumer", "error", err)
		}
	})
	return nil
}

func (rc *ResultConsumer) subscribe(ctx context.Context) error {
	ch := rc.conn.Channel()

	// server-named, exclusive, deleted with the connection
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare reply queue: %w", err)
	}

	// results are fire-and-forget, so auto-ack
	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start result consumer: %w", err)
	}

	rc.queueMu.Lock()
	rc.queue = q.Name
	rc.queueMu.Unlock()

	rc.wg.Go(func() {
		drain(ctx, msgs, func(msg amqp.Delivery) { rc.dispatch(msg.CorrelationId, msg.Body) })
	})
	return nil
}

func (rc *ResultConsumer) dispatch(correlationID string, body []byte) {
	var result RunResult
	if err := json.Unmarshal(body, &result); err != nil {
		slog.Error("failed to unmarshal result", "error", err)
		return
	}

	key := correlationID
	if key == "" && result.JobID != uuid.Nil {
		key = result.JobID.String()
	}

	rc.handlersMu.RLock()
	handler, ok := rc.handlers[key]
	rc.handlersMu.RUnlock()

	if !ok {
		slog.Debug("dropping result for unknown job", "job_id", key)
		return
	}
	handler(&result)
}

// Stop stops the result consumer
func (rc *ResultConsumer) Stop() {
	if rc.cancelFunc != nil {
		rc.cancelFunc()
	}
	rc.wg.Wait()
}
