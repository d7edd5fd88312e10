package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Producer publishes run jobs and results
type Producer struct {
	conn *Connection
}

// NewProducer creates a new queue producer
func NewProducer(conn *Connection) *Producer {
	return &Producer{conn: conn}
}

// PublishRunJob publishes a job whose result should be sent to replyTo
func (p *Producer) PublishRunJob(ctx context.Context, job *RunJob, replyTo string) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	msg := amqp.Publishing{
		DeliveryMode:  amqp.Persistent,
		CorrelationId: job.ID.String(),
		ReplyTo:       replyTo,
	}
	if job.Timeout > 0 {
		// Drop the job once nobody is waiting for it any more
		msg.Expiration = fmt.Sprintf("%d", job.Timeout*1000)
	}

	if err := p.conn.PublishJSON(ctx, RunQueueName, job, msg); err != nil {
		return fmt.Errorf("failed to publish run job: %w", err)
	}

	slog.Debug("published run job", "job_id", job.ID, "reply_to", replyTo)
	return nil
}

// PublishResult sends a result to the reply queue of its job
func (p *Producer) PublishResult(ctx context.Context, replyTo string, result *RunResult) error {
	if result.CompletedAt.IsZero() {
		result.CompletedAt = time.Now()
	}

	msg := amqp.Publishing{
		DeliveryMode:  amqp.Transient,
		CorrelationId: result.JobID.String(),
	}
	if err := p.conn.PublishJSON(ctx, replyTo, result, msg); err != nil {
		return fmt.Errorf("failed to publish run result: %w", err)
	}

	slog.Debug("published run result",
		"job_id", result.JobID,
		"status", result.Status,
		"duration", result.Duration,
	)
	return nil
}

// CreateRunJob creates a new run job for code
func CreateRunJob(code string, timeout time.Duration) *RunJob {
	seconds := int((timeout + time.Second - 1) / time.Second)
	return &RunJob{
		ID:        uuid.New(),
		Code:      code,
		Timeout:   seconds,
		CreatedAt: time.Now(),
	}
}
