package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"expensetracker/internal/core"
	"expensetracker/internal/log"
)

var (
	consumerTracer      = otel.Tracer("expensetracker/dispatch")
	consumerMeter       = otel.Meter("expensetracker/dispatch")
	consumerMessages, _ = consumerMeter.Int64Counter("reports.consumer.messages", metric.WithDescription("Report jobs handled by outcome"))
	consumerDuration, _ = consumerMeter.Float64Histogram("reports.consumer.duration", metric.WithDescription("Report job processing duration in seconds"), metric.WithUnit("s"))
)

// Outcome is the terminal state of one delivery.
type Outcome string

const (
	// Acknowledged: processed, removed from the queue.
	Acknowledged Outcome = "acknowledged"
	// Redelivered: failed, returned to the queue for another attempt.
	Redelivered Outcome = "redelivered"
	// DeadLettered: failed on the last allowed attempt, routed to the dead-letter queue.
	DeadLettered Outcome = "dead_lettered"
	// Rejected: undecodable or invalid, routed to the dead-letter queue without processing.
	Rejected Outcome = "rejected"
)

// Delivery is one received message awaiting acknowledgement.
type Delivery interface {
	Body() []byte
	// Attempt is 1 on first delivery and grows with each redelivery.
	Attempt() int
	Ack() error
	Nack(requeue bool) error
}

// Handler processes one job. A nil error acknowledges it.
type Handler func(ctx context.Context, job *ReportJob) error

type ConsumerConfig struct {
	// MaxAttempts bounds deliveries of one message before it is dead-lettered.
	MaxAttempts int
	// ProcessingTimeout is the per-message deadline.
	ProcessingTimeout time.Duration
}

func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{MaxAttempts: 5, ProcessingTimeout: 2 * time.Minute}
}

// Consumer drives the Received -> Processing -> Acknowledged|Redelivered|DeadLettered
// state machine for each delivery.
type Consumer struct {
	handler Handler
	cfg     ConsumerConfig
	logger  *log.Logger
}

func NewConsumer(handler Handler, cfg ConsumerConfig, logger *log.Logger) *Consumer {
	def := DefaultConsumerConfig()
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = def.ProcessingTimeout
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Consumer{handler: handler, cfg: cfg, logger: logger.WithComponent(log.ComponentConsumer)}
}

// Handle processes d and settles it with exactly one Ack or Nack.
func (c *Consumer) Handle(ctx context.Context, d Delivery) Outcome {
	attempt := d.Attempt()
	ctx, span := consumerTracer.Start(ctx, "dispatch.handle",
		trace.WithAttributes(attribute.Int("message.attempt", attempt)))
	defer span.End()

	start := time.Now()
	outcome := c.handle(ctx, d, attempt, span)

	span.SetAttributes(attribute.String("message.outcome", string(outcome)))
	consumerMessages.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
	consumerDuration.Record(ctx, time.Since(start).Seconds())
	return outcome
}

func (c *Consumer) handle(ctx context.Context, d Delivery, attempt int, span trace.Span) Outcome {
	job, err := ReportJobFromJSON(d.Body())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid message")
		c.logger.ErrorContext(ctx, "Rejecting invalid report job", log.FieldError, err, log.FieldAttempt, attempt)
		c.settle(ctx, d.Nack(false), "nack")
		return Rejected
	}

	fields := log.NewFields().WithReport(job.OwnerRef, job.Period)
	fields[log.FieldAttempt] = attempt
	span.SetAttributes(attribute.String("report.owner_ref", job.OwnerRef), attribute.String("report.period", job.Period))

	c.logger.InfoContext(ctx, "Processing report job", fields.ToSlice()...)

	if err := c.process(ctx, job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		if attempt >= c.cfg.MaxAttempts {
			c.logger.LogError(ctx, "Report job failed on final attempt, dead-lettering", err, log.OpConsume, fields)
			c.settle(ctx, d.Nack(false), "nack")
			return DeadLettered
		}
		c.logger.LogError(ctx, "Report job failed, requeueing", err, log.OpConsume, fields)
		c.settle(ctx, d.Nack(true), "nack")
		return Redelivered
	}

	c.settle(ctx, d.Ack(), "ack")
	c.logger.InfoContext(ctx, "Report job acknowledged", fields.ToSlice()...)
	return Acknowledged
}

// process runs the handler under the per-message deadline. A handler that
// overruns is abandoned; its context is cancelled.
func (c *Consumer) process(ctx context.Context, job *ReportJob) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProcessingTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panic: %v", r)
			}
		}()
		done <- c.handler(ctx, job)
	}()

	select {
	case err := <-done:
		if err != nil {
			return core.Wrap(core.ErrProcessing, err)
		}
		return nil
	case <-ctx.Done():
		return core.Wrap(core.ErrProcessing, fmt.Errorf("processing deadline exceeded after %s: %w", c.cfg.ProcessingTimeout, ctx.Err()))
	}
}

func (c *Consumer) settle(ctx context.Context, err error, op string) {
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to settle delivery", log.FieldOperation, op, log.FieldError, err)
	}
}
