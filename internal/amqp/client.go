// Package amqp is the RabbitMQ transport for report jobs.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"expensetracker/internal/core"
	"expensetracker/internal/dispatch"
	"expensetracker/internal/log"
)

// Circuit breaker states
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures = 5
	openTimeout = 30 * time.Second
)

var (
	tracer             = otel.Tracer("expensetracker/amqp")
	meter              = otel.Meter("expensetracker/amqp")
	publishAttempts, _ = meter.Int64Counter("reports.publish.attempts", metric.WithDescription("Report job publish attempts by result"))
)

// Config describes the broker topology.
type Config struct {
	URL                string
	Exchange           string
	Queue              string
	DeadLetterExchange string
	DeadLetterQueue    string
	// QueueType is "quorum" or "classic". Quorum queues report a delivery
	// count, which bounds redeliveries exactly.
	QueueType      string
	Prefetch       int
	PublishRetries int
	Logger         *log.Logger
}

func DefaultConfig(url string) Config {
	return Config{
		URL:                url,
		Exchange:           "reports",
		Queue:              "reports_queue",
		DeadLetterExchange: "reports.dlx",
		DeadLetterQueue:    "reports_queue.dead",
		QueueType:          "quorum",
		Prefetch:           4,
		PublishRetries:     3,
	}
}

type Client struct {
	url          string
	exchangeName string
	queueName    string
	dlxName      string
	dlqName      string
	queueType    string
	prefetch     int
	retries      int
	logger       *log.Logger

	mu   sync.Mutex
	conn *amqp091.Connection

	state        int32
	failureCount int64
	lastFailure  time.Time
	failureMu    sync.Mutex
}

// NewClient dials the broker and declares the exchange, queue and dead-letter topology.
func NewClient(cfg Config) (*Client, error) {
	def := DefaultConfig(cfg.URL)
	if cfg.Exchange == "" {
		cfg.Exchange = def.Exchange
	}
	if cfg.Queue == "" {
		cfg.Queue = def.Queue
	}
	if cfg.DeadLetterExchange == "" {
		cfg.DeadLetterExchange = def.DeadLetterExchange
	}
	if cfg.DeadLetterQueue == "" {
		cfg.DeadLetterQueue = def.DeadLetterQueue
	}
	if cfg.QueueType == "" {
		cfg.QueueType = def.QueueType
	}
	if cfg.Prefetch < 1 {
		cfg.Prefetch = def.Prefetch
	}
	if cfg.PublishRetries < 1 {
		cfg.PublishRetries = def.PublishRetries
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}

	client := &Client{
		url:          cfg.URL,
		exchangeName: cfg.Exchange,
		queueName:    cfg.Queue,
		dlxName:      cfg.DeadLetterExchange,
		dlqName:      cfg.DeadLetterQueue,
		queueType:    cfg.QueueType,
		prefetch:     cfg.Prefetch,
		retries:      cfg.PublishRetries,
		logger:       logger.WithComponent(log.ComponentAMQP),
	}

	if err := client.connect(); err != nil {
		return nil, err
	}
	if err := client.setup(); err != nil {
		client.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}

	return client, nil
}

func (c *Client) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.IsClosed() {
		return nil
	}
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}
	c.conn = conn
	return nil
}

// channel opens a channel scoped to one operation; callers close it.
func (c *Client) channel() (*amqp091.Channel, error) {
	if err := c.connect(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return ch, nil
}

func (c *Client) setup() error {
	ch, err := c.channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(c.exchangeName, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(c.dlxName, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(c.dlqName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter queue: %w", err)
	}
	if err := ch.QueueBind(c.dlqName, "", c.dlxName, false, nil); err != nil {
		return fmt.Errorf("bind dead-letter queue: %w", err)
	}

	args := amqp091.Table{
		"x-dead-letter-exchange": c.dlxName,
		"x-queue-type":           c.queueType,
	}
	if _, err := ch.QueueDeclare(c.queueName, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(c.queueName, dispatch.RoutingKey, c.exchangeName, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return nil
}

// PublishReportJob publishes job and waits for the broker to confirm it.
// Transient failures are retried with exponential backoff.
func (c *Client) PublishReportJob(ctx context.Context, job *dispatch.ReportJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isCircuitOpen() {
		return core.Wrap(core.ErrQueueUnavailable, errors.New("circuit breaker is open"))
	}
	if err := job.Validate(); err != nil {
		return err
	}
	body, err := job.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal report job: %w", err)
	}

	ctx, span := tracer.Start(ctx, "amqp.publish", trace.WithAttributes(
		attribute.String("messaging.destination", c.exchangeName),
		attribute.String("report.owner_ref", job.OwnerRef),
		attribute.String("report.period", job.Period),
	))
	defer span.End()

	fields := log.NewFields().WithReport(job.OwnerRef, job.Period)

	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(exponentialBackoff(attempt - 1)):
			}
		}

		lastErr = c.publish(ctx, job.IdempotencyKey(), body)
		if lastErr == nil {
			c.recordSuccess()
			publishAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "ok")))
			c.logger.InfoContext(ctx, "Published report job", fields.ToSlice()...)
			return nil
		}

		c.recordFailure()
		publishAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "error")))
		fields[log.FieldAttempt] = attempt + 1
		c.logger.LogError(ctx, "Publish attempt failed", lastErr, log.OpPublish, fields)

		if isConnectionError(lastErr) {
			c.resetConnection()
		}
		if c.isCircuitOpen() {
			break
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "publish failed")
	return core.Wrap(core.ErrQueueUnavailable, fmt.Errorf("publish report job %s: %w", job.IdempotencyKey(), lastErr))
}

func (c *Client) publish(ctx context.Context, messageID string, body []byte) error {
	ch, err := c.channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("enable publisher confirms: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	confirmation, err := ch.PublishWithDeferredConfirmWithContext(
		ctx,
		c.exchangeName,
		dispatch.RoutingKey,
		true,  // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    messageID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("wait for confirm: %w", err)
	}
	if !acked {
		return errors.New("broker nacked message")
	}
	return nil
}

// Consume feeds deliveries from the report queue to consumer until ctx is
// done or the channel closes.
func (c *Client) Consume(ctx context.Context, consumer *dispatch.Consumer) error {
	ch, err := c.channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}

	msgs, err := ch.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	c.logger.InfoContext(ctx, "Started consuming report jobs", "queue", c.queueName, "prefetch", c.prefetch)

	for {
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return core.Wrap(core.ErrQueueUnavailable, errors.New("message channel closed"))
			}
			consumer.Handle(ctx, &delivery{d: d})
		}
	}
}

func (c *Client) resetConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// delivery adapts an AMQP delivery to dispatch.Delivery.
type delivery struct {
	d amqp091.Delivery
}

func (d *delivery) Body() []byte { return d.d.Body }

// Attempt uses the quorum queue delivery count when present. Classic queues
// only expose the redelivered flag.
func (d *delivery) Attempt() int {
	if n, ok := deliveryCount(d.d.Headers); ok {
		return n + 1
	}
	if d.d.Redelivered {
		return 2
	}
	return 1
}

func (d *delivery) Ack() error              { return d.d.Ack(false) }
func (d *delivery) Nack(requeue bool) error { return d.d.Nack(false, requeue) }

func deliveryCount(headers amqp091.Table) (int, bool) {
	switch v := headers["x-delivery-count"].(type) {
	case int64:
		return int(v), true
	case int32:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

func exponentialBackoff(attempt int) time.Duration {
	if attempt >= 5 {
		return 30 * time.Second
	}
	return time.Duration(1<<uint(attempt)) * time.Second
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"connection", "EOF", "broken pipe", "closed network"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (c *Client) isCircuitOpen() bool {
	switch atomic.LoadInt32(&c.state) {
	case StateOpen:
		c.failureMu.Lock()
		last := c.lastFailure
		c.failureMu.Unlock()
		if time.Since(last) > openTimeout {
			atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
			return false
		}
		return true
	default:
		return false
	}
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	failures := atomic.AddInt64(&c.failureCount, 1)
	c.failureMu.Lock()
	c.lastFailure = time.Now()
	c.failureMu.Unlock()

	if failures >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		atomic.StoreInt32(&c.state, StateOpen)
	}
}
