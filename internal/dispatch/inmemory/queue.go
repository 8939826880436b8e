// Package inmemory provides a process-local report job queue with the same
// acknowledgement semantics as the broker-backed queue: unacknowledged
// messages are redelivered and rejected messages land in a dead-letter list.
package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"expensetracker/internal/dispatch"
)

var (
	ErrClosed         = errors.New("queue is closed")
	ErrAlreadySettled = errors.New("delivery already acknowledged")
)

type message struct {
	tag     uint64
	body    []byte
	attempt int
}

// Queue is safe for concurrent use.
type Queue struct {
	mu       sync.Mutex
	ready    []*message
	inflight map[uint64]*message
	dead     [][]byte
	nextTag  uint64
	closed   bool
	notify   chan struct{}
	closeCh  chan struct{}
}

func NewQueue() *Queue {
	return &Queue{
		inflight: make(map[uint64]*message),
		notify:   make(chan struct{}, 1),
		closeCh:  make(chan struct{}),
	}
}

// PublishReportJob validates and enqueues job. It returns once the job is
// stored in the queue.
func (q *Queue) PublishReportJob(ctx context.Context, job *dispatch.ReportJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := job.Validate(); err != nil {
		return err
	}
	body, err := job.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal report job: %w", err)
	}
	return q.publishRaw(body)
}

func (q *Queue) publishRaw(body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.nextTag++
	q.ready = append(q.ready, &message{tag: q.nextTag, body: body, attempt: 1})
	q.signal()
	return nil
}

// signal wakes one waiting receiver. Callers hold q.mu.
func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// TryReceive returns the next ready message without blocking.
func (q *Queue) TryReceive() (dispatch.Delivery, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ready) == 0 {
		return nil, false
	}
	m := q.ready[0]
	q.ready = q.ready[1:]
	q.inflight[m.tag] = m
	if len(q.ready) > 0 {
		q.signal()
	}
	return &delivery{q: q, msg: m}, true
}

// Receive blocks until a message is ready, ctx is done or the queue closes.
func (q *Queue) Receive(ctx context.Context) (dispatch.Delivery, error) {
	for {
		if d, ok := q.TryReceive(); ok {
			return d, nil
		}
		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.closeCh:
			return nil, ErrClosed
		}
	}
}

// Consume feeds deliveries to consumer until ctx is done or the queue closes.
func (q *Queue) Consume(ctx context.Context, consumer *dispatch.Consumer) error {
	for {
		d, err := q.Receive(ctx)
		if err != nil {
			return err
		}
		consumer.Handle(ctx, d)
	}
}

// Len returns the number of messages waiting for delivery.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}

// InFlight returns the number of delivered, unsettled messages.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

// DeadLetters returns the bodies of rejected messages.
func (q *Queue) DeadLetters() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([][]byte, len(q.dead))
	copy(out, q.dead)
	return out
}

// Close stops receivers. In-flight messages may still be settled.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.closeCh)
	}
	return nil
}

func (q *Queue) settle(m *message, requeue, reject bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inflight[m.tag]; !ok {
		return ErrAlreadySettled
	}
	delete(q.inflight, m.tag)
	switch {
	case requeue:
		m.attempt++
		q.ready = append(q.ready, m)
		q.signal()
	case reject:
		q.dead = append(q.dead, m.body)
	}
	return nil
}

type delivery struct {
	q   *Queue
	msg *message
}

func (d *delivery) Body() []byte { return d.msg.body }
func (d *delivery) Attempt() int { return d.msg.attempt }
func (d *delivery) Ack() error   { return d.q.settle(d.msg, false, false) }

func (d *delivery) Nack(requeue bool) error {
	return d.q.settle(d.msg, requeue, !requeue)
}
