// Package scheduler runs named tasks on cron cadences against an injected
// clock. Each task holds a run lock while it executes, so a slow run is
// never overlapped by the next tick.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"expensetracker/internal/core"
	"expensetracker/internal/log"
)

var (
	meter           = otel.Meter("expensetracker/scheduler")
	taskDuration, _ = meter.Float64Histogram("scheduler.task.duration", metric.WithDescription("Scheduled task run duration in seconds"), metric.WithUnit("s"))
)

var (
	ErrUnknownTask = errors.New("unknown task")
	ErrTaskRunning = errors.New("task already running")
)

// TaskFunc runs one occurrence of a task scheduled at at.
type TaskFunc func(ctx context.Context, at time.Time) error

type Task struct {
	Name string
	// Spec is a standard five-field cron expression.
	Spec string
	Run  TaskFunc
}

// Locker guards a task name across concurrent runs.
type Locker interface {
	TryLock(ctx context.Context, name string) (unlock func(), ok bool, err error)
}

// MemoryLocker is an in-process Locker.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]bool)}
}

func (l *MemoryLocker) TryLock(_ context.Context, name string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return nil, false, nil
	}
	l.held[name] = true
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
		})
	}, true, nil
}

type Config struct {
	Clock    core.Clock
	Location *time.Location
	Locker   Locker
	// PollInterval is how often Start checks for due tasks.
	PollInterval time.Duration
	Logger       *log.Logger
}

type entry struct {
	task     Task
	schedule cron.Schedule
	next     time.Time
}

type Scheduler struct {
	clock  core.Clock
	loc    *time.Location
	locker Locker
	poll   time.Duration
	logger *log.Logger

	mu      sync.Mutex
	entries map[string]*entry
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(cfg Config) *Scheduler {
	if cfg.Clock == nil {
		cfg.Clock = core.SystemClock{}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Locker == nil {
		cfg.Locker = NewMemoryLocker()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.DefaultConfig())
	}
	return &Scheduler{
		clock:   cfg.Clock,
		loc:     cfg.Location,
		locker:  cfg.Locker,
		poll:    cfg.PollInterval,
		logger:  cfg.Logger.WithComponent(log.ComponentScheduler),
		entries: make(map[string]*entry),
	}
}

// Register adds t. Its first run is the first cadence point after now.
func (s *Scheduler) Register(t Task) error {
	if t.Name == "" || t.Run == nil {
		return fmt.Errorf("register task: name and run function are required")
	}
	schedule, err := cron.ParseStandard(t.Spec)
	if err != nil {
		return fmt.Errorf("register task %s: parse %q: %w", t.Name, t.Spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[t.Name]; exists {
		return fmt.Errorf("register task %s: already registered", t.Name)
	}
	e := &entry{task: t, schedule: schedule, next: schedule.Next(s.clock.Now().In(s.loc))}
	s.entries[t.Name] = e

	s.logger.Info("Registered task", log.FieldTask, t.Name, "spec", t.Spec, "next_run", e.next.Format(time.RFC3339))
	return nil
}

// Next returns the next scheduled run of the named task.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return time.Time{}, false
	}
	return e.next, true
}

// due returns tasks whose next run is at or before now and schedules their
// following run. Missed cadence points collapse into one run at the latest
// of them.
func (s *Scheduler) due(now time.Time) []dueRun {
	now = now.In(s.loc)

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []dueRun
	for _, e := range s.entries {
		if now.Before(e.next) {
			continue
		}
		at := e.next
		for n := e.schedule.Next(at); !n.After(now); n = e.schedule.Next(n) {
			at = n
		}
		out = append(out, dueRun{task: e.task, at: at})
		e.next = e.schedule.Next(now)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].at.Equal(out[j].at) {
			return out[i].at.Before(out[j].at)
		}
		return out[i].task.Name < out[j].task.Name
	})
	return out
}

type dueRun struct {
	task Task
	at   time.Time
}

// Tick runs every task due at now, one after another, and returns the names
// of the tasks it started. A task whose previous run still holds the lock is
// skipped.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) []string {
	var ran []string
	for _, d := range s.due(now) {
		if err := s.run(ctx, d.task, d.at); errors.Is(err, ErrTaskRunning) {
			continue
		}
		ran = append(ran, d.task.Name)
	}
	return ran
}

// Trigger runs the named task immediately, outside its cadence.
func (s *Scheduler) Trigger(ctx context.Context, name string, at time.Time) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return s.run(ctx, e.task, at)
}

func (s *Scheduler) run(ctx context.Context, t Task, at time.Time) error {
	logger := s.logger.WithFields(log.NewFields().WithTask(t.Name))

	unlock, ok, err := s.locker.TryLock(ctx, t.Name)
	if err != nil {
		logger.LogError(ctx, "Failed to take task lock", err, log.OpRunTask, nil)
		return err
	}
	if !ok {
		logger.WarnContext(ctx, "Task still running, skipping this run", log.FieldRunAt, at.Format(time.RFC3339))
		return ErrTaskRunning
	}
	defer unlock()

	ctx = log.WithContext(ctx, logger)
	start := s.clock.Now()
	logger.InfoContext(ctx, "Task started", log.FieldRunAt, at.Format(time.RFC3339))

	err = t.Run(ctx, at)

	elapsed := s.clock.Now().Sub(start)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		logger.LogError(ctx, "Task failed", err, log.OpRunTask, log.NewFields().WithDuration(elapsed))
	} else {
		logger.InfoContext(ctx, "Task finished", log.NewFields().WithDuration(elapsed).ToSlice()...)
	}
	taskDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("task", t.Name),
		attribute.String("outcome", outcome)))
	return err
}

// Start polls the clock and launches due tasks in their own goroutines
// until Stop is called or ctx ends.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	count := len(s.entries)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.poll)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, d := range s.due(s.clock.Now()) {
					s.wg.Add(1)
					go func(d dueRun) {
						defer s.wg.Done()
						_ = s.run(ctx, d.task, d.at)
					}(d)
				}
			}
		}
	}()

	s.logger.InfoContext(ctx, "Scheduler started", "tasks", count, "poll", s.poll.String(), "timezone", s.loc.String())
	return nil
}

// Stop cancels running tasks and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}
