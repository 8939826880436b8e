package services

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"expensetracker/internal/core"
	"expensetracker/internal/log"
)

var (
	tracer                = otel.Tracer("expensetracker/services")
	meter                 = otel.Meter("expensetracker/services")
	sweepMaterialized, _  = meter.Int64Counter("recurrence.sweep.materialized", metric.WithDescription("Transactions materialized from recurring templates"))
	sweepFailed, _        = meter.Int64Counter("recurrence.sweep.failed", metric.WithDescription("Recurring templates that failed to materialize"))
	reportsPublished, _   = meter.Int64Counter("reports.published", metric.WithDescription("Monthly report jobs handed to the queue"))
	reportsPublishFail, _ = meter.Int64Counter("reports.publish_failed", metric.WithDescription("Monthly reports that could not be built or published"))
)

// SweepResult counts the outcome of one sweep.
type SweepResult struct {
	Due          int
	Materialized int
	// Skipped counts templates another run advanced first.
	Skipped int
	Failed  int
}

type SweeperConfig struct {
	// CatchUp also selects templates whose cursor is already in the past,
	// advancing each by one cycle per run.
	CatchUp bool
}

// RecurrenceSweeper materializes due recurring templates into concrete
// transactions and advances their cursors.
type RecurrenceSweeper struct {
	store   RecurringStore
	catchUp bool
	logger  *log.Logger
}

func NewRecurrenceSweeper(store RecurringStore, cfg SweeperConfig, logger *log.Logger) *RecurrenceSweeper {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &RecurrenceSweeper{
		store:   store,
		catchUp: cfg.CatchUp,
		logger:  logger.WithComponent(log.ComponentSweeper),
	}
}

// Sweep processes every template due on today. A failing template is logged
// and counted; it never stops the others. Only the due-selection query
// failing is returned as an error.
func (s *RecurrenceSweeper) Sweep(ctx context.Context, today core.Date) (SweepResult, error) {
	if s.store == nil {
		return SweepResult{}, fmt.Errorf("sweeper not properly initialized")
	}

	ctx, span := tracer.Start(ctx, "recurrence.sweep")
	defer span.End()
	span.SetAttributes(attribute.String("sweep.date", today.String()), attribute.Bool("sweep.catch_up", s.catchUp))

	from := today
	if s.catchUp {
		from = core.Date{}
	}
	due, err := s.store.FindDueRecurring(ctx, from, today.AddDays(1))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select due templates")
		return SweepResult{}, fmt.Errorf("find due recurring transactions: %w", err)
	}

	result := SweepResult{Due: len(due)}
	s.logger.InfoContext(ctx, "Processing recurring transactions",
		"due", len(due),
		"date", today.String(),
		"catch_up", s.catchUp)

	for _, tmpl := range due {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		fields := log.NewFields().WithTransaction(tmpl.ID, tmpl.OwnerRef, string(tmpl.RecurrenceInterval))
		created, next, err := s.materialize(ctx, tmpl)
		if errors.Is(err, core.ErrStaleCursor) {
			result.Skipped++
			s.logger.InfoContext(ctx, "Recurring template already advanced by another run", fields.ToSlice()...)
			continue
		}
		if err != nil {
			result.Failed++
			sweepFailed.Add(ctx, 1)
			s.logger.LogError(ctx, "Failed to materialize recurring transaction", err, log.OpMaterialize, fields)
			continue
		}

		result.Materialized++
		sweepMaterialized.Add(ctx, 1, metric.WithAttributes(attribute.String("interval", string(tmpl.RecurrenceInterval))))
		fields[log.FieldNextCursor] = next.String()
		fields["created_id"] = created.ID
		s.logger.InfoContext(ctx, "Created transaction from recurring template", fields.ToSlice()...)
	}

	s.logger.InfoContext(ctx, "Recurring transaction processing complete",
		"due", result.Due,
		"materialized", result.Materialized,
		"skipped", result.Skipped,
		"failed", result.Failed)

	if result.Failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d templates failed", result.Failed))
	}
	return result, nil
}

// materialize stores the copy dated at the cursor and advances the cursor
// in one step. A failed write leaves the template due for the next run.
func (s *RecurrenceSweeper) materialize(ctx context.Context, tmpl core.Transaction) (core.Transaction, core.Date, error) {
	if tmpl.NextRecurrenceDate == nil {
		return core.Transaction{}, core.Date{}, core.ErrCursorMismatch
	}
	cursor := *tmpl.NextRecurrenceDate

	anchor := core.SeriesAnchorDay(cursor, tmpl.OccurrenceDate.Day())
	next, ok := core.NextOccurrenceAnchored(cursor, tmpl.RecurrenceInterval, anchor)
	if !ok {
		return core.Transaction{}, core.Date{}, core.ErrInvalidInterval
	}

	created, err := s.store.MaterializeOccurrence(ctx, tmpl.ID, tmpl.Materialize(cursor), cursor, next)
	if err != nil {
		return core.Transaction{}, core.Date{}, fmt.Errorf("materialize %s -> %s: %w", cursor, next, err)
	}
	return created, next, nil
}
