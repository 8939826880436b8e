package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"expensetracker/internal/core"
	"expensetracker/internal/dispatch"
	"expensetracker/internal/log"
)

// MonthlyReportBuilder builds one owner's report for the month before referenceDate.
type MonthlyReportBuilder interface {
	BuildMonthlyReport(ctx context.Context, ownerRef string, referenceDate time.Time) (core.Report, error)
}

type MonthlySweepResult struct {
	Owners    int
	Published int
	Failed    int
}

type MonthlySweepConfig struct {
	// Concurrency bounds how many owners are built and published at once.
	Concurrency int
}

// MonthlySweep enumerates owners and enqueues one report job per owner.
type MonthlySweep struct {
	owners      OwnerLister
	builder     MonthlyReportBuilder
	publisher   ReportPublisher
	clock       core.Clock
	concurrency int
	logger      *log.Logger
}

func NewMonthlySweep(owners OwnerLister, builder MonthlyReportBuilder, publisher ReportPublisher, clock core.Clock, cfg MonthlySweepConfig, logger *log.Logger) *MonthlySweep {
	if clock == nil {
		clock = core.SystemClock{}
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &MonthlySweep{
		owners:      owners,
		builder:     builder,
		publisher:   publisher,
		clock:       clock,
		concurrency: cfg.Concurrency,
		logger:      logger.WithComponent(log.ComponentReports),
	}
}

// RunMonthlySweep publishes the previous month's report for every owner.
// Owners are independent: one owner failing is logged and counted. Only a
// failure to enumerate owners is returned.
func (m *MonthlySweep) RunMonthlySweep(ctx context.Context, referenceDate time.Time) (MonthlySweepResult, error) {
	ctx, span := tracer.Start(ctx, "reports.monthly_sweep")
	defer span.End()

	owners, err := m.owners.DistinctOwners(ctx)
	if err != nil {
		span.RecordError(err)
		return MonthlySweepResult{}, fmt.Errorf("list owners: %w", err)
	}

	period := core.MonthlyPeriod(referenceDate)
	span.SetAttributes(attribute.String("report.period", period.Label), attribute.Int("report.owners", len(owners)))
	m.logger.InfoContext(ctx, "Starting monthly report sweep",
		log.FieldPeriod, period.Label,
		"owners", len(owners),
		"concurrency", m.concurrency)

	var published, failed int64

	g := new(errgroup.Group)
	g.SetLimit(m.concurrency)
	for _, owner := range owners {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := m.PublishOwner(ctx, owner, referenceDate); err != nil {
				atomic.AddInt64(&failed, 1)
				m.logger.LogError(ctx, "Failed to publish monthly report", err, log.OpPublish,
					log.NewFields().WithReport(owner, period.Label))
				return nil
			}
			atomic.AddInt64(&published, 1)
			return nil
		})
	}
	_ = g.Wait()

	result := MonthlySweepResult{
		Owners:    len(owners),
		Published: int(published),
		Failed:    int(failed),
	}
	m.logger.InfoContext(ctx, "Monthly report sweep complete",
		log.FieldPeriod, period.Label,
		"owners", result.Owners,
		"published", result.Published,
		"failed", result.Failed)

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// PublishOwner builds and enqueues one owner's report. It also serves manual
// re-runs for a period whose sweep was missed.
func (m *MonthlySweep) PublishOwner(ctx context.Context, ownerRef string, referenceDate time.Time) error {
	report, err := m.builder.BuildMonthlyReport(ctx, ownerRef, referenceDate)
	if err != nil {
		reportsPublishFail.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", "build")))
		return fmt.Errorf("build report: %w", err)
	}

	job := dispatch.NewReportJob(report, m.clock.Now())
	if err := m.publisher.PublishReportJob(ctx, job); err != nil {
		reportsPublishFail.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", "publish")))
		return fmt.Errorf("publish report job %s: %w", job.IdempotencyKey(), err)
	}

	reportsPublished.Add(ctx, 1)
	m.logger.InfoContext(ctx, "Enqueued monthly report",
		log.FieldOwnerRef, ownerRef,
		log.FieldPeriod, job.Period,
		"transactions", report.Summary.TotalTransactions)
	return nil
}
