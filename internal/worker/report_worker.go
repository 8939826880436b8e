// Package worker handles report jobs taken off the dispatch queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"expensetracker/internal/dispatch"
	"expensetracker/internal/export"
	"expensetracker/internal/log"
)

// DeliveryLedger records which (owner, period) reports reached the sink.
type DeliveryLedger interface {
	IsReportDelivered(ctx context.Context, ownerRef, period string) (bool, error)
	MarkReportDelivered(ctx context.Context, ownerRef, period, ref string) error
}

// ReportWorker forwards each report to the export sink at most once per
// owner and period. A crash between the export and the ledger write can
// still deliver a duplicate on redelivery.
type ReportWorker struct {
	ledger DeliveryLedger
	writer export.ReportWriter
	logger *log.Logger
}

func NewReportWorker(ledger DeliveryLedger, writer export.ReportWriter, logger *log.Logger) *ReportWorker {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &ReportWorker{
		ledger: ledger,
		writer: writer,
		logger: logger.WithComponent(log.ComponentWorker),
	}
}

// HandleReportJob is a dispatch.Handler.
func (w *ReportWorker) HandleReportJob(ctx context.Context, job *dispatch.ReportJob) error {
	fields := log.NewFields().WithReport(job.OwnerRef, job.Period)

	delivered, err := w.ledger.IsReportDelivered(ctx, job.OwnerRef, job.Period)
	if err != nil {
		return fmt.Errorf("check delivery ledger: %w", err)
	}
	if delivered {
		w.logger.InfoContext(ctx, "Report already delivered, skipping", fields.ToSlice()...)
		return nil
	}

	ref, err := w.writer.WriteReport(ctx, job.Report)
	if err != nil {
		return fmt.Errorf("export report %s: %w", job.IdempotencyKey(), err)
	}

	if err := w.ledger.MarkReportDelivered(ctx, job.OwnerRef, job.Period, ref); err != nil {
		return fmt.Errorf("record delivery of %s: %w", job.IdempotencyKey(), err)
	}

	fields[log.FieldExportRef] = ref
	w.logger.InfoContext(ctx, "Report delivered", fields.ToSlice()...)
	return nil
}

// Source delivers queued jobs to a consumer until ctx ends or the source fails.
type Source interface {
	Consume(ctx context.Context, consumer *dispatch.Consumer) error
}

// RunConsumer keeps src consuming, restarting it with backoff after a
// failure, until ctx is done.
func RunConsumer(ctx context.Context, src Source, consumer *dispatch.Consumer, logger *log.Logger) error {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentWorker)

	backoff := time.Second
	for {
		err := src.Consume(ctx, consumer)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil || errors.Is(err, context.Canceled) {
			return err
		}

		logger.LogError(ctx, "Consumer stopped, restarting", err, log.OpConsume, log.NewFields().WithDuration(backoff))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
