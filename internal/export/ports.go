// Package export delivers finished monthly reports to an outbound sink.
package export

import (
	"context"
	"fmt"

	"expensetracker/internal/core"
	"expensetracker/internal/log"
)

// ReportWriter stores or forwards one report and returns a reference to
// where it landed.
type ReportWriter interface {
	WriteReport(ctx context.Context, r core.Report) (ref string, err error)
}

// LogWriter renders reports into the structured log. It is the default sink
// when no external destination is configured.
type LogWriter struct {
	logger *log.Logger
}

var _ ReportWriter = (*LogWriter)(nil)

func NewLogWriter(logger *log.Logger) *LogWriter {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &LogWriter{logger: logger.WithComponent(log.ComponentExport)}
}

func (w *LogWriter) WriteReport(ctx context.Context, r core.Report) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	w.logger.InfoContext(ctx, "Monthly report",
		log.FieldOwnerRef, r.OwnerRef,
		log.FieldPeriod, r.Period.Label,
		"transactions", r.Summary.TotalTransactions,
		"total", core.FormatAmount(r.Summary.TotalAmount),
		"average", core.FormatAmount(r.Summary.AverageAmount),
		"categories", len(r.Categories))
	w.logger.DebugContext(ctx, core.FormatReport(r))
	return fmt.Sprintf("log:%s:%s", r.OwnerRef, r.Period.Label), nil
}
