// Package backend selects the export sink that receives finished reports.
package backend

import (
	"context"
	"fmt"

	"expensetracker/internal/export"
	gsheet "expensetracker/internal/export/google"
	"expensetracker/internal/export/memory"
	"expensetracker/internal/log"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &DefaultFactory{logger: logger.WithComponent(log.ComponentExport)}
}

// CreateSink implements Factory.CreateSink
func (f *DefaultFactory) CreateSink(ctx context.Context, config Config) (*SinkResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case LogSink:
		f.logger.Info("Initialized log report sink")
		return &SinkResult{Writer: export.NewLogWriter(f.logger)}, nil
	case MemorySink:
		f.logger.Info("Initialized memory report sink")
		return &SinkResult{Writer: memory.New()}, nil
	case SheetsSink:
		return f.createSheetsSink(ctx, config)
	default:
		return nil, fmt.Errorf("unsupported report sink: %s", config.Type)
	}
}

func (f *DefaultFactory) createSheetsSink(ctx context.Context, config Config) (*SinkResult, error) {
	cli, err := gsheet.New(ctx, gsheet.Options{
		SpreadsheetID:   config.GoogleSpreadsheetID,
		SummarySheet:    config.SummarySheet,
		CategoriesSheet: config.CategoriesSheet,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}

	f.logger.Info("Initialized Google Sheets report sink", "spreadsheet_id", config.GoogleSpreadsheetID)
	return &SinkResult{Writer: cli}, nil
}
