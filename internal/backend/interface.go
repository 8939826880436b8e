package backend

import (
	"context"

	"expensetracker/internal/export"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// SinkResult contains the report writer and optional cleanup function
type SinkResult struct {
	Writer  export.ReportWriter
	Cleanup CleanupFunc
}

// Factory creates report sinks based on configuration
type Factory interface {
	CreateSink(ctx context.Context, config Config) (*SinkResult, error)
}

// Config holds configuration for sink creation
type Config struct {
	Type SinkType

	// Google Sheets specific
	GoogleSpreadsheetID string
	SummarySheet        string
	CategoriesSheet     string
}

// SinkType names where finished reports are delivered.
type SinkType string

const (
	LogSink    SinkType = "log"
	MemorySink SinkType = "memory"
	SheetsSink SinkType = "sheets"
)

// String implements fmt.Stringer
func (st SinkType) String() string {
	return string(st)
}

// IsValid returns true if the sink type is valid
func (st SinkType) IsValid() bool {
	switch st {
	case LogSink, MemorySink, SheetsSink:
		return true
	default:
		return false
	}
}
