package backend

import (
	"fmt"

	"expensetracker/internal/config"
)

// FromAppConfig converts the application config to sink config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	sinkType := SinkType(appConfig.ReportSink)
	if !sinkType.IsValid() {
		return Config{}, fmt.Errorf("invalid report sink in config: %s", appConfig.ReportSink)
	}

	return Config{
		Type:                sinkType,
		GoogleSpreadsheetID: appConfig.GoogleSpreadsheetID,
		SummarySheet:        appConfig.ReportSheetName,
		CategoriesSheet:     appConfig.ReportCategoriesSheet,
	}, nil
}

// Validate validates the sink configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid report sink: %s", c.Type)
	}
	if c.Type == SheetsSink && c.GoogleSpreadsheetID == "" {
		return fmt.Errorf("Google Spreadsheet ID is required for sheets sink")
	}
	return nil
}

// GetSinkTypes returns all valid sink types
func GetSinkTypes() []SinkType {
	return []SinkType{LogSink, MemorySink, SheetsSink}
}
