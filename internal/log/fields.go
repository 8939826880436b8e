package log

import "time"

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldError         = "error"
	FieldOperation     = "operation"
	FieldDuration      = "duration_ms"
	FieldSuccess       = "success"
	FieldTask          = "task"
	FieldRunAt         = "run_at"
	FieldOwnerRef      = "owner_ref"
	FieldPeriod        = "period"
	FieldTransactionID = "transaction_id"
	FieldInterval      = "interval"
	FieldCursor        = "cursor"
	FieldNextCursor    = "next_cursor"
	FieldMessageID     = "message_id"
	FieldAttempt       = "attempt"
	FieldOutcome       = "outcome"
	FieldExportRef     = "export_ref"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentSweeper   = "sweeper"
	ComponentReports   = "reports"
	ComponentScheduler = "scheduler"
	ComponentConsumer  = "consumer"
	ComponentWorker    = "worker"
	ComponentExport    = "export"
	ComponentCache     = "cache"
)

// Operations defines standard operation names
const (
	OpCreate      = "create"
	OpUpdate      = "update"
	OpDelete      = "delete"
	OpMaterialize = "materialize"
	OpAdvance     = "advance_cursor"
	OpBuild       = "build_report"
	OpPublish     = "publish"
	OpConsume     = "consume"
	OpExport      = "export"
	OpShutdown    = "shutdown"
	OpStartup     = "startup"
	OpRunTask     = "run_task"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithDuration adds a duration in milliseconds.
func (f LogFields) WithDuration(d time.Duration) LogFields {
	f[FieldDuration] = d.Milliseconds()
	return f
}

func (f LogFields) WithTask(name string) LogFields {
	f[FieldTask] = name
	return f
}

// WithReport adds the owner and period that identify a monthly report.
func (f LogFields) WithReport(ownerRef, period string) LogFields {
	f[FieldOwnerRef] = ownerRef
	f[FieldPeriod] = period
	return f
}

// WithTransaction adds transaction identity and recurrence fields.
func (f LogFields) WithTransaction(id, ownerRef, interval string) LogFields {
	f[FieldTransactionID] = id
	f[FieldOwnerRef] = ownerRef
	f[FieldInterval] = interval
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
