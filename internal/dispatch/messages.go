// Package dispatch defines the monthly report job exchanged between the
// report producer and the report consumer, and the consumer's
// acknowledgement protocol.
package dispatch

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"

	"expensetracker/internal/core"
)

// RoutingKey identifies monthly report jobs on the exchange.
const RoutingKey = "monthly-report"

var periodRegex = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("report_period", validateReportPeriod)
	v.RegisterStructValidation(validateJobConsistency, ReportJob{})
	return v
}

func validateReportPeriod(fl validator.FieldLevel) bool {
	return periodRegex.MatchString(fl.Field().String())
}

// validateJobConsistency checks that the embedded report belongs to the
// job's owner and period.
func validateJobConsistency(sl validator.StructLevel) {
	job := sl.Current().Interface().(ReportJob)
	if job.Report.OwnerRef != job.OwnerRef {
		sl.ReportError(job.Report.OwnerRef, "Report.OwnerRef", "OwnerRef", "eqfield", "OwnerRef")
	}
	if job.Report.Period.Label != job.Period {
		sl.ReportError(job.Report.Period.Label, "Report.Period.Label", "Label", "eqfield", "Period")
	}
}

// ReportJob carries one owner's monthly report through the queue.
type ReportJob struct {
	OwnerRef   string      `json:"ownerRef" validate:"required,max=255"`
	Period     string      `json:"period" validate:"required,report_period"`
	Report     core.Report `json:"report"`
	EnqueuedAt time.Time   `json:"enqueuedAt"`
}

// NewReportJob wraps report into a job stamped at now.
func NewReportJob(report core.Report, now time.Time) *ReportJob {
	return &ReportJob{
		OwnerRef:   report.OwnerRef,
		Period:     report.Period.Label,
		Report:     report,
		EnqueuedAt: now.UTC(),
	}
}

// IdempotencyKey identifies the logical job across redeliveries and
// re-publishes.
func (j *ReportJob) IdempotencyKey() string {
	return j.OwnerRef + ":" + j.Period
}

// Validate checks the job schema. Failures match core.ErrValidation.
func (j *ReportJob) Validate() error {
	if err := validate.Struct(j); err != nil {
		return core.Wrap(core.ErrValidation, fmt.Errorf("report job: %w", err))
	}
	return nil
}

// ToJSON converts the job to JSON bytes
func (j *ReportJob) ToJSON() ([]byte, error) {
	return json.Marshal(j)
}

// ReportJobFromJSON decodes and validates a job.
func ReportJobFromJSON(data []byte) (*ReportJob, error) {
	var job ReportJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, core.Wrap(core.ErrValidation, fmt.Errorf("decode report job: %w", err))
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}
