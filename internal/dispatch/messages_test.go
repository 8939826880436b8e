package dispatch

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"expensetracker/internal/core"
)

func sampleReport(owner string) core.Report {
	period := core.MonthlyPeriod(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC))
	return core.BuildReport(owner, period, []core.Transaction{{
		ID:                 "t1",
		OwnerRef:           owner,
		Amount:             decimal.NewFromInt(42),
		Description:        "Books",
		OccurrenceDate:     core.NewDate(2024, 2, 5),
		RecurrenceInterval: core.IntervalNone,
	}}, nil)
}

func TestNewReportJob(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 5, 0, time.UTC)
	job := NewReportJob(sampleReport("user-1"), now)

	if job.OwnerRef != "user-1" || job.Period != "2024-02" {
		t.Errorf("NewReportJob() = %s/%s, want user-1/2024-02", job.OwnerRef, job.Period)
	}
	if job.IdempotencyKey() != "user-1:2024-02" {
		t.Errorf("IdempotencyKey() = %s, want user-1:2024-02", job.IdempotencyKey())
	}
	if !job.EnqueuedAt.Equal(now) {
		t.Errorf("EnqueuedAt = %v, want %v", job.EnqueuedAt, now)
	}
	if err := job.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestReportJob_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ReportJob)
	}{
		{"missing owner", func(j *ReportJob) { j.OwnerRef = ""; j.Report.OwnerRef = "" }},
		{"bad period format", func(j *ReportJob) { j.Period = "2024-2"; j.Report.Period.Label = "2024-2" }},
		{"month out of range", func(j *ReportJob) { j.Period = "2024-13"; j.Report.Period.Label = "2024-13" }},
		{"report for another owner", func(j *ReportJob) { j.Report.OwnerRef = "user-2" }},
		{"report for another period", func(j *ReportJob) { j.Period = "2024-01" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewReportJob(sampleReport("user-1"), time.Now())
			tt.mutate(job)
			err := job.Validate()
			if !errors.Is(err, core.ErrValidation) {
				t.Errorf("Validate() error = %v, want validation error", err)
			}
		})
	}
}

func TestReportJob_JSON(t *testing.T) {
	job := NewReportJob(sampleReport("user-1"), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	body, err := job.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}
	parsed, err := ReportJobFromJSON(body)
	if err != nil {
		t.Fatalf("ReportJobFromJSON() error = %v", err)
	}
	if parsed.IdempotencyKey() != job.IdempotencyKey() {
		t.Errorf("parsed key = %s, want %s", parsed.IdempotencyKey(), job.IdempotencyKey())
	}
	if !parsed.Report.Summary.TotalAmount.Equal(decimal.NewFromInt(42)) {
		t.Errorf("parsed TotalAmount = %s, want 42", parsed.Report.Summary.TotalAmount)
	}
	if !parsed.Report.Period.Start.Equal(core.NewDate(2024, 2, 1)) {
		t.Errorf("parsed Period.Start = %v, want 2024-02-01", parsed.Report.Period.Start)
	}
}

func TestReportJobFromJSON_Invalid(t *testing.T) {
	for name, body := range map[string]string{
		"not json":       `{"ownerRef":`,
		"wrong types":    `{"ownerRef": 12, "period": "2024-02"}`,
		"missing report": `{"ownerRef": "user-1", "period": "2024-02"}`,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := ReportJobFromJSON([]byte(body)); !errors.Is(err, core.ErrValidation) {
				t.Errorf("ReportJobFromJSON() error = %v, want validation error", err)
			}
		})
	}
}
