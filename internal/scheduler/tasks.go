package scheduler

import (
	"context"
	"time"

	"expensetracker/internal/core"
	"expensetracker/internal/log"
	"expensetracker/internal/services"
)

const (
	TaskDailySweep     = "daily-recurrence-sweep"
	TaskMonthlyReports = "monthly-report-sweep"

	DefaultDailySpec   = "0 0 * * *"
	DefaultMonthlySpec = "0 0 1 * *"
)

type Sweeper interface {
	Sweep(ctx context.Context, today core.Date) (services.SweepResult, error)
}

type MonthlyRunner interface {
	RunMonthlySweep(ctx context.Context, referenceDate time.Time) (services.MonthlySweepResult, error)
}

// DailySweepTask materializes recurring transactions due on the run's date.
func DailySweepTask(spec string, sweeper Sweeper) Task {
	if spec == "" {
		spec = DefaultDailySpec
	}
	return Task{
		Name: TaskDailySweep,
		Spec: spec,
		Run: func(ctx context.Context, at time.Time) error {
			res, err := sweeper.Sweep(ctx, core.DateOf(at))
			if err != nil {
				return err
			}
			log.FromContext(ctx).InfoContext(ctx, "Recurrence sweep complete",
				"due", res.Due, "materialized", res.Materialized, "skipped", res.Skipped, "failed", res.Failed)
			return nil
		},
	}
}

// MonthlyReportTask publishes a report job per owner for the month before
// the run's date.
func MonthlyReportTask(spec string, runner MonthlyRunner) Task {
	if spec == "" {
		spec = DefaultMonthlySpec
	}
	return Task{
		Name: TaskMonthlyReports,
		Spec: spec,
		Run: func(ctx context.Context, at time.Time) error {
			res, err := runner.RunMonthlySweep(ctx, at)
			if err != nil {
				return err
			}
			log.FromContext(ctx).InfoContext(ctx, "Monthly report sweep complete",
				"owners", res.Owners, "published", res.Published, "failed", res.Failed)
			return nil
		},
	}
}
