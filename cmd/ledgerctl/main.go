// Command ledgerctl runs one-off ledger operations: a recurrence sweep for a
// given date, monthly report publication (all owners or one), a per-day
// summary of the last 30 days, and adding a transaction.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"expensetracker/internal/backend"
	"expensetracker/internal/cli"
	"expensetracker/internal/config"
	"expensetracker/internal/core"
	"expensetracker/internal/dispatch/inmemory"
	"expensetracker/internal/log"
	"expensetracker/internal/scheduler"
	"expensetracker/internal/services"
	"expensetracker/internal/storage"
)

const usage = `usage: ledgerctl <command> [flags]

commands:
  sweep   -date YYYY-MM-DD                 materialize recurring transactions due on date
  report  -date YYYY-MM-DD [-owner ref]    publish reports for the month before date
  report  -period YYYY-MM [-owner ref]     publish reports for the given month
  daily   -owner ref [-date YYYY-MM-DD]    per-day totals for the 30 days up to date
  add     -owner ref -amount n -description text [-date] [-category] [-interval]
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	ctx := context.Background()
	var err error
	switch os.Args[1] {
	case "sweep":
		err = runSweep(ctx, cfg, repo, logger, os.Args[2:])
	case "report":
		err = runReport(ctx, cfg, repo, logger, os.Args[2:])
	case "daily":
		err = runDaily(ctx, cfg, repo, logger, os.Args[2:])
	case "add":
		err = runAdd(ctx, cfg, repo, logger, os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("Command failed", "command", os.Args[1], log.FieldError, err)
		repo.Close()
		os.Exit(1)
	}
}

func parseDateFlag(value string, loc *time.Location) (core.Date, error) {
	if value == "" {
		return core.DateOf(time.Now().In(loc)), nil
	}
	return core.ParseDate(value)
}

// withTaskLock runs fn under the run lock the scheduler takes for name, so a
// manual run never overlaps a scheduled one.
func withTaskLock(ctx context.Context, cfg *config.Config, repo *storage.SQLiteRepository, name string, fn func() error) error {
	unlock, ok, err := repo.NewTaskLocker(cfg.TaskLockTTL, core.SystemClock{}).TryLock(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", name, scheduler.ErrTaskRunning)
	}
	defer unlock()
	return fn()
}

func runSweep(ctx context.Context, cfg *config.Config, repo *storage.SQLiteRepository, logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	date := fs.String("date", "", "sweep date (YYYY-MM-DD), defaults to today")
	catchUp := fs.Bool("catch-up", cfg.SweepCatchUp, "also materialize occurrences missed before date")
	_ = fs.Parse(args)

	today, err := parseDateFlag(*date, cfg.Location())
	if err != nil {
		return err
	}

	cfg.SweepCatchUp = *catchUp
	svc := cli.NewServices(cfg, repo, nil, core.SystemClock{}, logger)
	return withTaskLock(ctx, cfg, repo, scheduler.TaskDailySweep, func() error {
		res, err := svc.Sweeper.Sweep(ctx, today)
		if err != nil {
			return err
		}
		fmt.Printf("swept %s: due=%d materialized=%d skipped=%d failed=%d\n", today, res.Due, res.Materialized, res.Skipped, res.Failed)
		return nil
	})
}

func runReport(ctx context.Context, cfg *config.Config, repo *storage.SQLiteRepository, logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	date := fs.String("date", "", "reference date (YYYY-MM-DD); the report covers the month before it")
	label := fs.String("period", "", "report month (YYYY-MM); overrides -date")
	owner := fs.String("owner", "", "publish only this owner's report")
	_ = fs.Parse(args)

	day, err := parseDateFlag(*date, cfg.Location())
	if err != nil {
		return err
	}
	if *label != "" {
		p, err := core.ParsePeriod(*label)
		if err != nil {
			return err
		}
		// The month before p.End is p itself.
		day = p.End
	}
	ref := time.Date(day.Year(), time.Month(day.Month()), day.Day(), 0, 0, 0, 0, cfg.Location())

	queue, err := cli.OpenQueue(cfg, logger)
	if err != nil {
		return err
	}
	defer queue.Close()

	svc := cli.NewServices(cfg, repo, queue, core.SystemClock{}, logger)
	period := core.MonthlyPeriod(ref)

	err = withTaskLock(ctx, cfg, repo, scheduler.TaskMonthlyReports, func() error {
		if *owner != "" {
			if err := svc.Monthly.PublishOwner(ctx, *owner, ref); err != nil {
				return err
			}
			fmt.Printf("published %s report for %s\n", period.Label, *owner)
			return nil
		}
		res, err := svc.Monthly.RunMonthlySweep(ctx, ref)
		if err != nil {
			return err
		}
		fmt.Printf("published %s reports: owners=%d published=%d failed=%d\n", period.Label, res.Owners, res.Published, res.Failed)
		return nil
	})
	if err != nil {
		return err
	}

	// Without a broker nothing else will consume the jobs, so deliver them now.
	if q, ok := queue.(*inmemory.Queue); ok {
		return drain(ctx, cfg, repo, q, logger)
	}
	return nil
}

func drain(ctx context.Context, cfg *config.Config, repo *storage.SQLiteRepository, q *inmemory.Queue, logger *log.Logger) error {
	sinkCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	sink, err := backend.NewFactory(logger).CreateSink(ctx, sinkCfg)
	if err != nil {
		return err
	}
	if sink.Cleanup != nil {
		defer sink.Cleanup()
	}
	consumer := cli.NewReportConsumer(cfg, repo, sink.Writer, logger)

	for {
		d, ok := q.TryReceive()
		if !ok {
			break
		}
		consumer.Handle(ctx, d)
	}
	if dead := len(q.DeadLetters()); dead > 0 {
		return fmt.Errorf("%d report(s) could not be delivered", dead)
	}
	return nil
}

func runDaily(ctx context.Context, cfg *config.Config, repo *storage.SQLiteRepository, logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("daily", flag.ExitOnError)
	owner := fs.String("owner", "", "owner reference")
	date := fs.String("date", "", "last day of the summary (YYYY-MM-DD), defaults to today")
	_ = fs.Parse(args)

	day, err := parseDateFlag(*date, cfg.Location())
	if err != nil {
		return err
	}

	svc := cli.NewServices(cfg, repo, nil, core.SystemClock{}, logger)
	days, err := svc.Reports.DailySummary(ctx, *owner, day.Time)
	if err != nil {
		return err
	}
	for _, d := range days {
		fmt.Printf("%s  %12s  %3d\n", d.Date, core.FormatAmount(d.TotalAmount), d.Count)
	}
	return nil
}

func runAdd(ctx context.Context, cfg *config.Config, repo *storage.SQLiteRepository, logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	in := services.TransactionInput{}
	fs.StringVar(&in.OwnerRef, "owner", "", "owner reference")
	fs.StringVar(&in.Amount, "amount", "", "signed decimal amount, negative for expenses")
	fs.StringVar(&in.Description, "description", "", "description")
	fs.StringVar(&in.Date, "date", "", "occurrence date (YYYY-MM-DD), defaults to today")
	fs.StringVar(&in.Category, "category", "", "category id or name")
	fs.StringVar(&in.Interval, "interval", "none", "none, daily, weekly, monthly or yearly")
	_ = fs.Parse(args)

	if in.Date == "" {
		in.Date = core.DateOf(time.Now().In(cfg.Location())).String()
	}

	svc := cli.NewServices(cfg, repo, nil, core.SystemClock{}, logger)
	tx, err := svc.Transactions.Create(ctx, in)
	if err != nil {
		return err
	}

	fmt.Printf("created %s\n", tx.ID)
	if tx.NextRecurrenceDate != nil {
		fmt.Printf("next occurrence %s\n", tx.NextRecurrenceDate)
	}
	return nil
}
