package main

import (
	"context"
	"os"
	"sync"
	"time"

	"expensetracker/internal/backend"
	"expensetracker/internal/cli"
	"expensetracker/internal/core"
	"expensetracker/internal/log"
	"expensetracker/internal/scheduler"
	"expensetracker/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentScheduler)
	logger.Info("Starting scheduler")

	cfg := cli.LoadAndValidateConfig(logger)

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	queue, err := cli.OpenQueue(cfg, logger)
	if err != nil {
		logger.Error("Failed to open report queue", log.FieldError, err)
		os.Exit(1)
	}
	defer queue.Close()

	clock := core.SystemClock{}
	svc := cli.NewServices(cfg, repo, queue, clock, logger)
	svc.Caches.StartCleanup(5 * time.Minute)
	defer svc.Caches.Stop()

	sched := scheduler.New(scheduler.Config{
		Clock:        clock,
		Location:     cfg.Location(),
		Locker:       repo.NewTaskLocker(cfg.TaskLockTTL, clock),
		PollInterval: cfg.SchedulerPollInterval,
		Logger:       logger,
	})
	for _, task := range []scheduler.Task{
		scheduler.DailySweepTask(cfg.DailySweepSpec, svc.Sweeper),
		scheduler.MonthlyReportTask(cfg.MonthlyReportSpec, svc.Monthly),
	} {
		if err := sched.Register(task); err != nil {
			logger.Error("Failed to register task", log.FieldTask, task.Name, log.FieldError, err)
			os.Exit(1)
		}
	}

	var consumers sync.WaitGroup
	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(context.Context) {
		logger.Info("Shutting down scheduler...")
		sched.Stop()
		consumers.Wait()
	})

	// Without a broker the consumer runs here, next to the producer.
	if !cfg.UseAMQP() {
		sinkCfg, err := backend.FromAppConfig(cfg)
		if err != nil {
			logger.Error("Invalid report sink", log.FieldError, err)
			os.Exit(1)
		}
		sink, err := backend.NewFactory(logger).CreateSink(ctx, sinkCfg)
		if err != nil {
			logger.Error("Failed to create report sink", log.FieldError, err)
			os.Exit(1)
		}
		if sink.Cleanup != nil {
			defer sink.Cleanup()
		}
		consumer := cli.NewReportConsumer(cfg, repo, sink.Writer, logger)

		consumers.Add(1)
		go func() {
			defer consumers.Done()
			if err := worker.RunConsumer(ctx, queue, consumer, logger); err != nil {
				logger.Error("In-process consumer stopped", log.FieldError, err)
			}
		}()
	}

	// Catch up on today's recurrences after downtime.
	if err := sched.Trigger(ctx, scheduler.TaskDailySweep, clock.Now().In(cfg.Location())); err != nil {
		logger.Error("Startup sweep failed", log.FieldError, err)
	}

	if err := sched.Start(ctx); err != nil {
		logger.Error("Failed to start scheduler", log.FieldError, err)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Scheduler shutdown complete")
}
