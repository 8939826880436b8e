package main

import (
	"context"
	"os"
	"time"

	"expensetracker/internal/amqp"
	"expensetracker/internal/backend"
	"expensetracker/internal/cli"
	"expensetracker/internal/log"
	"expensetracker/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentWorker)
	logger.Info("Starting report-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if !cfg.UseAMQP() {
		logger.Error("AMQP_URL is required for report-worker")
		os.Exit(1)
	}

	// The delivered-report ledger lives in the same database as the transactions.
	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	sinkCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid report sink", log.FieldError, err)
		os.Exit(1)
	}
	sink, err := backend.NewFactory(logger).CreateSink(context.Background(), sinkCfg)
	if err != nil {
		logger.Error("Failed to create report sink", log.FieldError, err)
		os.Exit(1)
	}
	if sink.Cleanup != nil {
		defer sink.Cleanup()
	}

	client, err := amqp.NewClient(cli.AMQPConfig(cfg, logger))
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer client.Close()

	consumer := cli.NewReportConsumer(cfg, repo, sink.Writer, logger)

	stopped := make(chan struct{})
	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(context.Context) {
		logger.Info("Shutting down report-worker...")
		<-stopped
	})

	go func() {
		defer close(stopped)
		if err := worker.RunConsumer(ctx, client, consumer, logger); err != nil {
			logger.Error("Message consumption failed", log.FieldError, err)
		}
	}()

	logger.Info("Report-worker started",
		"queue", cfg.AMQPQueue,
		"max_attempts", cfg.ConsumerMaxAttempts,
		"processing_timeout", cfg.ConsumerProcessingTimeout.String(),
		"sink", cfg.ReportSink)

	cli.WaitForShutdown(ctx, done)
	logger.Info("Report-worker shutdown complete")
}
