package cli

import (
	"fmt"
	"time"

	"expensetracker/internal/amqp"
	"expensetracker/internal/cache"
	"expensetracker/internal/config"
	"expensetracker/internal/core"
	"expensetracker/internal/dispatch"
	"expensetracker/internal/dispatch/inmemory"
	"expensetracker/internal/export"
	"expensetracker/internal/log"
	"expensetracker/internal/services"
	"expensetracker/internal/storage"
	"expensetracker/internal/worker"
)

var (
	_ services.TransactionStore = (*storage.SQLiteRepository)(nil)
	_ worker.DeliveryLedger     = (*storage.SQLiteRepository)(nil)
	_ Queue                     = (*amqp.Client)(nil)
	_ Queue                     = (*inmemory.Queue)(nil)
)

// Queue is either the RabbitMQ client or the in-process queue.
type Queue interface {
	services.ReportPublisher
	worker.Source
	Close() error
}

// OpenQueue connects to RabbitMQ when AMQP_URL is set and otherwise returns
// an in-process queue.
func OpenQueue(cfg *config.Config, logger *log.Logger) (Queue, error) {
	if !cfg.UseAMQP() {
		logger.Info("AMQP disabled - report jobs stay in process")
		return inmemory.NewQueue(), nil
	}

	client, err := amqp.NewClient(AMQPConfig(cfg, logger))
	if err != nil {
		return nil, fmt.Errorf("connect to AMQP: %w", err)
	}
	logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue, "queue_type", cfg.AMQPQueueType)
	return client, nil
}

// AMQPConfig maps application config onto the broker topology.
func AMQPConfig(cfg *config.Config, logger *log.Logger) amqp.Config {
	return amqp.Config{
		URL:                cfg.AMQPURL,
		Exchange:           cfg.AMQPExchange,
		Queue:              cfg.AMQPQueue,
		DeadLetterExchange: cfg.AMQPDeadLetterExchange,
		DeadLetterQueue:    cfg.AMQPDeadLetterQueue,
		QueueType:          cfg.AMQPQueueType,
		Prefetch:           cfg.AMQPPrefetch,
		PublishRetries:     cfg.AMQPPublishRetries,
		Logger:             logger,
	}
}

// Services groups the application services over one repository.
type Services struct {
	Categories   *services.CategoryResolver
	Sweeper      *services.RecurrenceSweeper
	Reports      *services.ReportBuilder
	Monthly      *services.MonthlySweep
	Transactions *services.TransactionService
	Caches       *cache.Manager
}

// NewServices wires the services. publisher may be nil for binaries that
// never publish report jobs.
func NewServices(cfg *config.Config, repo *storage.SQLiteRepository, publisher services.ReportPublisher, clock core.Clock, logger *log.Logger) *Services {
	names := cache.NewLRUCache[string](1024, 10*time.Minute)
	caches := cache.NewManager(logger)
	caches.Register(names)

	categories := services.NewCategoryResolver(repo, names)
	reports := services.NewReportBuilder(repo, categories, logger)

	s := &Services{
		Categories:   categories,
		Sweeper:      services.NewRecurrenceSweeper(repo, services.SweeperConfig{CatchUp: cfg.SweepCatchUp}, logger),
		Reports:      reports,
		Transactions: services.NewTransactionService(repo, categories, logger),
		Caches:       caches,
	}
	if publisher != nil {
		s.Monthly = services.NewMonthlySweep(repo, reports, publisher, clock, services.MonthlySweepConfig{Concurrency: cfg.ReportConcurrency}, logger)
	}
	return s
}

// NewReportConsumer builds the consumer that exports report jobs through
// writer, deduplicated by the repository's delivered-report ledger.
func NewReportConsumer(cfg *config.Config, repo *storage.SQLiteRepository, writer export.ReportWriter, logger *log.Logger) *dispatch.Consumer {
	w := worker.NewReportWorker(repo, writer, logger)
	return dispatch.NewConsumer(w.HandleReportJob, dispatch.ConsumerConfig{
		MaxAttempts:       cfg.ConsumerMaxAttempts,
		ProcessingTimeout: cfg.ConsumerProcessingTimeout,
	}, logger)
}
