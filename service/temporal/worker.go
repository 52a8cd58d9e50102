package temporal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brojonat/stellarpay/service/metrics"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// WorkerConfig contains configuration for the Temporal worker.
type WorkerConfig struct {
	// Temporal connection settings
	TemporalHost      string
	TemporalNamespace string
	TaskQueue         string

	// Dependencies
	Fetcher   TransactionFetcher
	Store     StoreInterface     // Optional
	Publisher PublisherInterface // Optional
	Metrics   *metrics.Metrics   // Optional: if nil, no metrics will be recorded
	Logger    *slog.Logger
}

// Worker wraps a Temporal worker and provides lifecycle management.
type Worker struct {
	client client.Client
	worker worker.Worker
	logger *slog.Logger
}

// NewWorker creates and configures a new Temporal worker.
// The worker will process workflows and activities on the configured task queue.
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Fetcher == nil {
		return nil, fmt.Errorf("worker requires a transaction fetcher")
	}

	logger := config.Logger.With("component", "temporal_worker")

	logger.Info("creating temporal worker",
		"host", config.TemporalHost,
		"namespace", config.TemporalNamespace,
		"task_queue", config.TaskQueue,
	)

	// Connect to Temporal
	c, err := client.Dial(client.Options{
		HostPort:  config.TemporalHost,
		Namespace: config.TemporalNamespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal: %w", err)
	}

	w := worker.New(c, config.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     10,
		MaxConcurrentWorkflowTaskExecutionSize: 10,
	})

	w.RegisterWorkflow(ReconcilePaymentWorkflow)
	logger.Info("registered workflow", "name", "ReconcilePaymentWorkflow")

	activities := NewActivities(
		config.Fetcher,
		config.Store,
		config.Publisher,
		config.Metrics,
		logger,
	)

	// Activities are registered by name, matching the ExecuteActivity calls in the workflow
	w.RegisterActivity(activities.FetchTransaction)
	w.RegisterActivity(activities.RecordTransaction)
	w.RegisterActivity(activities.PublishTransaction)

	logger.Info("registered activities",
		"activities", []string{"FetchTransaction", "RecordTransaction", "PublishTransaction"},
	)

	return &Worker{
		client: c,
		worker: w,
		logger: logger,
	}, nil
}

// Run processes workflows and activities until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("starting temporal worker")

	stop := make(chan interface{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()

	err := w.worker.Run(stop)
	w.client.Close()
	if err != nil {
		w.logger.Error("worker stopped with error", "error", err)
		return fmt.Errorf("worker stopped with error: %w", err)
	}
	w.logger.Info("worker stopped gracefully")
	return nil
}
