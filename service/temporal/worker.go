package temporal

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/brojonat/shredarb/service/metrics"
)

// WorkerConfig configures the execution worker.
type WorkerConfig struct {
	TemporalHost      string
	TemporalNamespace string
	TaskQueue         string

	// ExecutorURL is the webhook that receives opportunities.
	ExecutorURL string
	HTTPClient  *http.Client // nil uses a 5s timeout client

	// MaxConcurrentExecutions bounds in-flight activities; zero means 10.
	MaxConcurrentExecutions int

	Metrics *metrics.Metrics // optional
	Logger  *slog.Logger
}

func (c WorkerConfig) validate() error {
	var errs []error
	if c.TemporalHost == "" {
		errs = append(errs, errors.New("temporal host is required"))
	}
	if c.TaskQueue == "" {
		errs = append(errs, errors.New("task queue is required"))
	}
	if c.ExecutorURL == "" {
		errs = append(errs, errors.New("executor url is required"))
	}
	return errors.Join(errs...)
}

// Worker runs ExecuteOpportunityWorkflow and its activities.
type Worker struct {
	client client.Client
	worker worker.Worker
	logger *slog.Logger
}

// NewWorker dials Temporal and registers the execution workflow and the
// executor activities on the task queue.
func NewWorker(config WorkerConfig) (*Worker, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid worker config: %w", err)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.MaxConcurrentExecutions <= 0 {
		config.MaxConcurrentExecutions = 10
	}
	logger := config.Logger.With("component", "temporal_worker")

	c, err := client.Dial(client.Options{
		HostPort:  config.TemporalHost,
		Namespace: config.TemporalNamespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal: %w", err)
	}

	w := worker.New(c, config.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     config.MaxConcurrentExecutions,
		MaxConcurrentWorkflowTaskExecutionSize: config.MaxConcurrentExecutions,
	})
	w.RegisterWorkflow(ExecuteOpportunityWorkflow)
	// registers every exported method, named after the method
	w.RegisterActivity(NewActivities(config.ExecutorURL, config.HTTPClient, config.Metrics, logger))

	logger.Info("temporal worker ready",
		"host", config.TemporalHost,
		"namespace", config.TemporalNamespace,
		"task_queue", config.TaskQueue,
		"executor_url", config.ExecutorURL,
		"max_concurrent", config.MaxConcurrentExecutions,
	)

	return &Worker{client: c, worker: w, logger: logger}, nil
}

// Start processes tasks until Stop is called. It blocks.
func (w *Worker) Start() error {
	if err := w.worker.Run(worker.InterruptCh()); err != nil {
		return fmt.Errorf("worker stopped with error: %w", err)
	}
	w.logger.Info("worker stopped")
	return nil
}

// Stop drains the worker and closes the client.
func (w *Worker) Stop() {
	w.worker.Stop()
	w.client.Close()
}
