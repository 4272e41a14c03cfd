package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/client"

	"github.com/brojonat/shredarb/service/engine"
)

// Client is a production implementation of Starter that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	maxAge    time.Duration
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		maxAge:    DefaultMaxAge,
		logger:    logger,
	}, nil
}

// StartExecution implements Starter.
func (c *Client) StartExecution(ctx context.Context, opp engine.Opportunity) (string, error) {
	id := workflowID(opp)
	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       id,
		TaskQueue:                c.taskQueue,
		WorkflowExecutionTimeout: 30 * time.Second,
		Memo: map[string]interface{}{
			"base_mint":    opp.BaseMint.String(),
			"trigger_pool": opp.TriggerPool.String(),
			"profit":       opp.Profit,
		},
	}, ExecuteOpportunityWorkflow, ExecuteOpportunityInput{Opportunity: opp, MaxAge: c.maxAge})
	if err != nil {
		return "", fmt.Errorf("failed to start workflow %q: %w", id, err)
	}
	c.logger.Debug("started execution workflow", "workflow_id", run.GetID(), "run_id", run.GetRunID())
	return run.GetID(), nil
}

// Result waits for an execution workflow to finish and returns its result.
func (c *Client) Result(ctx context.Context, workflowID string) (*ExecutionResult, error) {
	var result ExecutionResult
	if err := c.client.GetWorkflow(ctx, workflowID, "").Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("workflow %q failed: %w", workflowID, err)
	}
	return &result, nil
}

// CheckHealth reports whether the Temporal frontend is reachable.
func (c *Client) CheckHealth(ctx context.Context) error {
	_, err := c.client.CheckHealth(ctx, &client.CheckHealthRequest{})
	return err
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
