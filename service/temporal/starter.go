package temporal

import (
	"context"
	"log/slog"
	"strings"

	"github.com/brojonat/shredarb/service/engine"
	"github.com/brojonat/shredarb/service/metrics"
)

// Starter starts execution workflows. Client implements it against Temporal.
type Starter interface {
	// StartExecution starts ExecuteOpportunityWorkflow for opp and returns
	// the workflow ID.
	StartExecution(ctx context.Context, opp engine.Opportunity) (string, error)
}

// workflowID derives the workflow ID from the opportunity's trigger, so the
// same opportunity reported twice maps to one workflow.
func workflowID(opp engine.Opportunity) string {
	return "execute-opportunity-" + opp.ID
}

// Executor is an engine.Sink that starts one execution workflow per
// opportunity from its own goroutine. Opportunities arriving while the
// buffer is full are dropped; a fresher one will follow.
type Executor struct {
	starter Starter
	pending chan engine.Opportunity
	metrics *metrics.Metrics
	logger  *slog.Logger
}

var _ engine.Sink = (*Executor)(nil)

// NewExecutor creates an Executor with room for buffer pending opportunities.
func NewExecutor(starter Starter, buffer int, m *metrics.Metrics, logger *slog.Logger) *Executor {
	if buffer <= 0 {
		buffer = 64
	}
	return &Executor{
		starter: starter,
		pending: make(chan engine.Opportunity, buffer),
		metrics: m,
		logger:  logger.With("component", "executor"),
	}
}

func (e *Executor) Opportunity(opp engine.Opportunity) {
	select {
	case e.pending <- opp:
	default:
		e.record("dropped")
		e.logger.Warn("execution buffer full, dropping opportunity", "opportunity", opp.ID)
	}
}

// Run starts workflows until ctx is cancelled.
func (e *Executor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case opp := <-e.pending:
			id, err := e.starter.StartExecution(ctx, opp)
			if err != nil {
				if isAlreadyStarted(err) {
					e.record("duplicate")
					continue
				}
				e.record("start_failed")
				e.logger.Error("failed to start execution workflow", "opportunity", opp.ID, "error", err)
				continue
			}
			e.record("started")
			e.logger.Info("execution workflow started", "opportunity", opp.ID, "workflow_id", id)
		}
	}
}

func (e *Executor) record(status string) {
	if e.metrics != nil {
		e.metrics.RecordExecution(status)
	}
}

func isAlreadyStarted(err error) bool {
	return strings.Contains(err.Error(), "already started")
}
