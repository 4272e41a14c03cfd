package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/brojonat/shredarb/service/engine"
)

var a *Activities // for type-safe activity invocation

// DefaultMaxAge is how old an opportunity may be when the workflow runs.
// Reserves move every slot, so anything older is not worth submitting.
const DefaultMaxAge = 2 * time.Second

// ExecuteOpportunityInput is the workflow input.
type ExecuteOpportunityInput struct {
	Opportunity engine.Opportunity `json:"opportunity"`
	MaxAge      time.Duration      `json:"max_age"`
}

// ExecutionResult is what the executor reported for an opportunity.
type ExecutionResult struct {
	OpportunityID string `json:"opportunity_id"`
	Accepted      bool   `json:"accepted"`
	Signature     string `json:"signature,omitempty"`
	Error         string `json:"error,omitempty"`
}

// ExecuteOpportunityWorkflow hands an opportunity to the external executor.
//
// The workflow performs these steps:
// 1. Drop the opportunity if it is older than MaxAge
// 2. Check that the executor is healthy (CheckExecutorHealth activity)
// 3. Submit the opportunity (SubmitOpportunity activity)
//
// An executor rejection is a successful workflow with Accepted=false;
// only infrastructure failures fail the workflow.
func ExecuteOpportunityWorkflow(ctx workflow.Context, input ExecuteOpportunityInput) (*ExecutionResult, error) {
	logger := workflow.GetLogger(ctx)
	opp := input.Opportunity
	logger.Info("ExecuteOpportunityWorkflow started", "opportunity", opp.ID, "profit", opp.Profit)

	result := &ExecutionResult{OpportunityID: opp.ID}

	maxAge := input.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if age := workflow.Now(ctx).Sub(opp.DetectedAt); age > maxAge {
		result.Error = fmt.Sprintf("opportunity expired: %v old", age)
		logger.Info("skipping expired opportunity", "opportunity", opp.ID, "age", age)
		return result, nil
	}

	healthCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    100 * time.Millisecond,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    2,
		},
	})
	if err := workflow.ExecuteActivity(healthCtx, a.CheckExecutorHealth).Get(ctx, nil); err != nil {
		result.Error = fmt.Sprintf("executor unhealthy: %v", err)
		return result, fmt.Errorf("executor health check failed: %w", err)
	}

	submitCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:        100 * time.Millisecond,
			BackoffCoefficient:     2.0,
			MaximumInterval:        time.Second,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{ErrTypeRejected},
		},
	})
	var submitted *SubmitOpportunityResult
	err := workflow.ExecuteActivity(submitCtx, a.SubmitOpportunity, SubmitOpportunityInput{Opportunity: opp}).Get(ctx, &submitted)
	if err != nil {
		result.Error = err.Error()
		return result, fmt.Errorf("failed to submit opportunity: %w", err)
	}

	result.Accepted = submitted.Accepted
	result.Signature = submitted.Signature
	result.Error = submitted.Error
	logger.Info("ExecuteOpportunityWorkflow completed",
		"opportunity", opp.ID,
		"accepted", result.Accepted,
		"signature", result.Signature,
	)
	return result, nil
}
