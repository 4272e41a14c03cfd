package temporal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"

	"github.com/brojonat/shredarb/service/engine"
	"github.com/brojonat/shredarb/service/metrics"
)

// ErrTypeRejected marks executor responses that retrying cannot fix.
const ErrTypeRejected = "ExecutorRejected"

// SubmitOpportunityInput contains parameters for the SubmitOpportunity activity.
type SubmitOpportunityInput struct {
	Opportunity engine.Opportunity `json:"opportunity"`
}

// SubmitOpportunityResult is the executor's response body.
type SubmitOpportunityResult struct {
	Accepted  bool   `json:"accepted"`
	Signature string `json:"signature,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Activities holds the dependencies needed by Temporal activities.
// Following go-kit pattern, all dependencies are explicit.
type Activities struct {
	executorURL string
	httpClient  *http.Client
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded.
func NewActivities(executorURL string, httpClient *http.Client, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Activities{
		executorURL: strings.TrimRight(executorURL, "/"),
		httpClient:  httpClient,
		metrics:     m,
		logger:      logger,
	}
}

// CheckExecutorHealth calls GET {executor}/healthz.
func (a *Activities) CheckExecutorHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.executorURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executor health request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("executor unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// SubmitOpportunity POSTs the opportunity to the executor.
// 4xx responses are non-retryable; 5xx and transport errors are retried
// by the workflow's retry policy.
func (a *Activities) SubmitOpportunity(ctx context.Context, input SubmitOpportunityInput) (*SubmitOpportunityResult, error) {
	opp := input.Opportunity
	a.logger.InfoContext(ctx, "submitting opportunity",
		"opportunity", opp.ID,
		"legs", len(opp.Legs),
		"amount_in", opp.AmountIn,
		"profit", opp.Profit,
	)

	body, err := json.Marshal(opp)
	if err != nil {
		return nil, temporalsdk.NewNonRetryableApplicationError("failed to marshal opportunity", ErrTypeRejected, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.executorURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.record("error")
		return nil, fmt.Errorf("executor request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		a.record("error")
		return nil, fmt.Errorf("failed to read executor response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		a.record("error")
		return nil, fmt.Errorf("executor error: status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	case resp.StatusCode >= 400:
		a.record("rejected")
		return nil, temporalsdk.NewNonRetryableApplicationError(
			fmt.Sprintf("executor rejected request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))),
			ErrTypeRejected, nil)
	}

	var result SubmitOpportunityResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		a.record("error")
		return nil, temporalsdk.NewNonRetryableApplicationError("invalid executor response", ErrTypeRejected, err)
	}

	status := "accepted"
	if !result.Accepted {
		status = "rejected"
	}
	a.record(status)
	a.logger.InfoContext(ctx, "opportunity submitted",
		"opportunity", opp.ID,
		"accepted", result.Accepted,
		"signature", result.Signature,
		"error", result.Error,
	)
	return &result, nil
}

func (a *Activities) record(status string) {
	if a.metrics != nil {
		a.metrics.RecordExecution(status)
	}
}
