package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/brojonat/shredarb/service/metrics"
)

// ErrNoBalance is returned when the node reports no balance for an account.
var ErrNoBalance = errors.New("token account has no balance")

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetTokenAccountBalance(
		ctx context.Context,
		account solana.PublicKey,
		commitment rpc.CommitmentType,
	) (*rpc.GetTokenAccountBalanceResult, error)
}

// Client reads vault balances for reserve hydration.
// It wraps the RPC client with retries and metrics.
type Client struct {
	rpc      RPCClient
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // RPC endpoint identifier for metrics (e.g., "mainnet", rpc host)

	maxAttempts int
	backoff     time.Duration
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling.
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:         rpcClient,
		logger:      logger.With("component", "solana_rpc"),
		metrics:     m,
		endpoint:    endpoint,
		maxAttempts: 3,
		backoff:     time.Second,
	}
}

// WithBackoff overrides the base retry backoff. Tests use a tiny value.
func (c *Client) WithBackoff(d time.Duration) *Client {
	c.backoff = d
	return c
}

// TokenBalance fetches the raw token amount held by account.
// Rate limited calls (429) back off twice as long as other failures.
func (c *Client) TokenBalance(ctx context.Context, account solana.PublicKey) (TokenBalance, error) {
	var (
		result *rpc.GetTokenAccountBalanceResult
		err    error
	)
	// Retry logic with exponential backoff
	for attempt := range c.maxAttempts {
		start := time.Now()
		result, err = c.rpc.GetTokenAccountBalance(ctx, account, rpc.CommitmentConfirmed)
		duration := time.Since(start).Seconds()

		// Record metrics for GetTokenAccountBalance call
		status := "success"
		if err != nil {
			status = "error"
		}
		if c.metrics != nil {
			c.metrics.RecordRPCCall("GetTokenAccountBalance", status, c.endpoint, duration)
		}

		if err == nil {
			break // Success
		}
		if attempt == c.maxAttempts-1 {
			break // Out of attempts; the error is returned below
		}

		// Handle rate limiting (429 Too Many Requests) with longer backoff
		backoff := c.backoff << uint(attempt) // 1s, 2s, 4s with the default backoff
		if strings.Contains(err.Error(), "429") {
			backoff *= 2
		}
		c.logger.WarnContext(ctx, "token balance request failed, retrying",
			"account", account.String(),
			"attempt", attempt+1,
			"error", err,
			"backoff", backoff,
		)
		// Wait before retrying unless the caller gives up first
		select {
		case <-ctx.Done():
			return TokenBalance{}, ctx.Err()
		case <-time.After(backoff):
		}
	}
	if err != nil {
		return TokenBalance{}, fmt.Errorf("failed to get balance of %s: %w", account, err)
	}
	return balanceFromResult(account, result)
}

// balanceFromResult converts the RPC response into a TokenBalance.
// Amount is a decimal string in the raw token unit.
func balanceFromResult(account solana.PublicKey, result *rpc.GetTokenAccountBalanceResult) (TokenBalance, error) {
	if result == nil || result.Value == nil {
		return TokenBalance{}, fmt.Errorf("%w: %s", ErrNoBalance, account)
	}
	amount, err := strconv.ParseUint(result.Value.Amount, 10, 64)
	if err != nil {
		return TokenBalance{}, fmt.Errorf("invalid amount %q for %s: %w", result.Value.Amount, account, err)
	}
	return TokenBalance{
		Account:  account,
		Amount:   amount,
		Decimals: result.Value.Decimals,
		Slot:     result.Context.Slot,
	}, nil
}
