// Package client is the HTTP client for the shredarb server API.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/shredarb/service/engine"
	"github.com/brojonat/shredarb/service/metrics"
	"github.com/brojonat/shredarb/service/tracker"
)

// Client is the HTTP client for the shredarb server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new client. Streaming requests ignore the client
// timeout and run until their context ends.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// ListPoolsOptions filters and pages ListPools. Zero values use server defaults.
type ListPoolsOptions struct {
	Mint   string
	Limit  int
	Offset int
}

// PoolPage is one page of pools.
type PoolPage struct {
	Pools  []tracker.Snapshot `json:"pools"`
	Count  int                `json:"count"`
	Total  int                `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// Telemetry is the server's counter snapshot plus the tracked pool count.
type Telemetry struct {
	metrics.Snapshot
	Pools int `json:"pools"`
}

// ListPools retrieves tracked pools.
func (c *Client) ListPools(ctx context.Context, opts ListPoolsOptions) (*PoolPage, error) {
	q := url.Values{}
	if opts.Mint != "" {
		q.Set("mint", opts.Mint)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	u := c.baseURL + "/api/v1/pools"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var page PoolPage
	if err := c.getJSON(ctx, u, &page); err != nil {
		return nil, err
	}
	c.logger.Debug("pools listed", "count", page.Count, "total", page.Total)
	return &page, nil
}

// GetPool retrieves the current state of one pool.
func (c *Client) GetPool(ctx context.Context, address string) (*tracker.Snapshot, error) {
	var snap tracker.Snapshot
	if err := c.getJSON(ctx, fmt.Sprintf("%s/api/v1/pools/%s", c.baseURL, url.PathEscape(address)), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Telemetry retrieves the current telemetry counters.
func (c *Client) Telemetry(ctx context.Context) (*Telemetry, error) {
	var tel Telemetry
	if err := c.getJSON(ctx, c.baseURL+"/api/v1/telemetry", &tel); err != nil {
		return nil, err
	}
	return &tel, nil
}

// Health returns nil when the server reports healthy.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	return nil
}

// StreamOpportunities calls fn for every opportunity the server streams,
// optionally filtered by base mint, until ctx is done, the stream ends, or fn
// returns an error. A cancelled ctx is not an error.
func (c *Client) StreamOpportunities(ctx context.Context, baseMint string, fn func(engine.Opportunity) error) error {
	u := c.baseURL + "/api/v1/stream/opportunities"
	if baseMint != "" {
		u += "?base_mint=" + url.QueryEscape(baseMint)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// No timeout for streaming
	streaming := *c.httpClient
	streaming.Timeout = 0
	resp, err := streaming.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to connect to SSE endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()

		// Empty line indicates end of event
		if line == "" {
			if event == "opportunity" && data != "" {
				var opp engine.Opportunity
				if err := json.Unmarshal([]byte(data), &opp); err != nil {
					return fmt.Errorf("failed to decode opportunity: %w", err)
				}
				if err := fn(opp); err != nil {
					return err
				}
			} else if event == "connected" {
				c.logger.Debug("stream connected", "data", data)
			}
			event, data = "", ""
			continue
		}

		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("error reading SSE stream: %w", err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, u string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
