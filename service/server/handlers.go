package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/gagliardetto/solana-go"

	"github.com/brojonat/shredarb/service/metrics"
	"github.com/brojonat/shredarb/service/tracker"
)

const (
	maxAddressLength = 100 // Solana addresses are 44 chars, give buffer
	defaultPageSize  = 100
	maxPageSize      = 1000
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// handleListPools returns a handler that lists tracked pools.
// GET /api/v1/pools?mint=MINT&limit=N&offset=N
func handleListPools(registry *tracker.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		limit, offset, err := parsePage(query.Get("limit"), query.Get("offset"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		var snaps []tracker.Snapshot
		if mintStr := query.Get("mint"); mintStr != "" {
			mint, err := parseKey(mintStr)
			if err != nil {
				logger.Debug("invalid mint", "mint", mintStr, "error", err)
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			for _, s := range registry.Snapshots() {
				if s.CoinMint.Equals(mint) || s.PcMint.Equals(mint) {
					snaps = append(snaps, s)
				}
			}
		} else {
			snaps = registry.Snapshots()
		}

		total := len(snaps)
		page := []tracker.Snapshot{}
		if offset < total {
			end := min(offset+limit, total)
			page = snaps[offset:end]
		}

		logger.Debug("pools listed", "count", len(page), "total", total)
		writeJSON(w, map[string]interface{}{
			"pools":  page,
			"count":  len(page),
			"total":  total,
			"limit":  limit,
			"offset": offset,
		}, http.StatusOK)
	})
}

// handleGetPool returns a handler that retrieves one pool's current state.
// GET /api/v1/pools/{address}
func handleGetPool(registry *tracker.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address, err := parseKey(r.PathValue("address"))
		if err != nil {
			logger.Debug("invalid address", "address", r.PathValue("address"), "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		state, ok := registry.Get(address)
		if !ok {
			writeError(w, "pool not found", http.StatusNotFound)
			return
		}
		writeJSON(w, state.Snapshot(), http.StatusOK)
	})
}

// telemetryResponse is the JSON response format for GET /api/v1/telemetry.
type telemetryResponse struct {
	metrics.Snapshot
	Pools int `json:"pools"`
}

// handleTelemetry returns the current telemetry counters.
// GET /api/v1/telemetry
func handleTelemetry(m *metrics.Metrics, registry *tracker.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, telemetryResponse{
			Snapshot: m.Snapshot(time.Now()),
			Pools:    registry.Len(),
		}, http.StatusOK)
	})
}

func parsePage(limitStr, offsetStr string) (limit, offset int, err error) {
	limit = defaultPageSize
	if limitStr != "" {
		if _, err := fmt.Sscanf(limitStr, "%d", &limit); err != nil {
			return 0, 0, errorf("invalid limit parameter: must be an integer")
		}
		if limit < 1 {
			return 0, 0, errorf("limit must be at least 1")
		}
		if limit > maxPageSize {
			return 0, 0, errorf("limit cannot exceed %d", maxPageSize)
		}
	}
	if offsetStr != "" {
		if _, err := fmt.Sscanf(offsetStr, "%d", &offset); err != nil {
			return 0, 0, errorf("invalid offset parameter: must be an integer")
		}
		if offset < 0 {
			return 0, 0, errorf("offset cannot be negative")
		}
	}
	return limit, offset, nil
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates an account address for security and format.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must contain only valid base58 characters")
	}

	return nil
}

// parseKey validates address and decodes it into a public key.
func parseKey(address string) (solana.PublicKey, error) {
	if err := validateAddress(address); err != nil {
		return solana.PublicKey{}, err
	}
	key, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return solana.PublicKey{}, errorf("invalid address: %v", err)
	}
	return key, nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
