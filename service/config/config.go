package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Processing modes.
const (
	// ModeArb tracks pools and searches for arbitrage.
	ModeArb = "arb"
	// ModeGraduates only reports pump.fun graduations.
	ModeGraduates = "graduates"
	// ModeSave captures raw datagrams to CapturePath and exits.
	ModeSave = "save"
)

// DefaultBaseMint is wrapped SOL.
const DefaultBaseMint = "So11111111111111111111111111111111111111112"

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	LogLevel string
	Mode     string

	// Ingest
	ShredBindAddr       string
	QueueCapacity       int
	ReconstructorShards int
	FecSetMaxAge        time.Duration
	FecSetMaxSlotLag    uint64
	SweepInterval       time.Duration
	TombstoneCapacity   int
	TelemetryInterval   time.Duration

	// Server configuration
	ServerAddr string

	// Pool registry
	PoolRegistryPath string
	DatabaseURL      string
	MintsOfInterest  []solana.PublicKey
	SolanaRPCURL     string

	// Engine
	BaseMints          []solana.PublicKey
	MinProfit          uint64
	LargeSwapThreshold uint64

	// NATS configuration
	NATSURL string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string
	ExecutorURL       string
	ExecutorTimeout   time.Duration
	WorkerConcurrency int
	MetricsAddr       string

	// Capture
	CapturePath  string
	CaptureLimit int
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	var err error

	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.Mode = getEnvOrDefault("MODE", ModeArb)

	cfg.ShredBindAddr = getEnvOrDefault("SHRED_BIND_ADDR", "0.0.0.0:8001")
	cfg.QueueCapacity, err = parseInt("QUEUE_CAPACITY", 2000)
	collect(err)
	cfg.ReconstructorShards, err = parseInt("RECONSTRUCTOR_SHARDS", 4)
	collect(err)
	cfg.FecSetMaxAge, err = parseDuration("FEC_SET_MAX_AGE", "2s")
	collect(err)
	cfg.FecSetMaxSlotLag, err = parseUint64("FEC_SET_MAX_SLOT_LAG", 32)
	collect(err)
	cfg.SweepInterval, err = parseDuration("SWEEP_INTERVAL", "250ms")
	collect(err)
	cfg.TombstoneCapacity, err = parseInt("TOMBSTONE_CAPACITY", 65536)
	collect(err)
	cfg.TelemetryInterval, err = parseDuration("TELEMETRY_INTERVAL", "6s")
	collect(err)

	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")

	cfg.PoolRegistryPath = getEnvOrDefault("POOL_REGISTRY_PATH", "raydium.json")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.MintsOfInterest, err = parseKeys("MINTS_OF_INTEREST", "")
	collect(err)
	cfg.SolanaRPCURL = os.Getenv("SOLANA_RPC_URL")

	cfg.BaseMints, err = parseKeys("BASE_MINTS", DefaultBaseMint)
	collect(err)
	cfg.MinProfit, err = parseUint64("MIN_PROFIT", 1_000_000)
	collect(err)
	cfg.LargeSwapThreshold, err = parseUint64("LARGE_SWAP_THRESHOLD", 10_000_000_000)
	collect(err)

	cfg.NATSURL = os.Getenv("NATS_URL")

	cfg.TemporalHost = os.Getenv("TEMPORAL_HOST")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "shredarb-execution")
	cfg.ExecutorURL = os.Getenv("EXECUTOR_URL")
	cfg.ExecutorTimeout, err = parseDuration("EXECUTOR_TIMEOUT", "10s")
	collect(err)
	cfg.WorkerConcurrency, err = parseInt("WORKER_CONCURRENCY", 10)
	collect(err)
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9091")

	cfg.CapturePath = getEnvOrDefault("CAPTURE_PATH", "packets.json")
	cfg.CaptureLimit, err = parseInt("CAPTURE_LIMIT", 10000)
	collect(err)

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	switch c.Mode {
	case ModeArb, ModeGraduates, ModeSave:
	default:
		errs = append(errs, fmt.Errorf("MODE must be one of %s, %s, %s; got %q", ModeArb, ModeGraduates, ModeSave, c.Mode))
	}
	if c.ShredBindAddr == "" {
		errs = append(errs, fmt.Errorf("SHRED_BIND_ADDR is required"))
	}
	if c.QueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("QUEUE_CAPACITY must be positive"))
	}
	if c.ReconstructorShards <= 0 {
		errs = append(errs, fmt.Errorf("RECONSTRUCTOR_SHARDS must be positive"))
	}
	if c.FecSetMaxAge <= 0 {
		errs = append(errs, fmt.Errorf("FEC_SET_MAX_AGE must be positive"))
	}
	if c.FecSetMaxSlotLag == 0 {
		errs = append(errs, fmt.Errorf("FEC_SET_MAX_SLOT_LAG must be positive"))
	}
	if c.SweepInterval <= 0 || c.SweepInterval > c.FecSetMaxAge {
		errs = append(errs, fmt.Errorf("SWEEP_INTERVAL (%v) must be positive and at most FEC_SET_MAX_AGE (%v)", c.SweepInterval, c.FecSetMaxAge))
	}
	if c.TombstoneCapacity <= 0 {
		errs = append(errs, fmt.Errorf("TOMBSTONE_CAPACITY must be positive"))
	}
	if c.TelemetryInterval < time.Second {
		errs = append(errs, fmt.Errorf("TELEMETRY_INTERVAL must be at least 1 second"))
	}
	if c.Mode == ModeArb && len(c.BaseMints) == 0 {
		errs = append(errs, fmt.Errorf("BASE_MINTS is required in %s mode", ModeArb))
	}
	if c.Mode == ModeSave && (c.CapturePath == "" || c.CaptureLimit <= 0) {
		errs = append(errs, fmt.Errorf("CAPTURE_PATH and a positive CAPTURE_LIMIT are required in %s mode", ModeSave))
	}
	if c.TemporalHost != "" && c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TEMPORAL_TASK_QUEUE is required when TEMPORAL_HOST is set"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}
	return nil
}

// ValidateWorker checks the settings the execution worker cannot run without.
func (c *Config) ValidateWorker() error {
	var errs []error
	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TEMPORAL_HOST is required"))
	}
	if c.ExecutorURL == "" {
		errs = append(errs, fmt.Errorf("EXECUTOR_URL is required"))
	}
	if c.ExecutorTimeout <= 0 {
		errs = append(errs, fmt.Errorf("EXECUTOR_TIMEOUT must be positive"))
	}
	if c.WorkerConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("WORKER_CONCURRENCY must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}
	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

func parseUint64(key string, defaultValue uint64) (uint64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseUint(strings.ReplaceAll(value, "_", ""), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid unsigned integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseList splits a comma separated variable, dropping empty items.
func parseList(key, defaultValue string) []string {
	var out []string
	for _, item := range strings.Split(getEnvOrDefault(key, defaultValue), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parseKeys parses a comma separated list of base58 public keys.
func parseKeys(key, defaultValue string) ([]solana.PublicKey, error) {
	var out []solana.PublicKey
	for _, item := range parseList(key, defaultValue) {
		pk, err := solana.PublicKeyFromBase58(item)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid public key %q: %w", key, item, err)
		}
		out = append(out, pk)
	}
	return out, nil
}
