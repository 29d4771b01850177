package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds application-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string
	DatabaseURL           string
	SlackWebhookURL       string
	PrometheusEndpoint    string
	PrometheusTenantID    string
	LokiEndpoint          string
	LokiTenantID          string
	MaxConcurrent         int
	DefaultTimeoutSeconds int
	MaxTimeoutSeconds     int
	CheckIntervalSeconds  int
	GracePeriodSeconds    int
	MaxAPICalls           int
	MaxEvidence           int
	MaxMemoryBytes        int64
	RateLimitRPS          int
	RateLimitBurst        int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on every API request")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for outcome notifications")
	fs.StringVar(&c.PrometheusEndpoint, "prometheus-endpoint", "", "Prometheus endpoint for the metrics evidence connector")
	fs.StringVar(&c.PrometheusTenantID, "prometheus-tenant-id", "", "Prometheus tenant ID for multi-tenant setups")
	fs.StringVar(&c.LokiEndpoint, "loki-endpoint", "", "Loki endpoint for the log evidence connector")
	fs.StringVar(&c.LokiTenantID, "loki-tenant-id", "", "Loki tenant ID for multi-tenant setups")
	fs.IntVar(&c.MaxConcurrent, "max-concurrent", 100, "maximum concurrently active investigations (1..10000)")
	fs.IntVar(&c.DefaultTimeoutSeconds, "default-timeout-seconds", 1800, "default investigation timeout when none requested")
	fs.IntVar(&c.MaxTimeoutSeconds, "max-timeout-seconds", 7200, "hard cap on requested investigation timeouts")
	fs.IntVar(&c.CheckIntervalSeconds, "check-interval-seconds", 10, "timeout sweep interval (1..300)")
	fs.IntVar(&c.GracePeriodSeconds, "grace-period-seconds", 120, "grace period after deadline before termination")
	fs.IntVar(&c.MaxAPICalls, "max-api-calls", 1000, "per-investigation API call ceiling")
	fs.IntVar(&c.MaxEvidence, "max-evidence", 500, "per-investigation evidence item ceiling")
	fs.Int64Var(&c.MaxMemoryBytes, "max-memory-bytes", 512<<20, "per-investigation memory ceiling in bytes")
	fs.IntVar(&c.RateLimitRPS, "rate-limit-rps", 10, "per-client request rate limit")
	fs.IntVar(&c.RateLimitBurst, "rate-limit-burst", 20, "per-client request burst allowance")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// The API is never served unauthenticated
	if c.APIToken == "" {
		errs = append(errs, errors.New("API_TOKEN is required"))
	}

	if c.MaxConcurrent <= 0 || c.MaxConcurrent > 10000 {
		errs = append(errs, fmt.Errorf("invalid MAX_CONCURRENT %d (must be 1..10000)", c.MaxConcurrent))
	}
	if c.DefaultTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("invalid DEFAULT_TIMEOUT_SECONDS %d (must be positive)", c.DefaultTimeoutSeconds))
	}
	if c.MaxTimeoutSeconds < c.DefaultTimeoutSeconds {
		errs = append(errs, fmt.Errorf("MAX_TIMEOUT_SECONDS %d must be at least DEFAULT_TIMEOUT_SECONDS %d", c.MaxTimeoutSeconds, c.DefaultTimeoutSeconds))
	}
	if c.CheckIntervalSeconds <= 0 || c.CheckIntervalSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid CHECK_INTERVAL_SECONDS %d (must be 1..300)", c.CheckIntervalSeconds))
	}
	if c.GracePeriodSeconds < 0 {
		errs = append(errs, fmt.Errorf("invalid GRACE_PERIOD_SECONDS %d (must be non-negative)", c.GracePeriodSeconds))
	}

	if c.MaxAPICalls <= 0 {
		errs = append(errs, fmt.Errorf("invalid MAX_API_CALLS %d (must be positive)", c.MaxAPICalls))
	}
	if c.MaxEvidence <= 0 {
		errs = append(errs, fmt.Errorf("invalid MAX_EVIDENCE %d (must be positive)", c.MaxEvidence))
	}
	if c.MaxMemoryBytes <= 0 {
		errs = append(errs, fmt.Errorf("invalid MAX_MEMORY_BYTES %d (must be positive)", c.MaxMemoryBytes))
	}

	if c.RateLimitRPS <= 0 {
		errs = append(errs, fmt.Errorf("invalid RATE_LIMIT_RPS %d (must be positive)", c.RateLimitRPS))
	}
	if c.RateLimitBurst < c.RateLimitRPS {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BURST %d must be at least RATE_LIMIT_RPS %d", c.RateLimitBurst, c.RateLimitRPS))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
