package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			MaxBodyBytes:    3 << 20,
			ShutdownTimeout: Duration(120 * time.Second),
		},
		Database: DatabaseConfig{
			MaxOpenConns: 20,
			MaxIdleConns: 5,
		},
		Agent: AgentConfig{
			MaxRecursionDepth: 10,
			SettleDelay:       Duration(8 * time.Second),
			PartSpacing:       Duration(750 * time.Millisecond),
			WordsPerMinute:    100,
			FirstPartCredit:   Duration(30 * time.Second),
			RelayCapacity:     20,
			HistoryWindow:     Duration(24 * time.Hour),
		},
		Retriever: RetrieverConfig{
			TopK:      5,
			Threshold: 0.3,
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	envStr("THREADRUN_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("THREADRUN_HOST", &c.Gateway.Host)
	envInt("THREADRUN_PORT", &c.Gateway.Port)
	envInt("THREADRUN_RATE_LIMIT_RPM", &c.Gateway.RateLimitRPM)

	// Database
	envStr("THREADRUN_POSTGRES_DSN", &c.Database.PostgresDSN)

	// Agent
	envInt("THREADRUN_MAX_RECURSION_DEPTH", &c.Agent.MaxRecursionDepth)

	// Telemetry
	envBool("THREADRUN_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envStr("THREADRUN_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("THREADRUN_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("THREADRUN_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	envBool("THREADRUN_TELEMETRY_INSECURE", &c.Telemetry.Insecure)

	envBool("THREADRUN_METRICS_ENABLED", &c.Metrics.Enabled)
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port %d out of range", c.Gateway.Port)
	}
	if c.Agent.MaxRecursionDepth <= 0 {
		return fmt.Errorf("agent.max_recursion_depth must be positive")
	}
	if c.Agent.RelayCapacity <= 0 {
		return fmt.Errorf("agent.relay_capacity must be positive")
	}
	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		return fmt.Errorf("telemetry.protocol %q must be grpc or http", c.Telemetry.Protocol)
	}
	return nil
}
