package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration accepts both "8s" and 8 (seconds) in JSON.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("duration must be a string or a number of seconds: %w", err)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration for the threadrun server.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Database  DatabaseConfig  `json:"database"`
	Agent     AgentConfig     `json:"agent"`
	Retriever RetrieverConfig `json:"retriever"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Metrics   MetricsConfig   `json:"metrics,omitempty"`
}

// GatewayConfig controls the HTTP listener.
type GatewayConfig struct {
	Host            string   `json:"host"`
	Port            int      `json:"port"`
	Token           string   `json:"-"`                          // from env THREADRUN_GATEWAY_TOKEN only
	RateLimitRPM    int      `json:"rate_limit_rpm,omitempty"`   // per organization, 0 = unlimited
	MaxBodyBytes    int64    `json:"max_body_bytes,omitempty"`   // request body limit
	ShutdownTimeout Duration `json:"shutdown_timeout,omitempty"` // drain window for in-flight runs
}

// DatabaseConfig configures Postgres.
// PostgresDSN is NEVER read from config.json (secret), only from env THREADRUN_POSTGRES_DSN.
type DatabaseConfig struct {
	PostgresDSN  string `json:"-"`
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
	MaxIdleConns int    `json:"max_idle_conns,omitempty"`
}

// AgentConfig tunes run execution.
type AgentConfig struct {
	MaxRecursionDepth int      `json:"max_recursion_depth"`
	SettleDelay       Duration `json:"settle_delay"`      // wait before answering multi-part input
	PartSpacing       Duration `json:"part_spacing"`      // flat gap between parts when typing delay is off
	WordsPerMinute    int      `json:"words_per_minute"`  // simulated typing speed
	FirstPartCredit   Duration `json:"first_part_credit"` // subtracted from the first part's typing delay
	RelayCapacity     int      `json:"relay_capacity"`
	HistoryWindow     Duration `json:"history_window"` // rolling window for contact history
}

// RetrieverConfig controls knowledge lookups.
type RetrieverConfig struct {
	TopK      int     `json:"top_k"`
	Threshold float64 `json:"threshold"` // minimum cosine similarity
}

// TelemetryConfig configures OpenTelemetry export for traces and spans.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`      // enable OTLP export (default false)
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // plaintext connection, for local collectors
	ServiceName string            `json:"service_name,omitempty"` // OTEL service name (default "threadrun")
	Headers     map[string]string `json:"headers,omitempty"`      // extra headers (e.g. auth tokens for cloud backends)
}

// MetricsConfig exposes Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// Addr returns host:port for the HTTP listener.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}
