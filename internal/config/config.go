// Package config loads runtime configuration for the tablecast node.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the distribution node.
type Config struct {
	Server    Server    `yaml:"server"`
	Auth      Auth      `yaml:"auth"`
	WS        WS        `yaml:"ws"`
	Ingress   Ingress   `yaml:"ingress"`
	Logging   Logging   `yaml:"logging"`
	Telemetry Telemetry `yaml:"telemetry"`
}

// Server holds HTTP listener configuration.
type Server struct {
	Port            string        `yaml:"port"`
	AllowedOrigins  []string      `yaml:"allowed_origins"` // "*" allows any origin
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxMessageBytes int64         `yaml:"max_message_bytes"`
}

// Auth controls how connection credentials are verified.
type Auth struct {
	Secret string `yaml:"secret"` //nolint:gosec // config field, not a hardcoded secret
	// InsecureSkipVerify decodes tokens without checking the signature.
	// Demo deployments only.
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	CacheEntries       int64         `yaml:"cache_entries"` // 0 disables the claims cache
	CacheTTL           time.Duration `yaml:"cache_ttl"`
}

// WS holds WebSocket transport limits.
type WS struct {
	MaxConns        int           `yaml:"max_conns"`    // 0 = unlimited
	IdleTimeout     time.Duration `yaml:"idle_timeout"` // 0 disables idle reaping and keep-alive pings
	SendBuffer      int           `yaml:"send_buffer"`
	HandshakeRate   int           `yaml:"handshake_rate"` // handshakes per window per IP, 0 = unlimited
	HandshakeWindow time.Duration `yaml:"handshake_window"`
}

// Ingress configures the paths internal services use to inject events.
type Ingress struct {
	Token        string `yaml:"token"` //nolint:gosec // config field, not a hardcoded secret
	RedisAddr    string `yaml:"redis_addr"`
	RedisChannel string `yaml:"redis_channel"`
	NATSURL      string `yaml:"nats_url"`
	NATSSubject  string `yaml:"nats_subject"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// Telemetry holds OpenTelemetry export configuration.
type Telemetry struct {
	OTLPEndpoint   string        `yaml:"otlp_endpoint"` // empty disables export
	ExportInterval time.Duration `yaml:"export_interval"`
}

// Defaults returns a Config with sensible values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:            "3001",
			AllowedOrigins:  []string{"http://localhost:3000"},
			ShutdownTimeout: 10 * time.Second,
			MaxMessageBytes: 64 << 10,
		},
		Auth: Auth{
			CacheEntries: 10000,
			CacheTTL:     5 * time.Minute,
		},
		WS: WS{
			SendBuffer:      32,
			HandshakeRate:   30,
			HandshakeWindow: time.Minute,
		},
		Ingress: Ingress{
			RedisChannel: "tablecast:ingress",
			NATSSubject:  "tablecast.ingress",
		},
		Logging: Logging{
			Level:   "info",
			Service: "tablecast",
		},
		Telemetry: Telemetry{
			ExportInterval: 30 * time.Second,
		},
	}
}
