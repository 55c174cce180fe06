package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "tablecast.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file named by TABLECAST_CONFIG (or DefaultConfigFile) is optional.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if v := os.Getenv("TABLECAST_CONFIG"); v != "" {
		path = v
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. A missing file is not an error.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "TABLECAST_PORT")
	setList(&cfg.Server.AllowedOrigins, "TABLECAST_ALLOWED_ORIGINS")
	setDuration(&cfg.Server.ShutdownTimeout, "TABLECAST_SHUTDOWN_TIMEOUT")
	setInt64(&cfg.Server.MaxMessageBytes, "TABLECAST_MAX_MESSAGE_BYTES")

	setString(&cfg.Auth.Secret, "TABLECAST_JWT_SECRET")
	setBool(&cfg.Auth.InsecureSkipVerify, "TABLECAST_AUTH_INSECURE")
	setInt64(&cfg.Auth.CacheEntries, "TABLECAST_AUTH_CACHE_ENTRIES")
	setDuration(&cfg.Auth.CacheTTL, "TABLECAST_AUTH_CACHE_TTL")

	setInt(&cfg.WS.MaxConns, "TABLECAST_WS_MAX_CONNS")
	setDuration(&cfg.WS.IdleTimeout, "TABLECAST_WS_IDLE_TIMEOUT")
	setInt(&cfg.WS.SendBuffer, "TABLECAST_WS_SEND_BUFFER")
	setInt(&cfg.WS.HandshakeRate, "TABLECAST_WS_HANDSHAKE_RATE")
	setDuration(&cfg.WS.HandshakeWindow, "TABLECAST_WS_HANDSHAKE_WINDOW")

	setString(&cfg.Ingress.Token, "TABLECAST_INGRESS_TOKEN")
	setString(&cfg.Ingress.RedisAddr, "REDIS_ADDR")
	setString(&cfg.Ingress.RedisChannel, "TABLECAST_REDIS_CHANNEL")
	setString(&cfg.Ingress.NATSURL, "NATS_URL")
	setString(&cfg.Ingress.NATSSubject, "TABLECAST_NATS_SUBJECT")

	setString(&cfg.Logging.Level, "TABLECAST_LOG_LEVEL")
	setString(&cfg.Logging.Service, "TABLECAST_LOG_SERVICE")

	setString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setDuration(&cfg.Telemetry.ExportInterval, "TABLECAST_OTEL_EXPORT_INTERVAL")
}

func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Auth.Secret == "" && !cfg.Auth.InsecureSkipVerify {
		return errors.New("auth.secret is required unless auth.insecure_skip_verify is set")
	}
	if cfg.Server.MaxMessageBytes < 1 {
		return errors.New("server.max_message_bytes must be >= 1")
	}
	if cfg.WS.SendBuffer < 1 {
		return errors.New("ws.send_buffer must be >= 1")
	}
	if cfg.WS.MaxConns < 0 {
		return errors.New("ws.max_conns must be >= 0")
	}
	if cfg.WS.HandshakeRate > 0 && cfg.WS.HandshakeWindow <= 0 {
		return errors.New("ws.handshake_window must be > 0 when ws.handshake_rate is set")
	}
	if cfg.Ingress.RedisAddr != "" && cfg.Ingress.RedisChannel == "" {
		return errors.New("ingress.redis_channel is required when ingress.redis_addr is set")
	}
	if cfg.Ingress.NATSURL != "" && cfg.Ingress.NATSSubject == "" {
		return errors.New("ingress.nats_subject is required when ingress.nats_url is set")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setList parses a comma-separated value, dropping empty entries.
func setList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
