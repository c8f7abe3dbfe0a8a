// Package config loads the agent configuration from environment variables.
// A .env file in the working directory is read first when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every setting of the agent, one struct per concern.
type Config struct {
	Upstream  UpstreamConfig
	Sync      SyncConfig
	Database  DatabaseConfig
	Session   SessionConfig
	Agent     AgentConfig
	Telemetry TelemetryConfig
}

// UpstreamConfig points at the marketplace servers.
type UpstreamConfig struct {
	APIBaseURL string // REST base, e.g. http://localhost:8000
	WSBaseURL  string // WebSocket base, e.g. ws://localhost:8000
	Timeout    time.Duration
}

// SyncConfig tunes the real-time layer.
type SyncConfig struct {
	ReconnectDelay    time.Duration // notification channel only
	HeartbeatInterval time.Duration // 0 disables heartbeats
	OfferWindow       time.Duration
	OfferHistoryLimit int
}

// DatabaseConfig is the local sqlite store.
type DatabaseConfig struct {
	Path string
}

// SessionConfig controls the stored bearer token and notification language.
type SessionConfig struct {
	Secret   string // token-at-rest encryption secret, KEEP PRIVATE
	Language string
}

// AgentConfig is the loopback API consumed by the UI.
type AgentConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
}

// TelemetryConfig enables OTLP trace export when Endpoint is set.
type TelemetryConfig struct {
	ServiceName string
	Endpoint    string
}

// Load builds a Config from the environment.
func Load() (*Config, error) {
	// Missing .env is fine; production sets real variables.
	_ = godotenv.Load()

	timeoutSec, err := strconv.Atoi(getEnv("API_TIMEOUT_SECONDS", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid API_TIMEOUT_SECONDS: %w", err)
	}

	reconnectMs, err := strconv.Atoi(getEnv("WS_RECONNECT_DELAY_MS", "3000"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_RECONNECT_DELAY_MS: %w", err)
	}

	heartbeatSec, err := strconv.Atoi(getEnv("WS_HEARTBEAT_SECONDS", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_HEARTBEAT_SECONDS: %w", err)
	}

	offerSec, err := strconv.Atoi(getEnv("OFFER_WINDOW_SECONDS", "120"))
	if err != nil {
		return nil, fmt.Errorf("invalid OFFER_WINDOW_SECONDS: %w", err)
	}
	if offerSec <= 0 {
		return nil, fmt.Errorf("OFFER_WINDOW_SECONDS must be positive, got %d", offerSec)
	}

	historyLimit, err := strconv.Atoi(getEnv("OFFER_HISTORY_LIMIT", "200"))
	if err != nil {
		return nil, fmt.Errorf("invalid OFFER_HISTORY_LIMIT: %w", err)
	}

	port, err := strconv.Atoi(getEnv("AGENT_PORT", "7420"))
	if err != nil {
		return nil, fmt.Errorf("invalid AGENT_PORT: %w", err)
	}

	secret := getEnv("SESSION_SECRET", "")
	if secret == "" {
		return nil, fmt.Errorf("SESSION_SECRET environment variable is required")
	}

	cfg := &Config{
		Upstream: UpstreamConfig{
			APIBaseURL: strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:8000"), "/"),
			WSBaseURL:  strings.TrimRight(getEnv("WS_BASE_URL", "ws://localhost:8000"), "/"),
			Timeout:    time.Duration(timeoutSec) * time.Second,
		},
		Sync: SyncConfig{
			ReconnectDelay:    time.Duration(reconnectMs) * time.Millisecond,
			HeartbeatInterval: time.Duration(heartbeatSec) * time.Second,
			OfferWindow:       time.Duration(offerSec) * time.Second,
			OfferHistoryLimit: historyLimit,
		},
		Database: DatabaseConfig{
			Path: getEnv("DATABASE_PATH", "./data/groomnet.db"),
		},
		Session: SessionConfig{
			Secret:   secret,
			Language: getEnv("LANGUAGE", "en"),
		},
		Agent: AgentConfig{
			Host:           getEnv("AGENT_HOST", "127.0.0.1"),
			Port:           port,
			AllowedOrigins: splitList(getEnv("AGENT_ALLOWED_ORIGINS", "http://localhost:3000")),
		},
		Telemetry: TelemetryConfig{
			ServiceName: getEnv("SERVICE_NAME", "groomnet-agent"),
			Endpoint:    getEnv("OTEL_EXPORTER_ENDPOINT", ""),
		},
	}

	return cfg, nil
}

// Addr returns the listen address of the local API, e.g. "127.0.0.1:7420".
func (c *AgentConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
