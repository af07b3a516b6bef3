package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the fully resolved, validated configuration for an adapter
// process. Every field is sourced from an environment variable; there is
// no config file. Defaults are applied before validation so a bare
// environment (nothing set) produces a usable, if permissive, config.
type Config struct {
	Cache      Cache
	WebSocket  WebSocket
	SSE        SSE
	HTTP       HTTP
	Server     Server
	RateLimit  RateLimit
	Breaker    Breaker
	Kafka      Kafka
}

// Cache configures the ResponseCache and SubscriptionSet backends shared
// by every endpoint.
type Cache struct {
	Type             string // "local" or "redis"
	MaxSubscriptions int
	MaxAge           time.Duration
	RedisURL         string
}

// WebSocket configures the subscription lifetime and polling cadence
// shared by every WebSocketTransport.
type WebSocket struct {
	SubscriptionTTL             time.Duration
	SubscriptionUnresponsiveTTL time.Duration
	BackgroundExecuteInterval   time.Duration
	// UpdateLivenessOnAnyMessage, when true, treats any inbound frame
	// (heartbeats included) as proof the connection is alive. The default
	// (false) only refreshes liveness on a message that produces a
	// non-empty result, so a provider that stops publishing updates but
	// keeps sending heartbeats still gets reconnected once
	// SubscriptionUnresponsiveTTL elapses.
	UpdateLivenessOnAnyMessage bool
}

// SSE configures the subscription lifetime and polling cadence shared by
// every SseTransport. SubscriptionUnresponsiveTTL defaults to the
// WebSocket value when SSE_SUBSCRIPTION_UNRESPONSIVE_TTL is unset.
type SSE struct {
	SubscriptionUnresponsiveTTL time.Duration
	BackgroundExecuteInterval   time.Duration
	// UpdateLivenessOnAnyMessage mirrors WebSocket.UpdateLivenessOnAnyMessage
	// for the SSE stream's inbound event loop; defaults to the WebSocket
	// value unless overridden.
	UpdateLivenessOnAnyMessage bool
}

// HTTP configures the polling cadence shared by every HttpTransport.
type HTTP struct {
	BackgroundExecuteInterval time.Duration
}

// Server configures the HTTP API surface the adapter exposes.
type Server struct {
	Host                 string
	Port                 int
	BaseURL              string
	MetricsPort          int
	APITimeout           time.Duration
	MaxPayloadSizeBytes  int64
	ShutdownGraceMillis  int
}

// RateLimit configures request-rate accounting for the API surface.
type RateLimit struct {
	Backend           string // "local" or "redis"
	RequestsPerMinute int
}

// Breaker configures the circuit breakers wrapping outbound provider
// calls.
type Breaker struct {
	FailureThreshold int
	ResetTimeout     time.Duration
}

// Kafka configures the best-effort provider-update event bus. An empty
// Brokers list disables the bus entirely.
type Kafka struct {
	Brokers []string
	Topic   string
}

// Load builds a Config from the process environment, applies defaults
// for anything unset, and validates the result.
func Load() (*Config, error) {
	var cfg Config
	setDefaults(&cfg)
	overrideWithEnv(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(cfg *Config) {
	cfg.Cache.Type = "local"
	cfg.Cache.MaxSubscriptions = 10000
	cfg.Cache.MaxAge = 5 * time.Minute
	cfg.Cache.RedisURL = "redis://localhost:6379"

	cfg.WebSocket.SubscriptionTTL = 2 * time.Minute
	cfg.WebSocket.SubscriptionUnresponsiveTTL = 30 * time.Second
	cfg.WebSocket.BackgroundExecuteInterval = 500 * time.Millisecond
	cfg.WebSocket.UpdateLivenessOnAnyMessage = false

	cfg.SSE.BackgroundExecuteInterval = 500 * time.Millisecond

	cfg.HTTP.BackgroundExecuteInterval = 5 * time.Second

	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8080
	cfg.Server.BaseURL = "http://localhost:8080"
	cfg.Server.MetricsPort = 9090
	cfg.Server.APITimeout = 30 * time.Second
	cfg.Server.MaxPayloadSizeBytes = 1 << 20 // 1MiB
	cfg.Server.ShutdownGraceMillis = 5000

	cfg.RateLimit.Backend = "local"
	cfg.RateLimit.RequestsPerMinute = 1000

	cfg.Breaker.FailureThreshold = 5
	cfg.Breaker.ResetTimeout = 30 * time.Second

	cfg.Kafka.Topic = "ea-provider-updates"
}

func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("CACHE_TYPE"); v != "" {
		cfg.Cache.Type = v
	}
	if v := envInt("CACHE_MAX_SUBSCRIPTIONS"); v != 0 {
		cfg.Cache.MaxSubscriptions = v
	}
	if v := envDuration("CACHE_MAX_AGE"); v != 0 {
		cfg.Cache.MaxAge = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.RedisURL = v
	}

	if v := envDuration("WS_SUBSCRIPTION_TTL"); v != 0 {
		cfg.WebSocket.SubscriptionTTL = v
	}
	if v := envDuration("WS_SUBSCRIPTION_UNRESPONSIVE_TTL"); v != 0 {
		cfg.WebSocket.SubscriptionUnresponsiveTTL = v
	}
	if v := envDuration("BACKGROUND_EXECUTE_MS_WS"); v != 0 {
		cfg.WebSocket.BackgroundExecuteInterval = v
	}
	if v, ok := envBool("WS_UPDATE_LIVENESS_ON_ANY_MESSAGE"); ok {
		cfg.WebSocket.UpdateLivenessOnAnyMessage = v
	}

	// SSE's unresponsive TTL, tick interval and liveness mode inherit the
	// websocket value unless overridden.
	cfg.SSE.SubscriptionUnresponsiveTTL = cfg.WebSocket.SubscriptionUnresponsiveTTL
	cfg.SSE.BackgroundExecuteInterval = cfg.WebSocket.BackgroundExecuteInterval
	cfg.SSE.UpdateLivenessOnAnyMessage = cfg.WebSocket.UpdateLivenessOnAnyMessage
	if v := envDuration("SSE_SUBSCRIPTION_UNRESPONSIVE_TTL"); v != 0 {
		cfg.SSE.SubscriptionUnresponsiveTTL = v
	}
	if v := envDuration("BACKGROUND_EXECUTE_MS_SSE"); v != 0 {
		cfg.SSE.BackgroundExecuteInterval = v
	}
	if v, ok := envBool("SSE_UPDATE_LIVENESS_ON_ANY_MESSAGE"); ok {
		cfg.SSE.UpdateLivenessOnAnyMessage = v
	}

	if v := envDuration("BACKGROUND_EXECUTE_MS_HTTP"); v != 0 {
		cfg.HTTP.BackgroundExecuteInterval = v
	}

	if v := os.Getenv("EA_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := envInt("EA_PORT"); v != 0 {
		cfg.Server.Port = v
	}
	if v := os.Getenv("BASE_URL"); v != "" {
		cfg.Server.BaseURL = v
	}
	if v := envInt("METRICS_PORT"); v != 0 {
		cfg.Server.MetricsPort = v
	}
	if v := envDuration("API_TIMEOUT"); v != 0 {
		cfg.Server.APITimeout = v
	}
	if v := envInt64("MAX_PAYLOAD_SIZE_LIMIT"); v != 0 {
		cfg.Server.MaxPayloadSizeBytes = v
	}
	if v := envInt("SHUTDOWN_GRACE_MS"); v != 0 {
		cfg.Server.ShutdownGraceMillis = v
	}

	if v := os.Getenv("RATE_LIMIT_BACKEND"); v != "" {
		cfg.RateLimit.Backend = v
	}
	if v := envInt("RATE_LIMIT_REQUESTS_PER_MINUTE"); v != 0 {
		cfg.RateLimit.RequestsPerMinute = v
	}

	if v := envInt("CIRCUIT_BREAKER_FAILURE_THRESHOLD"); v != 0 {
		cfg.Breaker.FailureThreshold = v
	}
	if v := envDuration("CIRCUIT_BREAKER_COOLDOWN_MS"); v != 0 {
		cfg.Breaker.ResetTimeout = v
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}
}

// envInt reads an env var as a bare integer, returning 0 when it is unset
// or does not parse. Any unit (e.g. SHUTDOWN_GRACE_MS in milliseconds) is
// applied by the caller.
func envInt(name string) int {
	v := os.Getenv(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// envBool parses a boolean env var, reporting whether it was set at all so
// callers can distinguish "unset" from "set to false".
func envBool(name string) (bool, bool) {
	v := os.Getenv(name)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func envInt64(name string) int64 {
	v := os.Getenv(name)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// envDuration reads a millisecond integer for *_MS names and otherwise
// falls back to Go duration syntax (e.g. "2m", "500ms"), so both
// `WS_SUBSCRIPTION_TTL=2m` and `BACKGROUND_EXECUTE_MS_WS=500` work.
func envDuration(name string) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return 0
	}
	if strings.HasSuffix(name, "_MS") {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return time.Duration(ms) * time.Millisecond
	}
	return d
}

// validate checks the bounds and shapes the environment contract calls
// for: port ranges, URL parseability, host validity, and bounded integers.
func validate(cfg *Config) error {
	if cfg.Cache.Type != "local" && cfg.Cache.Type != "redis" {
		return fmt.Errorf("CACHE_TYPE must be 'local' or 'redis', got %q", cfg.Cache.Type)
	}
	if cfg.Cache.MaxSubscriptions <= 0 {
		return fmt.Errorf("CACHE_MAX_SUBSCRIPTIONS must be positive")
	}
	if cfg.RateLimit.Backend != "local" && cfg.RateLimit.Backend != "redis" {
		return fmt.Errorf("RATE_LIMIT_BACKEND must be 'local' or 'redis', got %q", cfg.RateLimit.Backend)
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS_PER_MINUTE must be positive")
	}
	if cfg.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("CIRCUIT_BREAKER_FAILURE_THRESHOLD must be positive")
	}
	if err := validatePort(cfg.Server.Port); err != nil {
		return fmt.Errorf("EA_PORT: %w", err)
	}
	if err := validatePort(cfg.Server.MetricsPort); err != nil {
		return fmt.Errorf("METRICS_PORT: %w", err)
	}
	if err := validateHost(cfg.Server.Host); err != nil {
		return fmt.Errorf("EA_HOST: %w", err)
	}
	if _, err := url.ParseRequestURI(cfg.Server.BaseURL); err != nil {
		return fmt.Errorf("BASE_URL must be a valid URL: %w", err)
	}
	if cfg.Server.MaxPayloadSizeBytes <= 0 {
		return fmt.Errorf("MAX_PAYLOAD_SIZE_LIMIT must be positive")
	}
	if (cfg.Cache.Type == "redis" || cfg.RateLimit.Backend == "redis") && cfg.Cache.RedisURL == "" {
		return fmt.Errorf("REDIS_URL must be set when a redis-backed component is selected")
	}
	return nil
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port %d out of range [1, 65535]", port)
	}
	return nil
}

// validateHost accepts "0.0.0.0", any parseable IP, or a DNS-plausible
// hostname (non-empty labels, no stray whitespace).
func validateHost(host string) error {
	if host == "" {
		return fmt.Errorf("host must not be empty")
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	for _, label := range strings.Split(host, ".") {
		if label == "" {
			return fmt.Errorf("invalid host %q", host)
		}
	}
	if strings.ContainsAny(host, " \t\n") {
		return fmt.Errorf("invalid host %q", host)
	}
	return nil
}
