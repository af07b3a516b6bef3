package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		_ = os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				_ = os.Setenv(k, old)
			}
		})
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t, "CACHE_TYPE", "EA_PORT", "EA_HOST", "BASE_URL", "RATE_LIMIT_BACKEND")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Cache.Type != "local" {
		t.Fatalf("expected default cache type local, got %s", cfg.Cache.Type)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.RateLimit.Backend != "local" {
		t.Fatalf("expected default rate limit backend local, got %s", cfg.RateLimit.Backend)
	}
}

func TestLoadHonorsEnvOverrides(t *testing.T) {
	clearEnv(t, "CACHE_TYPE", "EA_PORT", "WS_SUBSCRIPTION_TTL", "BACKGROUND_EXECUTE_MS_WS",
		"RATE_LIMIT_REQUESTS_PER_MINUTE", "KAFKA_BROKERS", "SSE_SUBSCRIPTION_UNRESPONSIVE_TTL")

	os.Setenv("EA_PORT", "9999")
	os.Setenv("WS_SUBSCRIPTION_TTL", "3m")
	os.Setenv("BACKGROUND_EXECUTE_MS_WS", "250")
	os.Setenv("RATE_LIMIT_REQUESTS_PER_MINUTE", "42")
	os.Setenv("KAFKA_BROKERS", "broker-a:9092,broker-b:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Fatalf("expected port 9999, got %d", cfg.Server.Port)
	}
	if cfg.WebSocket.SubscriptionTTL != 3*time.Minute {
		t.Fatalf("expected 3m subscription TTL, got %s", cfg.WebSocket.SubscriptionTTL)
	}
	if cfg.WebSocket.BackgroundExecuteInterval != 250*time.Millisecond {
		t.Fatalf("expected 250ms background execute interval, got %s", cfg.WebSocket.BackgroundExecuteInterval)
	}
	if cfg.RateLimit.RequestsPerMinute != 42 {
		t.Fatalf("expected 42 requests per minute, got %d", cfg.RateLimit.RequestsPerMinute)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Fatalf("expected 2 kafka brokers, got %d", len(cfg.Kafka.Brokers))
	}
	// SSE unresponsive TTL mirrors the websocket value when not set explicitly.
	if cfg.SSE.SubscriptionUnresponsiveTTL != cfg.WebSocket.SubscriptionUnresponsiveTTL {
		t.Fatalf("expected SSE unresponsive TTL to default to the websocket value")
	}
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	clearEnv(t, "EA_PORT")
	os.Setenv("EA_PORT", "70000")
	if _, err := Load(); err == nil {
		t.Fatalf("expected an error for an out-of-range port")
	}
}

func TestLoadRejectsInvalidCacheType(t *testing.T) {
	clearEnv(t, "CACHE_TYPE")
	os.Setenv("CACHE_TYPE", "memcached")
	if _, err := Load(); err == nil {
		t.Fatalf("expected an error for an unsupported cache type")
	}
}

func TestLoadAcceptsRedisBackendWithDefaultURL(t *testing.T) {
	clearEnv(t, "CACHE_TYPE", "REDIS_URL")
	os.Setenv("CACHE_TYPE", "redis")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected the default redis URL to satisfy validation, got %v", err)
	}
	if cfg.Cache.RedisURL == "" {
		t.Fatalf("expected a non-empty default redis URL")
	}
}
