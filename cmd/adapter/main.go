// Command adapter runs a single External Adapter process: it loads its
// configuration from the environment, wires the shared cache,
// subscription sets, rate limiter, and circuit breakers, registers its
// endpoints and transports, and serves the HTTP API surface until a
// shutdown signal arrives.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eaframework/ea-core/internal/adapter"
	"github.com/eaframework/ea-core/internal/api"
	"github.com/eaframework/ea-core/internal/cache"
	"github.com/eaframework/ea-core/internal/config"
	"github.com/eaframework/ea-core/internal/endpoint"
	"github.com/eaframework/ea-core/internal/events"
	"github.com/eaframework/ea-core/internal/metrics"
	"github.com/eaframework/ea-core/internal/ratelimit"
	"github.com/eaframework/ea-core/internal/responsecache"
	"github.com/eaframework/ea-core/internal/resilience"
	"github.com/eaframework/ea-core/internal/subscription"
	"github.com/eaframework/ea-core/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "ea-adapter").Logger()

	registry := prometheus.NewRegistry()
	metrics.Register(registry)
	adapter.RegisterMetrics(registry)

	var redisClient *redis.Client
	if cfg.Cache.Type == "redis" || cfg.RateLimit.Backend == "redis" {
		redisClient = redis.NewClient(&redis.Options{Addr: stripScheme(cfg.Cache.RedisURL)})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn().Err(err).Msg("redis not reachable at startup, continuing (components degrade to fail-open/miss)")
		}
		cancel()
	}

	var backend cache.Cache
	if cfg.Cache.Type == "redis" {
		backend = cache.NewRemote(redisClient, "crypto-adapter", logger)
	} else {
		backend = cache.NewLocal(cfg.Cache.MaxSubscriptions)
	}

	var bus *events.Bus
	if len(cfg.Kafka.Brokers) > 0 {
		bus = events.New(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
	}

	respCache := responsecache.New(backend, bus, logger)

	var limiter ratelimit.Limiter
	if cfg.RateLimit.Backend == "redis" {
		limiter = ratelimit.NewRemote(redisClient, "crypto-adapter", cfg.RateLimit.RequestsPerMinute, logger)
	} else {
		limiter = ratelimit.NewLocal(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.RequestsPerMinute/10+1)
	}

	breakers := resilience.NewRegistry(logger)

	subFactory := subscriptionFactory(cfg, redisClient, logger)

	httpTransport := &transport.HttpTransport{TickInterval: cfg.HTTP.BackgroundExecuteInterval}
	httpTransport.Breaker = breakers.GetOrCreate(resilience.CircuitBreakerConfig{
		Name:             "crypto/http",
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
	})
	if err := httpTransport.Initialize(transport.Deps{
		Cache:           respCache,
		Subscriptions:   subFactory("crypto", "http"),
		Logger:          logger,
		AdapterName:     "crypto-adapter",
		EndpointName:    "crypto",
		TransportName:   "http",
		SubscriptionTTL: cfg.WebSocket.SubscriptionTTL,
	}); err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize http transport")
	}

	cryptoEndpoint := endpoint.New("crypto",
		map[string]transport.Transport{"http": httpTransport},
		[]endpoint.InputParameter{
			{Name: "base", Type: endpoint.TypeString, Required: true},
			{Name: "quote", Type: endpoint.TypeString, Default: "USD"},
		}, nil, "http")

	a := &adapter.Adapter{
		Name:                "crypto-adapter",
		Endpoints:           map[string]*endpoint.Endpoint{"crypto": cryptoEndpoint},
		Cache:               respCache,
		SubscriptionFactory: subFactory,
		RateLimiter:         limiter,
		Breakers:            breakers,
		Events:              bus,
		Logger:              logger,
		ShutdownGrace:       time.Duration(cfg.Server.ShutdownGraceMillis) * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start adapter")
	}

	server := &api.Server{
		Endpoints:           a.Endpoints,
		RateLimiter:         limiter,
		MaxPayloadSizeBytes: cfg.Server.MaxPayloadSizeBytes,
		APITimeout:          cfg.Server.APITimeout,
		Registry:            registry,
		Logger:              logger,
	}
	httpServer := server.ListenAndServe(cfg.Server.Host, cfg.Server.Port)

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("adapter listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}
	cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("adapter shutdown error")
	}
}

// subscriptionFactory returns a subscription.Factory bound to cfg's chosen
// backend, so each transport gets its own exclusively-owned Set.
func subscriptionFactory(cfg *config.Config, redisClient *redis.Client, logger zerolog.Logger) subscription.Factory {
	return func(endpointName, transportName string) subscription.Set {
		if cfg.Cache.Type == "redis" {
			return subscription.NewRemote(redisClient, "crypto-adapter", endpointName, transportName, logger)
		}
		return subscription.NewLocal(cfg.Cache.MaxSubscriptions)
	}
}

func stripScheme(url string) string {
	for _, prefix := range []string{"redis://", "rediss://"} {
		if len(url) > len(prefix) && url[:len(prefix)] == prefix {
			return url[len(prefix):]
		}
	}
	return url
}
