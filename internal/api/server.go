// Package api binds AdapterEndpoint.Handle to the HTTP surface: POST
// /adapter, health probes, and Prometheus exposition, behind a fixed
// middleware chain (request-id, logging, recovery, CORS, security
// headers, rate-limit, payload-size-limit, metrics).
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/eaframework/ea-core/internal/endpoint"
	"github.com/eaframework/ea-core/internal/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server is the HTTP API surface in front of one Adapter's endpoints.
type Server struct {
	Endpoints           map[string]*endpoint.Endpoint
	RateLimiter         ratelimit.Limiter
	MaxPayloadSizeBytes int64
	APITimeout          time.Duration
	Registry            *prometheus.Registry
	Logger              zerolog.Logger
	ReadinessCheck      func(ctx context.Context) bool

	startTime time.Time
	router    *http.ServeMux
}

// Handler builds the fully middleware-wrapped HTTP handler. Safe to call
// once; the result is what ListenAndServe binds.
func (s *Server) Handler() http.Handler {
	s.startTime = time.Now()
	s.router = http.NewServeMux()

	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /health/live", s.handleLiveness)
	s.router.HandleFunc("GET /health/ready", s.handleReadiness)
	s.router.HandleFunc("POST /adapter", s.handleAdapterRequest)

	if s.Registry != nil {
		s.router.Handle("GET /metrics", promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{}))
	}

	var h http.Handler = s.router

	h = MetricsMiddleware(h)
	if s.MaxPayloadSizeBytes > 0 {
		h = PayloadSizeLimitMiddleware(s.MaxPayloadSizeBytes, h)
	}
	h = RateLimitMiddleware(s.RateLimiter, h)
	h = SecurityHeadersMiddleware(h)
	h = CORSMiddleware(h)
	h = RecoveryMiddleware(s.Logger, h)
	h = LoggerMiddleware(s.Logger, h)
	h = RequestIDMiddleware(s.Logger, h)

	return h
}

// ListenAndServe builds an *http.Server bound to addr, applying
// API_TIMEOUT as both read and write deadlines for the foreground
// request path.
func (s *Server) ListenAndServe(host string, port int) *http.Server {
	timeout := s.APITimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      s.Handler(),
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		IdleTimeout:  60 * time.Second,
	}
}
