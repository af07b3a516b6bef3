package api

import (
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/eaframework/ea-core/internal/metrics"
	"github.com/eaframework/ea-core/internal/ratelimit"
	"github.com/rs/zerolog"
)

// responseRecorder wraps http.ResponseWriter to capture the status code
// and response size for logging and metrics.
type responseRecorder struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
	headerSent   bool
}

func newResponseRecorder(w http.ResponseWriter) *responseRecorder {
	return &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rr *responseRecorder) WriteHeader(code int) {
	if !rr.headerSent {
		rr.statusCode = code
		rr.headerSent = true
		rr.ResponseWriter.WriteHeader(code)
	}
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	n, err := rr.ResponseWriter.Write(b)
	rr.bytesWritten += n
	return n, err
}

// LoggerMiddleware logs every request with method, path, status, duration
// and request ID. Errors are always logged at warn/error level.
func LoggerMiddleware(logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := newResponseRecorder(w)

		next.ServeHTTP(rec, r)

		evt := logger.Info()
		if rec.statusCode >= 500 {
			evt = logger.Error()
		} else if rec.statusCode >= 400 {
			evt = logger.Warn()
		}
		evt.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.statusCode).
			Dur("duration", time.Since(start)).
			Int("response_bytes", rec.bytesWritten).
			Str("request_id", GetRequestID(r.Context())).
			Msg("request")
	})
}

// RecoveryMiddleware catches panics, logs a stack trace, and returns a
// standardised 500 instead of letting the process crash mid-request.
func RecoveryMiddleware(logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error().
					Interface("panic", err).
					Bytes("stack", debug.Stack()).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("request_id", GetRequestID(r.Context())).
					Msg("panic recovered")
				writeAPIError(w, r, http.StatusInternalServerError, "an unexpected error occurred", ErrCodeInternal)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware sets permissive CORS headers and short-circuits preflight
// OPTIONS requests.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// MetricsMiddleware records request count and duration per normalized
// endpoint label.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := newResponseRecorder(w)
		next.ServeHTTP(rec, r)

		endpoint := normalizeEndpoint(r.URL.Path)
		metrics.HTTPRequestsTotal.WithLabelValues(endpoint, statusClass(rec.statusCode)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	})
}

// RateLimitMiddleware enforces ratelimit.Limiter per client, keyed by the
// caller's IP, returning 429 with a Retry-After hint when exhausted.
func RateLimitMiddleware(limiter ratelimit.Limiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision, err := limiter.Allow(r.Context(), clientIP(r))
		if err != nil {
			// Fail open: a broken limiter backend must not take the
			// adapter down with it.
			next.ServeHTTP(w, r)
			return
		}
		metrics.RateLimitCreditsSpentTotal.WithLabelValues(normalizeEndpoint(r.URL.Path)).Inc()
		if !decision.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(ratelimit.RetryAfterSeconds(decision)))
			writeAPIError(w, r, http.StatusTooManyRequests, "rate limit exceeded", ErrCodeRateLimitExceeded)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// PayloadSizeLimitMiddleware rejects request bodies larger than limit with
// a 413.
func PayloadSizeLimitMiddleware(limit int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > limit {
			writeAPIError(w, r, http.StatusRequestEntityTooLarge, "request body exceeds the configured size limit", ErrCodePayloadTooLarge)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}

func normalizeEndpoint(path string) string {
	switch {
	case path == "/health", path == "/health/live", path == "/health/ready":
		return path
	case path == "/metrics":
		return "/metrics"
	case strings.HasPrefix(path, "/adapter"):
		return "/adapter"
	default:
		return "/other"
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		return strings.TrimSpace(parts[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
