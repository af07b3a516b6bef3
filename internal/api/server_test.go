package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/eaframework/ea-core/internal/cache"
	"github.com/eaframework/ea-core/internal/endpoint"
	"github.com/eaframework/ea-core/internal/responsecache"
	"github.com/eaframework/ea-core/internal/subscription"
	"github.com/eaframework/ea-core/internal/transport"
	"github.com/rs/zerolog"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	respCache := responsecache.New(cache.NewLocal(10), nil, zerolog.Nop())
	ht := &transport.HttpTransport{}
	if err := ht.Initialize(transport.Deps{
		Cache:           respCache,
		Subscriptions:   subscription.NewLocal(10),
		Logger:          zerolog.Nop(),
		AdapterName:     "testadapter",
		EndpointName:    "crypto",
		TransportName:   "http",
		SubscriptionTTL: time.Hour,
	}); err != nil {
		t.Fatalf("initialize transport: %v", err)
	}

	ep := endpoint.New("crypto", map[string]transport.Transport{"http": ht},
		[]endpoint.InputParameter{{Name: "base", Type: endpoint.TypeString, Required: true}}, nil, "")

	return &Server{
		Endpoints: map[string]*endpoint.Endpoint{"crypto": ep},
		Logger:    zerolog.Nop(),
	}
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleAdapterRequestMissReturns202(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	rec := doRequest(t, h, http.MethodPost, "/adapter", map[string]any{
		"id":   1,
		"data": map[string]any{"endpoint": "crypto", "base": "BTC"},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 on a first-sight miss, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleAdapterRequestUnknownEndpointReturns404(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	rec := doRequest(t, h, http.MethodPost, "/adapter", map[string]any{
		"data": map[string]any{"endpoint": "nonexistent", "base": "BTC"},
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown endpoint, got %d", rec.Code)
	}
}

func TestHandleAdapterRequestInvalidInputReturns400(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	rec := doRequest(t, h, http.MethodPost, "/adapter", map[string]any{
		"data": map[string]any{"endpoint": "crypto", "base": 123},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a mistyped parameter, got %d", rec.Code)
	}
}

func TestHealthEndpointsRespond(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		rec := doRequest(t, h, http.MethodGet, path, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestPayloadSizeLimitReturns413(t *testing.T) {
	s := newTestServer(t)
	s.MaxPayloadSizeBytes = 10
	h := s.Handler()

	rec := doRequest(t, h, http.MethodPost, "/adapter", map[string]any{
		"data": map[string]any{"endpoint": "crypto", "base": "a very long value that exceeds the limit"},
	})
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for an oversized payload, got %d", rec.Code)
	}
}
