package endpoint

import (
	"context"
	"testing"
	"time"

	"github.com/eaframework/ea-core/internal/cache"
	"github.com/eaframework/ea-core/internal/responsecache"
	"github.com/eaframework/ea-core/internal/subscription"
	"github.com/eaframework/ea-core/internal/transport"
	"github.com/rs/zerolog"
)

func newTestTransport(t *testing.T, name string) *transport.HttpTransport {
	t.Helper()
	ht := &transport.HttpTransport{}
	deps := transport.Deps{
		Cache:           responsecache.New(cache.NewLocal(10), nil, zerolog.Nop()),
		Subscriptions:   subscription.NewLocal(10),
		Logger:          zerolog.Nop(),
		AdapterName:     "testadapter",
		EndpointName:    "crypto",
		TransportName:   name,
		SubscriptionTTL: time.Hour,
	}
	if err := ht.Initialize(deps); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return ht
}

func TestValidateMistypedParameterReturns400(t *testing.T) {
	params := []InputParameter{{Name: "base", Type: TypeString, Required: true}}
	_, err := Validate(params, map[string]any{"base": 123})
	if err == nil {
		t.Fatalf("expected a validation error for a mistyped parameter")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
}

func TestValidateExclusiveConflictReturns400(t *testing.T) {
	params := []InputParameter{
		{Name: "base", Type: TypeString},
		{Name: "symbol", Type: TypeString, Exclusive: []string{"base"}},
	}
	_, err := Validate(params, map[string]any{"base": "BTC", "symbol": "ETH"})
	if err == nil {
		t.Fatalf("expected an exclusive-parameter conflict to be rejected")
	}
}

func TestValidateAppliesDefaultValue(t *testing.T) {
	params := []InputParameter{{Name: "quote", Type: TypeString, Default: "USD"}}
	resolved, err := Validate(params, map[string]any{})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if resolved["quote"] != "USD" {
		t.Fatalf("expected default to be applied, got %v", resolved["quote"])
	}
}

func TestValidateRejectsRequiredAndDefaultTogether(t *testing.T) {
	params := []InputParameter{{Name: "base", Type: TypeString, Required: true, Default: "BTC"}}
	if _, err := Validate(params, map[string]any{"base": "BTC"}); err == nil {
		t.Fatalf("expected a declaration error when a parameter is both required and defaulted")
	}
}

func TestHandleRoutesToSoleTransport(t *testing.T) {
	ht := newTestTransport(t, "http")
	ep := New("crypto", map[string]transport.Transport{"http": ht},
		[]InputParameter{{Name: "base", Type: TypeString, Required: true}}, nil, "")

	resp, err := ep.Handle(context.Background(), RawRequest{Data: map[string]any{"base": "BTC"}})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if resp != nil {
		t.Fatalf("expected a miss response (nil) on first request, got %+v", resp)
	}
}

func TestHandleUnknownTransportNameReturns400(t *testing.T) {
	ht := newTestTransport(t, "http")
	ep := New("crypto", map[string]transport.Transport{"http": ht, "ws": newTestTransport(t, "ws")},
		[]InputParameter{{Name: "base", Type: TypeString}}, nil, "")

	_, err := ep.Handle(context.Background(), RawRequest{Data: map[string]any{"base": "BTC", "transport": "grpc"}})
	if err == nil {
		t.Fatalf("expected an error for an unresolvable transport name")
	}
}

func TestHandleAppliesStaticSymbolOverride(t *testing.T) {
	ht := newTestTransport(t, "http")
	ep := New("crypto", map[string]transport.Transport{"http": ht},
		[]InputParameter{{Name: "base", Type: TypeString}},
		map[string]string{"WETH": "ETH"}, "")

	data := map[string]any{"base": "WETH"}
	if _, err := ep.Handle(context.Background(), RawRequest{Data: data}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if data["base"] != "ETH" {
		t.Fatalf("expected static override to rewrite base to ETH, got %v", data["base"])
	}
}
