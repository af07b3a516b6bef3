// Package endpoint implements AdapterEndpoint: the request-time surface
// that transforms, validates, routes, and finally delegates an inbound
// request to a named transport.
package endpoint

import (
	"context"

	"github.com/eaframework/ea-core/internal/transport"
)

// RawRequest is the decoded JSON body an AdapterEndpoint receives, before
// any transform or validation has run.
type RawRequest struct {
	ID   any
	Data map[string]any
	// Overrides carries per-request symbol overrides (e.g. a caller
	// remapping "base":"WETH" to "base":"ETH" for this call only),
	// consulted by resolveSymbolOverride before the endpoint's static map.
	Overrides map[string]string
}

// RequestTransform mutates data in place before validation runs. Endpoints
// that need extra request shaping beyond the symbol override (always
// applied first) register these via New's variadic extra parameter.
type RequestTransform func(data map[string]any, overrides map[string]string) error

// Endpoint is AdapterEndpoint: a named request handler in front of one or
// more transports.
type Endpoint struct {
	Name              string
	Aliases           []string
	Transports        map[string]transport.Transport
	InputParameters   []InputParameter
	Overrides         map[string]string // static symbol -> canonical value
	CustomRouter      func(data map[string]any) (string, error)
	DefaultTransport  string
	RequestTransforms []RequestTransform
}

// New builds an Endpoint. Any extra request transforms run after the
// built-in symbol override.
func New(name string, transports map[string]transport.Transport, params []InputParameter, staticOverrides map[string]string, defaultTransport string, extra ...RequestTransform) *Endpoint {
	return &Endpoint{
		Name:              name,
		Transports:        transports,
		InputParameters:   params,
		Overrides:         staticOverrides,
		DefaultTransport:  defaultTransport,
		RequestTransforms: extra,
	}
}

// resolveSymbolOverride performs a single lookup for data["base"]: the
// per-request overrides first, and only when that misses does it fall
// back to the endpoint's static Overrides map. A per-request match is
// final — it is never re-looked-up against the static map.
func (e *Endpoint) resolveSymbolOverride(data map[string]any, overrides map[string]string) {
	raw, ok := data["base"]
	if !ok {
		return
	}
	base, ok := raw.(string)
	if !ok {
		return
	}
	if replacement, ok := overrides[base]; ok {
		data["base"] = replacement
		return
	}
	if replacement, ok := e.Overrides[base]; ok {
		data["base"] = replacement
	}
}

// Handle implements the endpoint's request pipeline: symbol override,
// caller transforms, validate, route, delegate.
func (e *Endpoint) Handle(ctx context.Context, req RawRequest) (*transport.Response, error) {
	data := req.Data
	if data == nil {
		data = map[string]any{}
	}

	e.resolveSymbolOverride(data, req.Overrides)
	for _, t := range e.RequestTransforms {
		if err := t(data, req.Overrides); err != nil {
			return nil, err
		}
	}

	params, err := Validate(e.InputParameters, data)
	if err != nil {
		return nil, err
	}

	name, err := e.route(data)
	if err != nil {
		return nil, err
	}
	t, ok := e.Transports[name]
	if !ok {
		return nil, invalidInput("unknown transport %q for endpoint %q", name, e.Name)
	}

	return t.ForegroundExecute(ctx, transport.Request{ID: req.ID, Data: data, Params: params})
}

// route resolves the transport name to dispatch to: a single registered
// transport wins outright; otherwise customRouter, then
// req.data.transport, then defaultTransport, in that order.
func (e *Endpoint) route(data map[string]any) (string, error) {
	if len(e.Transports) == 1 {
		for name := range e.Transports {
			return name, nil
		}
	}

	if e.CustomRouter != nil {
		if name, err := e.CustomRouter(data); err == nil && name != "" {
			return name, nil
		}
	}

	if raw, ok := data["transport"]; ok {
		if name, ok := raw.(string); ok && name != "" {
			return name, nil
		}
	}

	if e.DefaultTransport != "" {
		return e.DefaultTransport, nil
	}

	return "", invalidInput("endpoint %q: could not resolve a transport for this request", e.Name)
}
