package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/eaframework/ea-core/internal/endpoint"
	"github.com/eaframework/ea-core/internal/responsecache"
)

// adapterRequestBody is the wire shape of a POST /adapter request.
type adapterRequestBody struct {
	ID   any            `json:"id"`
	Data map[string]any `json:"data"`
}

// adapterResponseBody is the wire shape of a POST /adapter response.
type adapterResponseBody struct {
	Result     any            `json:"result"`
	Data       map[string]any `json:"data,omitempty"`
	StatusCode int            `json:"statusCode"`
	Timestamps timestampsBody `json:"timestamps"`
}

type timestampsBody struct {
	ProviderDataReceived          int64  `json:"providerDataReceived"`
	ProviderDataStreamEstablished *int64 `json:"providerDataStreamEstablished,omitempty"`
	ProviderIndicatedTime         *int64 `json:"providerIndicatedTime,omitempty"`
}

// handleAdapterRequest implements the POST /adapter contract: decode,
// look up the named endpoint, delegate to Endpoint.Handle, and translate
// the result (or error) to the wire envelope and status code.
func (s *Server) handleAdapterRequest(w http.ResponseWriter, r *http.Request) {
	var body adapterRequestBody
	if r.Body == nil || r.ContentLength == 0 {
		writeAPIError(w, r, http.StatusBadRequest, "request body must not be empty", ErrCodeInvalidInput)
		return
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "request body must be valid JSON", ErrCodeInvalidInput)
		return
	}

	if body.Data == nil {
		body.Data = map[string]any{}
	}

	endpointName, _ := body.Data["endpoint"].(string)
	if endpointName == "" {
		writeAPIError(w, r, http.StatusBadRequest, "data.endpoint is required", ErrCodeInvalidInput)
		return
	}

	ep, ok := s.Endpoints[endpointName]
	if !ok {
		writeAPIError(w, r, http.StatusNotFound, "unknown endpoint", ErrCodeNotFound)
		return
	}

	overrides := extractOverrides(body.Data["overrides"])

	resp, err := ep.Handle(r.Context(), endpoint.RawRequest{
		ID:        body.ID,
		Data:      body.Data,
		Overrides: overrides,
	})
	if err != nil {
		s.writeHandleError(w, r, err)
		return
	}

	if resp == nil {
		// A miss with no inline fetch available: the request has been
		// registered as a subscription and will be cached on a later
		// backgroundExecute tick. Surfaced as 202-equivalent.
		respondJSON(w, http.StatusAccepted, adapterResponseBody{
			Result:     nil,
			StatusCode: http.StatusAccepted,
		})
		return
	}

	respondJSON(w, statusOrDefault(resp.StatusCode), adapterResponseBody{
		Result:     resp.Result,
		Data:       resp.Data,
		StatusCode: statusOrDefault(resp.StatusCode),
		Timestamps: toTimestampsBody(resp.Timestamps),
	})
}

// extractOverrides converts the decoded JSON value of data.overrides
// (always map[string]any after json.Unmarshal) into the string-keyed,
// string-valued map symbolOverrider expects.
func extractOverrides(raw any) map[string]string {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	overrides := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			overrides[k] = s
		}
	}
	return overrides
}

func statusOrDefault(code int) int {
	if code == 0 {
		return http.StatusOK
	}
	return code
}

func toTimestampsBody(ts responsecache.Timestamps) timestampsBody {
	body := timestampsBody{
		ProviderDataReceived: ts.ProviderDataReceived.UnixMilli(),
	}
	if ts.ProviderDataStreamEstablished != nil {
		ms := ts.ProviderDataStreamEstablished.UnixMilli()
		body.ProviderDataStreamEstablished = &ms
	}
	if ts.ProviderIndicatedTime != nil {
		ms := ts.ProviderIndicatedTime.UnixMilli()
		body.ProviderIndicatedTime = &ms
	}
	return body
}

// writeHandleError maps an Endpoint.Handle error to the appropriate 4xx/5xx
// status.
func (s *Server) writeHandleError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *endpoint.ValidationError
	if errors.As(err, &verr) {
		writeAPIError(w, r, http.StatusBadRequest, verr.Message, ErrCodeInvalidInput)
		return
	}
	s.Logger.Error().Err(err).Msg("endpoint handling failed")
	writeAPIError(w, r, http.StatusInternalServerError, "internal adapter error", ErrCodeInternal)
}
