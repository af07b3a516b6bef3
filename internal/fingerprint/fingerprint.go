// Package fingerprint derives deterministic cache keys from adapter requests.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Generator produces a custom fingerprint for a set of canonicalized
// params, overriding the default encoding for an endpoint that needs one
// (the spec's per-endpoint cacheKeyGenerator).
type Generator func(adapterName, endpointName, transportName string, params map[string]any) string

// Compute derives the deterministic fingerprint for
// (adapterName, endpointName, transportName, params). If gen is non-nil
// it is used instead of the default canonicalization + hash.
//
// Invariant: two semantically equivalent param maps (same keys/values,
// any map ordering, any JSON-number encoding of the same numeric value)
// must produce byte-identical fingerprints.
func Compute(adapterName, endpointName, transportName string, params map[string]any, gen Generator) string {
	if gen != nil {
		return gen(adapterName, endpointName, transportName, params)
	}

	canon := canonicalize(params)
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00", adapterName, endpointName, transportName)
	h.Write([]byte(canon))
	return hex.EncodeToString(h.Sum(nil))
}

// CanonicalKey renders params deterministically without hashing or
// namespacing — used where callers need a stable, human-inspectable
// subscription-set key rather than a cache fingerprint (e.g. Transport's
// default subscription key, which is just "the canonical params").
func CanonicalKey(params map[string]any) string {
	return canonicalize(params)
}

// canonicalize renders params as a deterministic string: map keys sorted
// recursively, numbers normalized to their shortest decimal form, booleans
// as "true"/"false", so that 1 and 1.0 render identically whether they
// arrive as an int or a float64. Strings are quoted, so "1" never renders
// like the number 1.
func canonicalize(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := "{"
		for i, k := range keys {
			if i > 0 {
				out += ","
			}
			out += strconv.Quote(k) + ":" + canonicalize(t[k])
		}
		return out + "}"
	case []any:
		out := "["
		for i, e := range t {
			if i > 0 {
				out += ","
			}
			out += canonicalize(e)
		}
		return out + "]"
	case string:
		return strconv.Quote(t)
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return normalizeNumber(t)
	case float32:
		return normalizeNumber(float64(t))
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// normalizeNumber renders a float64 without a trailing ".0" when it is a
// whole number, so json.Unmarshal's float64-for-everything never splits
// "1" and "1.0" into different fingerprints.
func normalizeNumber(f float64) string {
	if f == math.Trunc(f) && !math.IsInf(f, 0) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
