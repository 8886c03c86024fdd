package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"reflect"
)

// Version is folded into every hashed payload. Bump it whenever the
// cacheable request shape or the caching semantics change: old entries
// silently stop matching instead of needing an explicit flush.
const Version = 1

// Derive builds the cache key for a query+variables pair: SHA-256 over
// the canonical JSON of {query, variables, version}, hex-encoded.
//
// Canonical means object keys are sorted recursively, so two requests
// that differ only in map insertion order collapse onto the same key.
// Arrays keep their order. Cyclic variable trees never happen with
// JSON-decoded input, but if one is constructed in-process the cycle is
// collapsed to null rather than looping forever.
func Derive(query string, variables map[string]any) string {
	if variables == nil {
		// nil and {} both mean "no variables"; hash them the same.
		variables = map[string]any{}
	}
	payload := map[string]any{
		"version":   Version,
		"query":     query,
		"variables": sanitize(variables, map[uintptr]struct{}{}),
	}

	// encoding/json emits map keys in sorted order at every level,
	// which is exactly the canonical form we need.
	raw, err := json.Marshal(payload)
	if err != nil {
		// sanitize only returns marshalable values, so this should not
		// happen; fall back to hashing the query text alone.
		raw = []byte(query)
	}

	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// sanitize rewrites the value into a tree json.Marshal can always
// handle. onPath tracks the containers on the current recursion path;
// meeting one again means a cycle, which becomes null.
func sanitize(v any, onPath map[uintptr]struct{}) any {
	switch t := v.(type) {
	case nil, bool, string, float64, json.Number:
		return t

	case map[string]any:
		p := reflect.ValueOf(t).Pointer()
		if _, seen := onPath[p]; seen {
			return nil
		}
		onPath[p] = struct{}{}
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = sanitize(vv, onPath)
		}
		delete(onPath, p)
		return out

	case []any:
		p := sliceID(t)
		if p != 0 {
			if _, seen := onPath[p]; seen {
				return nil
			}
			onPath[p] = struct{}{}
			defer delete(onPath, p)
		}
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = sanitize(vv, onPath)
		}
		return out

	default:
		// Not part of the JSON-decoded shape (ints from tests, structs).
		// Marshal it in isolation; anything unmarshalable becomes null.
		raw, err := json.Marshal(t)
		if err != nil {
			return nil
		}
		return json.RawMessage(raw)
	}
}

// sliceID identifies a slice by its backing array for cycle detection.
// Empty slices return 0 and are skipped; they cannot form a cycle.
func sliceID(s []any) uintptr {
	if len(s) == 0 {
		return 0
	}
	return reflect.ValueOf(s).Pointer()
}
