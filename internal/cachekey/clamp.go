package cachekey

import (
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Pagination bounds. Unparsable or non-finite values clamp to the
// minimum: fail toward the cheapest request, never the largest.
const (
	minFirst = 1
	maxFirst = 200

	minSkip = 0
	maxSkip = 100000

	maxIDs = 200
)

// ClampVariables bounds pagination-like fields everywhere in the
// variables tree, in place, and returns the same map. It runs before
// key derivation, so requests that differ only in an out-of-range
// pagination value share one clamped cache key.
func ClampVariables(vars map[string]any) map[string]any {
	if vars == nil {
		return nil
	}
	clampWalk(vars, map[uintptr]struct{}{})
	return vars
}

func clampWalk(v any, visited map[uintptr]struct{}) {
	switch t := v.(type) {
	case map[string]any:
		p := reflect.ValueOf(t).Pointer()
		if _, seen := visited[p]; seen {
			return
		}
		visited[p] = struct{}{}

		for k, vv := range t {
			switch {
			case k == "first":
				t[k] = clampInt(vv, minFirst, maxFirst)
			case k == "skip":
				t[k] = clampInt(vv, minSkip, maxSkip)
			case k == "ids" || strings.HasSuffix(k, "Ids"):
				if seq, ok := vv.([]any); ok && len(seq) > maxIDs {
					t[k] = seq[:maxIDs]
				}
				clampWalk(t[k], visited)
			default:
				clampWalk(vv, visited)
			}
		}

	case []any:
		for _, vv := range t {
			clampWalk(vv, visited)
		}
	}
}

// clampInt coerces v to an integer and bounds it to [min, max].
// Numeric strings are parsed; NaN, infinities, and anything else land
// on min.
func clampInt(v any, min, max int) int {
	var f float64

	switch t := v.(type) {
	case float64:
		f = t
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return min
		}
		f = parsed
	default:
		return min
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return min
	}

	n := int(f) // truncate toward zero
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}
