package cachekey

import (
	"math"
	"testing"
)

func TestClampFirst(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want int
	}{
		{"in range", 50.0, 50},
		{"too large", 9999.0, 200},
		{"zero", 0.0, 1},
		{"negative", -5.0, 1},
		{"numeric string", "9999", 200},
		{"string in range", " 25 ", 25},
		{"garbage string", "lots", 1},
		{"nan", math.NaN(), 1},
		{"positive inf", math.Inf(1), 1},
		{"bool", true, 1},
		{"fractional", 10.9, 10},
	}

	for _, tc := range cases {
		vars := map[string]any{"first": tc.in}
		ClampVariables(vars)
		if got := vars["first"]; got != tc.want {
			t.Errorf("%s: first=%v clamped to %v, want %d", tc.name, tc.in, got, tc.want)
		}
	}
}

func TestClampSkip(t *testing.T) {
	vars := map[string]any{"skip": 250000.0}
	ClampVariables(vars)
	if vars["skip"] != 100000 {
		t.Fatalf("skip not clamped: %v", vars["skip"])
	}

	vars = map[string]any{"skip": -1.0}
	ClampVariables(vars)
	if vars["skip"] != 0 {
		t.Fatalf("negative skip should clamp to 0: %v", vars["skip"])
	}
}

func TestClampIDSequences(t *testing.T) {
	long := make([]any, 500)
	for i := range long {
		long[i] = float64(i)
	}

	vars := map[string]any{
		"ids":        append([]any{}, long...),
		"winnerIds":  append([]any{}, long...),
		"recipients": append([]any{}, long...), // not an Ids key, untouched
	}
	ClampVariables(vars)

	if n := len(vars["ids"].([]any)); n != 200 {
		t.Fatalf("ids truncated to %d, want 200", n)
	}
	if n := len(vars["winnerIds"].([]any)); n != 200 {
		t.Fatalf("winnerIds truncated to %d, want 200", n)
	}
	if n := len(vars["recipients"].([]any)); n != 500 {
		t.Fatalf("recipients should be untouched, got %d", n)
	}
}

func TestClampReachesNestedMaps(t *testing.T) {
	vars := map[string]any{
		"where": map[string]any{
			"first": 1000.0,
			"batches": []any{
				map[string]any{"skip": 999999.0},
			},
		},
	}
	ClampVariables(vars)

	where := vars["where"].(map[string]any)
	if where["first"] != 200 {
		t.Fatalf("nested first not clamped: %v", where["first"])
	}
	batch := where["batches"].([]any)[0].(map[string]any)
	if batch["skip"] != 100000 {
		t.Fatalf("skip inside array not clamped: %v", batch["skip"])
	}
}

func TestClampThenDeriveCollapsesKeys(t *testing.T) {
	query := "query LotteryById($id: ID!) { lottery(id: $id) { id } }"

	a := ClampVariables(map[string]any{"id": "42", "first": "9999"})
	b := ClampVariables(map[string]any{"id": "42", "first": 200.0})

	if Derive(query, a) != Derive(query, b) {
		t.Fatalf("out-of-range first should collapse onto the clamped key")
	}
}

func TestClampCyclicTreeTerminates(t *testing.T) {
	vars := map[string]any{"first": 9999.0}
	vars["self"] = vars

	ClampVariables(vars)
	if vars["first"] != 200 {
		t.Fatalf("first not clamped on cyclic tree: %v", vars["first"])
	}
}

func TestClampNil(t *testing.T) {
	if ClampVariables(nil) != nil {
		t.Fatalf("nil variables should pass through")
	}
}
