package chain

import "testing"

func TestEval_Comparisons(t *testing.T) {
	cc := map[string]any{
		"status":   "answered",
		"count":    3,
		"ratio":    0.5,
		"approved": true,
		"items":    []any{"a", "b"},
	}

	tests := []struct {
		expr string
		want bool
	}{
		{`status == "answered"`, true},
		{`status == 'answered'`, true},
		{`status != "pending"`, true},
		{`count == 3`, true},
		{`count > 2`, true},
		{`count >= 3`, true},
		{`count < 2`, false},
		{`count <= 3`, true},
		{`ratio < 1`, true},
		{`"abc" < "abd"`, true},
		{`approved`, true},
		{`!approved`, false},
		{`approved && count > 1`, true},
		{`approved && count > 5`, false},
		{`count > 5 || status == "answered"`, true},
		{`(count > 5 || approved) && status != "pending"`, true},
		{`true`, true},
		{`false || true`, true},
		{`len(items) == 2`, true},
		{`len(status) > 5`, true},
		{`len(missing) == 0`, true},
		{`contains(status, "swe")`, true},
		{`contains(status, "xyz")`, false},
		{`contains(items, "b")`, true},
		{`contains(items, "z")`, false},
		{`missing == "anything"`, false},
		{`missing != "anything"`, true},
		{`count == "3"`, false},
		{`-1 < count`, true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Eval(tt.expr, cc)
			if err != nil {
				t.Fatalf("Eval(%q): %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("Eval(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEval_Errors(t *testing.T) {
	cc := map[string]any{"n": 1, "s": "x"}

	exprs := []string{
		``,                // nothing to evaluate
		`n`,               // non-bool result
		`"just a string"`, // non-bool result
		`n && true`,       // non-bool operand
		`!n`,              // non-bool operand
		`n < s`,           // unorderable mix
		`missing > 1`,     // nil is unorderable
		`len(n) == 1`,     // len of a number
		`contains(n, 1)`,  // contains on a number
		`contains(s)`,     // wrong arity
		`len(s, s) == 1`,  // wrong arity
		`(n == 1`,         // unclosed paren
		`n == 1 extra`,    // trailing tokens
		`"unterminated`,   // bad string
		`n = 1`,           // single equals
		`n @ 1`,           // unknown character
		`do_something(n)`, // no general function calls
	}

	for _, expr := range exprs {
		if _, err := Eval(expr, cc); err == nil {
			t.Errorf("Eval(%q) succeeded, want error", expr)
		}
	}
}

func TestEval_UncomparableValues(t *testing.T) {
	hit := map[string]any{"id": 7.0, "content": "deploy finished"}
	cc := map[string]any{
		"a":    []any{"x"},
		"b":    []any{"y"},
		"c":    []any{"x"},
		"m":    hit,
		"hits": []any{hit},
		"none": map[string]any{"id": 8.0},
	}

	tests := []struct {
		expr string
		want bool
	}{
		{`a == b`, false},
		{`a != b`, true},
		{`a == c`, true},
		{`a == m`, false},
		{`a == "x"`, false},
		{`contains(hits, m)`, true},
		{`contains(hits, none)`, false},
		{`contains(hits, "x")`, false},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Eval(tt.expr, cc)
			if err != nil {
				t.Fatalf("Eval(%q): %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("Eval(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEval_NoCodeExecution(t *testing.T) {
	// Identifiers are context lookups only; anything resembling a call to
	// an unknown name must fail rather than resolve.
	if _, err := Eval(`exec("rm -rf /") == true`, map[string]any{}); err == nil {
		t.Error("unknown function call should not evaluate")
	}
}
