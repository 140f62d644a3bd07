// Package compare matches extracted outputs against an expectation spec
// and computes the score. Matching is positional: actual[i] is checked
// against expected[i] (legacy) or test case i (enhanced); the engine never
// searches for a better alignment.
package compare

import (
	"encoding/json"
	"fmt"
	"math"

	"nbgrade/internal/expect"
)

// CaseResult is one scored check, either a legacy index or an enhanced
// test case.
type CaseResult struct {
	Name           string
	PointsEarned   float64
	PointsPossible float64
	Passed         bool
	Detail         string
}

// Result is the outcome of scoring one run.
type Result struct {
	Format     expect.Format
	TotalScore float64
	MaxScore   float64

	// Passed is the run-level gate. For enhanced specs a single failing
	// test case makes the whole run fail; enhanced specs guard pass/fail
	// checks such as performance thresholds, not just partial credit.
	// For legacy specs it means every expected output matched and no
	// extra outputs were produced.
	Passed bool

	Cases []CaseResult

	// ExtraOutputs counts actual outputs beyond the expected list. They
	// are not penalized, only reported.
	ExtraOutputs int
}

// Score evaluates the actual outputs under the given spec.
func Score(actual []any, spec *expect.Spec) Result {
	if spec.Format == expect.FormatEnhanced {
		return scoreEnhanced(actual, spec.Cases)
	}
	return scoreLegacy(actual, spec.Legacy)
}

// scoreLegacy compares position by position with deep structural equality.
// The score is purely proportional: 100 * matches / len(expected). Extra
// actual outputs are ignored beyond clearing the passed flag.
func scoreLegacy(actual []any, expected []any) Result {
	res := Result{Format: expect.FormatLegacy, MaxScore: 100}
	if len(expected) == 0 {
		res.Passed = len(actual) == 0
		return res
	}

	share := 100.0 / float64(len(expected))
	matches := 0
	for i, want := range expected {
		cr := CaseResult{
			Name:           fmt.Sprintf("Output #%d", i),
			PointsPossible: share,
		}
		switch {
		case i >= len(actual):
			cr.Detail = "no output produced"
		case equalValues(actual[i], want, 0):
			cr.Passed = true
			cr.PointsEarned = share
			matches++
		default:
			cr.Detail = fmt.Sprintf("expected %s, received %s", renderJSON(want), renderJSON(actual[i]))
		}
		res.Cases = append(res.Cases, cr)
	}

	if len(actual) > len(expected) {
		res.ExtraOutputs = len(actual) - len(expected)
	}
	res.TotalScore = 100 * float64(matches) / float64(len(expected))
	res.Passed = matches == len(expected) && res.ExtraOutputs == 0
	return res
}

// scoreEnhanced evaluates each test case independently against the actual
// output at the same index. A test case earns all of its points or none.
func scoreEnhanced(actual []any, cases []expect.TestCase) Result {
	res := Result{Format: expect.FormatEnhanced, Passed: true}
	for i, tc := range cases {
		cr := CaseResult{Name: tc.Name, PointsPossible: tc.Points}
		res.MaxScore += tc.Points

		if i >= len(actual) {
			cr.Detail = "no output produced"
			res.Passed = false
			res.Cases = append(res.Cases, cr)
			continue
		}

		passed, detail := evaluateCase(actual[i], tc)
		if passed {
			cr.Passed = true
			cr.PointsEarned = tc.Points
			res.TotalScore += tc.Points
		} else {
			cr.Detail = detail
			res.Passed = false
		}
		res.Cases = append(res.Cases, cr)
	}
	return res
}

// evaluateCase applies either the per-field rules or the whole-value rule.
func evaluateCase(got any, tc expect.TestCase) (bool, string) {
	if len(tc.CompareFields) > 0 || len(tc.ToleranceFields) > 0 {
		return evaluateFields(got, tc)
	}
	if matchValue(got, tc.Expected, tc.Compare, tc.Tolerance) {
		return true, ""
	}
	if tc.Compare != expect.OpEq {
		return false, fmt.Sprintf("comparison failed: %s %s %s",
			renderJSON(got), tc.Compare, renderJSON(tc.Expected))
	}
	return false, fmt.Sprintf("expected %s, received %s",
		renderJSON(tc.Expected), renderJSON(got))
}

// evaluateFields checks only the fields named in compare_fields or
// tolerance_fields, each under its own operator and tolerance. All named
// fields must pass.
func evaluateFields(got any, tc expect.TestCase) (bool, string) {
	gotObj, ok := got.(map[string]any)
	if !ok {
		return false, fmt.Sprintf("expected an object, received %s", renderJSON(got))
	}
	expObj, ok := tc.Expected.(map[string]any)
	if !ok {
		return false, "test case expected value is not an object"
	}

	fields := make(map[string]struct{}, len(tc.CompareFields)+len(tc.ToleranceFields))
	for f := range tc.CompareFields {
		fields[f] = struct{}{}
	}
	for f := range tc.ToleranceFields {
		fields[f] = struct{}{}
	}

	for field := range fields {
		want, ok := expObj[field]
		if !ok {
			return false, fmt.Sprintf("field %q not present in expected value", field)
		}
		val, ok := gotObj[field]
		if !ok {
			return false, fmt.Sprintf("missing field %q", field)
		}

		op := tc.CompareFields[field]
		if op == "" {
			op = expect.OpEq
		}
		tol, ok := tc.ToleranceFields[field]
		if !ok {
			tol = tc.Tolerance
		}
		if !matchValue(val, want, op, tol) {
			return false, fmt.Sprintf("field %q: comparison failed: %s %s %s",
				field, renderJSON(val), op, renderJSON(want))
		}
	}
	return true, ""
}

// matchValue recursively compares a JSON value against an expected one.
// The operator and tolerance apply to numeric leaves only; every other
// leaf requires exact equality and structure must match field for field.
func matchValue(got, want any, op string, tol float64) bool {
	if gn, gok := toNumber(got); gok {
		if wn, wok := toNumber(want); wok {
			return compareNumbers(gn, wn, op, tol)
		}
		return false
	}

	switch w := want.(type) {
	case map[string]any:
		g, ok := got.(map[string]any)
		if !ok || len(g) != len(w) {
			return false
		}
		for key, wv := range w {
			gv, ok := g[key]
			if !ok || !matchValue(gv, wv, op, tol) {
				return false
			}
		}
		return true
	case []any:
		g, ok := got.([]any)
		if !ok || len(g) != len(w) {
			return false
		}
		for i := range w {
			if !matchValue(g[i], w[i], op, tol) {
				return false
			}
		}
		return true
	default:
		return got == want
	}
}

// equalValues is matchValue fixed to structural equality, the legacy rule.
func equalValues(got, want any, tol float64) bool {
	return matchValue(got, want, expect.OpEq, tol)
}

// compareNumbers applies the operator to two numeric leaves. For equality
// with a tolerance set, abs(got-want) <= tol*max(1, abs(want)) counts as
// equal, so the tolerance is relative for large magnitudes and absolute
// near zero.
func compareNumbers(got, want float64, op string, tol float64) bool {
	switch op {
	case expect.OpLt:
		return got < want
	case expect.OpLte:
		return got <= want
	case expect.OpGt:
		return got > want
	case expect.OpGte:
		return got >= want
	case expect.OpNe:
		return got != want
	default:
		if tol > 0 {
			return math.Abs(got-want) <= tol*math.Max(1, math.Abs(want))
		}
		return got == want
	}
}

// toNumber unifies the numeric representations a decoded JSON value or a
// test fixture may carry. JSON has one number type, so 3 and 3.0 are the
// same value.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// renderJSON renders a value compactly for failure details.
func renderJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
