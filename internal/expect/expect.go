// Package expect loads instructor-authored expectation files and
// classifies them as legacy (a flat list of expected JSON values) or
// enhanced (named test cases with points, tolerance and comparison
// metadata). A file matching neither schema is fatal: grading never
// proceeds on a guess about what the instructor meant.
package expect

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrMalformed is returned when the expectation file matches neither the
// legacy nor the enhanced schema.
var ErrMalformed = errors.New("expect: malformed expectation file")

// Format discriminates the two expectation schemas.
type Format string

const (
	FormatLegacy   Format = "legacy"
	FormatEnhanced Format = "enhanced"
)

// Comparison operators accepted in test cases. Word aliases (eq, lt, lte,
// gt, gte, ne) are normalized to symbols at load time.
const (
	OpEq  = "=="
	OpNe  = "!="
	OpLt  = "<"
	OpLte = "<="
	OpGt  = ">"
	OpGte = ">="
)

var opAliases = map[string]string{
	"==": OpEq, "eq": OpEq,
	"!=": OpNe, "ne": OpNe,
	"<": OpLt, "lt": OpLt,
	"<=": OpLte, "lte": OpLte,
	">": OpGt, "gt": OpGt,
	">=": OpGte, "gte": OpGte,
}

// TestCase is one independently scored check within an enhanced spec.
type TestCase struct {
	Name            string             `json:"name"`
	Points          float64            `json:"points"`
	Expected        any                `json:"expected"`
	Tolerance       float64            `json:"tolerance,omitempty"`
	Compare         string             `json:"compare,omitempty"`
	CompareFields   map[string]string  `json:"compare_fields,omitempty"`
	ToleranceFields map[string]float64 `json:"tolerance_fields,omitempty"`
}

// Spec is the loaded expectation, a tagged union over the two formats.
type Spec struct {
	Format Format

	// Legacy holds the ordered expected values when Format is legacy.
	Legacy []any

	// Cases holds the ordered test cases when Format is enhanced.
	Cases []TestCase
}

type enhancedEnvelope struct {
	TestCases []TestCase `json:"test_cases"`
}

// Load parses and classifies expectation bytes.
//
// A JSON array is a legacy spec. An object carrying "test_cases" is an
// enhanced spec and is validated case by case. A bare object without
// "test_cases" is treated as a one-element legacy list, matching how
// existing expectation files in the wild are written. Anything else is
// malformed.
func Load(data []byte) (*Spec, error) {
	var value any
	if err := decodeStrict(data, &value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch v := value.(type) {
	case []any:
		return &Spec{Format: FormatLegacy, Legacy: v}, nil
	case map[string]any:
		if _, ok := v["test_cases"]; !ok {
			return &Spec{Format: FormatLegacy, Legacy: []any{value}}, nil
		}
		var env enhancedEnvelope
		if err := decodeStrict(data, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if err := validateCases(env.TestCases); err != nil {
			return nil, err
		}
		return &Spec{Format: FormatEnhanced, Cases: env.TestCases}, nil
	default:
		return nil, fmt.Errorf("%w: top-level value must be an array or object", ErrMalformed)
	}
}

// LoadFile reads and loads an expectation file.
func LoadFile(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("expect: read %s: %w", path, err)
	}
	return Load(data)
}

func validateCases(cases []TestCase) error {
	if len(cases) == 0 {
		return fmt.Errorf("%w: test_cases is empty", ErrMalformed)
	}
	for i := range cases {
		tc := &cases[i]
		if tc.Name == "" {
			tc.Name = fmt.Sprintf("Test Case %d", i+1)
		}
		if tc.Points <= 0 {
			return fmt.Errorf("%w: test case %q: points must be positive", ErrMalformed, tc.Name)
		}
		if tc.Tolerance < 0 {
			return fmt.Errorf("%w: test case %q: tolerance must not be negative", ErrMalformed, tc.Name)
		}
		if tc.Compare == "" {
			tc.Compare = OpEq
		}
		op, ok := opAliases[tc.Compare]
		if !ok {
			return fmt.Errorf("%w: test case %q: unknown compare operator %q", ErrMalformed, tc.Name, tc.Compare)
		}
		tc.Compare = op
		for field, fieldOp := range tc.CompareFields {
			normalized, ok := opAliases[fieldOp]
			if !ok {
				return fmt.Errorf("%w: test case %q: field %q: unknown compare operator %q",
					ErrMalformed, tc.Name, field, fieldOp)
			}
			tc.CompareFields[field] = normalized
		}
		for field, tol := range tc.ToleranceFields {
			if tol < 0 {
				return fmt.Errorf("%w: test case %q: field %q: tolerance must not be negative",
					ErrMalformed, tc.Name, field)
			}
		}
	}
	return nil
}

// decodeStrict rejects trailing garbage after the first JSON value.
func decodeStrict(data []byte, target any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(target); err != nil {
		return err
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return fmt.Errorf("trailing data after expectation value")
	}
	return nil
}
