// Package extract scans executed cell output for JSON values. Only text
// that parses as a syntactically complete JSON value on its own line is
// kept; print noise and tracebacks carry no grading signal and are
// silently skipped.
package extract

import (
	"encoding/json"
	"strings"

	"nbgrade/internal/types"
)

// Extract walks the cells in order and returns every JSON value found, in
// discovery order. For each cell the stdout lines are scanned first, then
// the cell's return-value repr is tried as a trailing candidate. The
// result is deterministic for a given cell sequence.
func Extract(cells []types.ExecutedCell) []any {
	var outputs []any
	for _, cell := range cells {
		for _, line := range strings.Split(cell.Stdout, "\n") {
			if v, ok := parseJSONValue(line); ok {
				outputs = append(outputs, v)
			}
		}
		if v, ok := parseJSONValue(cell.Repr); ok {
			outputs = append(outputs, v)
		}
	}
	return outputs
}

// parseJSONValue accepts a candidate only when the trimmed text is exactly
// one well-formed JSON value.
func parseJSONValue(text string) (any, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, false
	}
	return v, true
}
