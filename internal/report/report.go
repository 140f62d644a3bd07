// Package report assembles the grade report consumed by result delivery.
// Building a report is a pure transformation of a comparison result; the
// JSON form is the pipeline boundary artifact, the rendered form is for
// humans.
package report

import (
	"encoding/json"
	"fmt"
	"strings"

	"nbgrade/internal/compare"
	"nbgrade/internal/expect"
	"nbgrade/internal/types"
)

// Build converts a comparison result into a grade report.
func Build(res compare.Result) types.GradeReport {
	rep := types.GradeReport{
		Format:     formatOf(res.Format),
		TotalScore: res.TotalScore,
		MaxScore:   res.MaxScore,
		Passed:     res.Passed,
		Results:    make([]types.PerTestResult, 0, len(res.Cases)),
	}
	for _, cr := range res.Cases {
		rep.Results = append(rep.Results, types.PerTestResult{
			Name:           cr.Name,
			PointsEarned:   cr.PointsEarned,
			PointsPossible: cr.PointsPossible,
			Passed:         cr.Passed,
			Detail:         cr.Detail,
		})
	}
	return rep
}

// BuildFailure produces the report for a run that terminated before
// scoring. It states the failure reason explicitly; an infrastructure
// fault must never be indistinguishable from a score of zero.
func BuildFailure(reason string) types.GradeReport {
	return types.GradeReport{
		ExecutionError: reason,
	}
}

// IsFailure reports whether rep describes a run that terminated before
// scoring. Scored reports may still carry an ExecutionError note about
// absorbed cell failures.
func IsFailure(rep types.GradeReport) bool {
	return rep.Format == "" && rep.ExecutionError != ""
}

// Marshal serializes a report for the pipeline boundary.
func Marshal(rep types.GradeReport) ([]byte, error) {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("report: marshal: %w", err)
	}
	return data, nil
}

// Render produces the human-readable summary: a score line followed by one
// line per failing entry with its detail.
func Render(rep types.GradeReport) string {
	var b strings.Builder

	if IsFailure(rep) {
		fmt.Fprintf(&b, "FAILED: %s\n", rep.ExecutionError)
		return b.String()
	}

	switch rep.Format {
	case types.FormatEnhanced:
		pct := 0.0
		if rep.MaxScore > 0 {
			pct = 100 * rep.TotalScore / rep.MaxScore
		}
		fmt.Fprintf(&b, "Score: %s/%s points (%.2f%%)\n",
			trimFloat(rep.TotalScore), trimFloat(rep.MaxScore), pct)
		if rep.Passed {
			b.WriteString("Status: PASSED\n")
		} else {
			b.WriteString("Status: FAILED\n")
		}
	default:
		fmt.Fprintf(&b, "Score: %.2f%%\n", rep.TotalScore)
	}

	for _, r := range rep.Results {
		if r.Passed {
			continue
		}
		detail := r.Detail
		if detail == "" {
			detail = "failed"
		}
		fmt.Fprintf(&b, "✗ %s: %s\n", r.Name, detail)
	}
	if rep.ExecutionError != "" {
		fmt.Fprintf(&b, "note: %s\n", rep.ExecutionError)
	}
	return b.String()
}

// trimFloat drops a trailing ".00" so whole point totals read naturally.
func trimFloat(f float64) string {
	s := fmt.Sprintf("%.2f", f)
	return strings.TrimSuffix(s, ".00")
}

func formatOf(f expect.Format) types.ReportFormat {
	if f == expect.FormatEnhanced {
		return types.FormatEnhanced
	}
	return types.FormatLegacy
}
