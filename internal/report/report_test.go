package report

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nbgrade/internal/compare"
	"nbgrade/internal/expect"
	"nbgrade/internal/types"
)

func TestBuild(t *testing.T) {
	res := compare.Result{
		Format:     expect.FormatEnhanced,
		TotalScore: 15,
		MaxScore:   25,
		Passed:     false,
		Cases: []compare.CaseResult{
			{Name: "accuracy", PointsEarned: 15, PointsPossible: 15, Passed: true},
			{Name: "runtime", PointsPossible: 10, Detail: "comparison failed: 120 < 100"},
		},
	}
	rep := Build(res)

	assert.Equal(t, types.FormatEnhanced, rep.Format)
	assert.Equal(t, 15.0, rep.TotalScore)
	assert.Equal(t, 25.0, rep.MaxScore)
	assert.False(t, rep.Passed)
	require.Len(t, rep.Results, 2)
	assert.Equal(t, "runtime", rep.Results[1].Name)
	assert.Equal(t, 0.0, rep.Results[1].PointsEarned)
}

func TestMarshalShape(t *testing.T) {
	rep := Build(compare.Result{
		Format:     expect.FormatLegacy,
		TotalScore: 50,
		MaxScore:   100,
		Cases: []compare.CaseResult{
			{Name: "Output #0", PointsEarned: 50, PointsPossible: 50, Passed: true},
			{Name: "Output #1", PointsPossible: 50, Detail: "no output produced"},
		},
	})
	data, err := Marshal(rep)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "legacy", decoded["format"])
	assert.Equal(t, 50.0, decoded["total_score"])
	assert.Equal(t, 100.0, decoded["max_score"])
	results, ok := decoded["results"].([]any)
	require.True(t, ok)
	require.Len(t, results, 2)
	first, ok := results[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Output #0", first["name"])
	assert.Equal(t, true, first["passed"])
}

func TestRender(t *testing.T) {
	t.Run("score line plus one line per failing case", func(t *testing.T) {
		rep := types.GradeReport{
			Format:     types.FormatEnhanced,
			TotalScore: 10,
			MaxScore:   20,
			Results: []types.PerTestResult{
				{Name: "ok case", Passed: true, PointsEarned: 10, PointsPossible: 10},
				{Name: "bad case", PointsPossible: 10, Detail: "expected 2, received 3"},
			},
		}
		out := Render(rep)
		lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
		require.Len(t, lines, 3) // score, status, one failing case
		assert.Contains(t, lines[0], "10/20")
		assert.Contains(t, out, "Status: FAILED")
		assert.Contains(t, out, "bad case")
		assert.Contains(t, out, "expected 2, received 3")
		assert.NotContains(t, out, "ok case")
	})

	t.Run("terminal failure renders an explicit reason, never a zero score", func(t *testing.T) {
		rep := BuildFailure("decrypting: crypt: integrity check failed")
		out := Render(rep)
		assert.Contains(t, out, "FAILED")
		assert.Contains(t, out, "integrity check failed")
		assert.NotContains(t, out, "Score")
	})

	t.Run("absorbed cell failures render as a note, not a failure", func(t *testing.T) {
		rep := types.GradeReport{
			Format:         types.FormatLegacy,
			TotalScore:     100,
			MaxScore:       100,
			Passed:         true,
			ExecutionError: "1 cell(s) raised errors",
		}
		out := Render(rep)
		assert.Contains(t, out, "Score: 100.00%")
		assert.Contains(t, out, "note: 1 cell(s) raised errors")
		assert.NotContains(t, out, "FAILED")
	})

	t.Run("legacy renders a percentage", func(t *testing.T) {
		rep := types.GradeReport{Format: types.FormatLegacy, TotalScore: 66.67, MaxScore: 100, Passed: false}
		assert.Contains(t, Render(rep), "66.67%")
	})
}
