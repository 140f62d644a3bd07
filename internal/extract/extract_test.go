package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nbgrade/internal/types"
)

func TestExtract(t *testing.T) {
	t.Run("takes JSON lines in discovery order", func(t *testing.T) {
		cells := []types.ExecutedCell{
			{Index: 0, Stdout: "{\"a\": 1}\n[1, 2]\n"},
			{Index: 1, Stdout: "{\"b\": 2}\n"},
		}
		outputs := Extract(cells)
		require.Len(t, outputs, 3)
		assert.Equal(t, map[string]any{"a": float64(1)}, outputs[0])
		assert.Equal(t, []any{float64(1), float64(2)}, outputs[1])
		assert.Equal(t, map[string]any{"b": float64(2)}, outputs[2])
	})

	t.Run("skips print noise and tracebacks", func(t *testing.T) {
		cells := []types.ExecutedCell{
			{Index: 0, Stdout: "loading data...\nTraceback (most recent call last):\n  ValueError: nope\n{\"score\": 0.93}\n"},
		}
		outputs := Extract(cells)
		require.Len(t, outputs, 1)
		assert.Equal(t, map[string]any{"score": 0.93}, outputs[0])
	})

	t.Run("a failed cell still contributes nothing but later cells do", func(t *testing.T) {
		cells := []types.ExecutedCell{
			{Index: 0, Err: &types.CellError{Kind: types.CellErrorException, Message: "NameError"}},
			{Index: 1, Stdout: "{\"x\": 1}\n"},
		}
		outputs := Extract(cells)
		require.Len(t, outputs, 1)
		assert.Equal(t, map[string]any{"x": float64(1)}, outputs[0])
	})

	t.Run("repr is a trailing candidate after stdout lines", func(t *testing.T) {
		cells := []types.ExecutedCell{
			{Index: 0, Stdout: "[1]\n", Repr: "{\"from\": \"repr\"}"},
		}
		outputs := Extract(cells)
		require.Len(t, outputs, 2)
		assert.Equal(t, []any{float64(1)}, outputs[0])
		assert.Equal(t, map[string]any{"from": "repr"}, outputs[1])
	})

	t.Run("non-JSON repr is skipped", func(t *testing.T) {
		cells := []types.ExecutedCell{
			{Index: 0, Repr: "<DataFrame 3x2>"},
		}
		assert.Empty(t, Extract(cells))
	})

	t.Run("scalar lines are JSON values", func(t *testing.T) {
		cells := []types.ExecutedCell{
			{Index: 0, Stdout: "3.14\ntrue\n\"done\"\n"},
		}
		outputs := Extract(cells)
		require.Len(t, outputs, 3)
		assert.Equal(t, 3.14, outputs[0])
		assert.Equal(t, true, outputs[1])
		assert.Equal(t, "done", outputs[2])
	})

	t.Run("deterministic across re-extraction", func(t *testing.T) {
		cells := []types.ExecutedCell{
			{Index: 0, Stdout: "{\"a\": 1}\nnoise\n2\n", Repr: "[3]"},
		}
		assert.Equal(t, Extract(cells), Extract(cells))
	})
}
