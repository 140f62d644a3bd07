package engine

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nbgrade/internal/crypt"
	"nbgrade/internal/expect"
	"nbgrade/internal/keystore"
	"nbgrade/internal/notebook"
	"nbgrade/internal/types"
)

// echoSandbox runs "cells" whose source is copied verbatim to stdout, with
// "ERROR:" cells failing. Enough to drive the pipeline without a real
// interpreter.
type echoSandbox struct{}

func (echoSandbox) Start(ctx context.Context) (notebook.Session, error) {
	return echoSession{}, nil
}

type echoSession struct{}

func (echoSession) RunCell(source string) (notebook.CellResult, error) {
	if msg, ok := strings.CutPrefix(source, "ERROR:"); ok {
		return notebook.CellResult{
			Err: &types.CellError{Kind: types.CellErrorException, Message: msg},
		}, nil
	}
	return notebook.CellResult{Stdout: source + "\n"}, nil
}

func (echoSession) Kill()        {}
func (echoSession) Close() error { return nil }

func testNotebook(t *testing.T, sources ...string) []byte {
	t.Helper()
	type cell struct {
		CellType string `json:"cell_type"`
		Source   string `json:"source"`
	}
	doc := struct {
		Cells []cell `json:"cells"`
	}{}
	for _, s := range sources {
		doc.Cells = append(doc.Cells, cell{CellType: "code", Source: s})
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return data
}

func testEngine(t *testing.T) (*Engine, *crypt.Manager) {
	t.Helper()
	cm := crypt.NewManager(keystore.NewMemory())
	exec := notebook.NewExecutor(echoSandbox{}, nil)
	return New(cm, exec, Config{Timeout: 5 * time.Second}, nil), cm
}

func TestGradeEncryptedSubmission(t *testing.T) {
	eng, cm := testEngine(t)

	nb := testNotebook(t, `{"answer": 42}`, `{"pi": 3.1416}`)
	blob, err := cm.Encrypt("alice", nb)
	require.NoError(t, err)

	run := eng.Grade(context.Background(), Request{
		PrincipalID: "alice",
		Notebook:    blob,
		Encrypted:   true,
		Expectation: []byte(`{"test_cases": [
			{"name": "answer", "points": 10, "expected": {"answer": 42}},
			{"name": "pi", "points": 5, "expected": {"pi": 3.14159}, "tolerance": 0.001}
		]}`),
	})

	require.False(t, run.Failed(), "run err: %v", run.Err)
	assert.Equal(t, StageReported, run.Stage)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, types.FormatEnhanced, run.Report.Format)
	assert.Equal(t, 15.0, run.Report.TotalScore)
	assert.True(t, run.Report.Passed)
}

func TestGradePlaintextLegacy(t *testing.T) {
	eng, _ := testEngine(t)

	run := eng.Grade(context.Background(), Request{
		Notebook:    testNotebook(t, `[1, 2, 3]`, `"wrong"`),
		Expectation: []byte(`[[1, 2, 3], "right"]`),
	})

	require.False(t, run.Failed())
	assert.Equal(t, types.FormatLegacy, run.Report.Format)
	assert.InDelta(t, 50.0, run.Report.TotalScore, 1e-9)
	assert.False(t, run.Report.Passed)
}

func TestGradeFailsTerminally(t *testing.T) {
	t.Run("tampered blob", func(t *testing.T) {
		eng, cm := testEngine(t)
		blob, err := cm.Encrypt("alice", testNotebook(t, `1`))
		require.NoError(t, err)
		blob[len(blob)-1] ^= 0x01

		run := eng.Grade(context.Background(), Request{
			PrincipalID: "alice",
			Notebook:    blob,
			Encrypted:   true,
			Expectation: []byte(`[1]`),
		})
		assert.True(t, run.Failed())
		assert.Equal(t, StageFailed, run.Stage)
		assert.ErrorIs(t, run.Err, crypt.ErrIntegrity)
		assert.NotEmpty(t, run.Report.ExecutionError)
	})

	t.Run("unknown principal", func(t *testing.T) {
		eng, _ := testEngine(t)
		run := eng.Grade(context.Background(), Request{
			PrincipalID: "ghost",
			Notebook:    []byte("junk"),
			Encrypted:   true,
			Expectation: []byte(`[1]`),
		})
		assert.True(t, run.Failed())
		assert.ErrorIs(t, run.Err, crypt.ErrUnknownPrincipal)
	})

	t.Run("malformed expectation aborts while validating", func(t *testing.T) {
		eng, _ := testEngine(t)
		run := eng.Grade(context.Background(), Request{
			Notebook:    testNotebook(t, `1`),
			Expectation: []byte(`42`),
		})
		assert.True(t, run.Failed())
		assert.ErrorIs(t, run.Err, expect.ErrMalformed)
		// The failure is attributed to validation; execution never began.
		assert.Contains(t, run.Err.Error(), string(StageValidating))
	})

	t.Run("unparseable notebook aborts while validating", func(t *testing.T) {
		eng, _ := testEngine(t)
		run := eng.Grade(context.Background(), Request{
			Notebook:    []byte("not a notebook"),
			Expectation: []byte(`[1]`),
		})
		assert.True(t, run.Failed())
		assert.Contains(t, run.Err.Error(), string(StageValidating))
	})
}

func TestGradeAbsorbsCellErrors(t *testing.T) {
	eng, _ := testEngine(t)

	// First cell errors; second cell still produces the expected output.
	run := eng.Grade(context.Background(), Request{
		Notebook:    testNotebook(t, "ERROR:NameError: x is not defined", `{"x": 1}`),
		Expectation: []byte(`[{"x": 1}]`),
	})

	require.False(t, run.Failed())
	assert.Equal(t, 100.0, run.Report.TotalScore)
	assert.Contains(t, run.Report.ExecutionError, "1 cell(s) raised errors")
}
