package notebook

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"nbgrade/internal/types"
)

// fakeSandbox scripts one CellResult per cell; a cell may also be marked
// slow (blocks until killed) or broken (session failure).
type fakeSandbox struct {
	results []scripted
	started int
}

type scripted struct {
	result   CellResult
	slow     bool
	breaksOn bool
}

func (f *fakeSandbox) Start(ctx context.Context) (Session, error) {
	f.started++
	return &fakeSession{script: f.results, killed: make(chan struct{})}, nil
}

type fakeSession struct {
	script []scripted
	next   int
	killed chan struct{}
}

func (s *fakeSession) RunCell(source string) (CellResult, error) {
	if s.next >= len(s.script) {
		return CellResult{}, fmt.Errorf("unexpected cell %d", s.next)
	}
	step := s.script[s.next]
	s.next++
	if step.breaksOn {
		return CellResult{}, fmt.Errorf("session pipe closed")
	}
	if step.slow {
		<-s.killed
		return CellResult{}, fmt.Errorf("killed")
	}
	return step.result, nil
}

func (s *fakeSession) Kill() {
	select {
	case <-s.killed:
	default:
		close(s.killed)
	}
}

func (s *fakeSession) Close() error { return nil }

func doc(n int) *Document {
	d := &Document{}
	for i := 0; i < n; i++ {
		d.Cells = append(d.Cells, Cell{Source: fmt.Sprintf("cell %d", i)})
	}
	return d
}

func TestExecute(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("runs cells in order", func(t *testing.T) {
		sb := &fakeSandbox{results: []scripted{
			{result: CellResult{Stdout: "a\n"}},
			{result: CellResult{Stdout: "b\n", Repr: "2"}},
		}}
		e := NewExecutor(sb, nil)

		cells, err := e.Execute(context.Background(), doc(2), time.Second)
		require.NoError(t, err)
		require.Len(t, cells, 2)
		assert.Equal(t, 0, cells[0].Index)
		assert.Equal(t, "a\n", cells[0].Stdout)
		assert.Equal(t, 1, cells[1].Index)
		assert.Equal(t, "2", cells[1].Repr)
		assert.Equal(t, 1, sb.started)
	})

	t.Run("continues after a failing cell", func(t *testing.T) {
		sb := &fakeSandbox{results: []scripted{
			{result: CellResult{Err: &types.CellError{Kind: types.CellErrorException, Message: "NameError: x"}}},
			{result: CellResult{Stdout: "{\"x\": 1}\n"}},
		}}
		e := NewExecutor(sb, nil)

		cells, err := e.Execute(context.Background(), doc(2), time.Second)
		require.NoError(t, err)
		require.Len(t, cells, 2)
		require.NotNil(t, cells[0].Err)
		assert.Equal(t, types.CellErrorException, cells[0].Err.Kind)
		assert.Nil(t, cells[1].Err)
		assert.Equal(t, "{\"x\": 1}\n", cells[1].Stdout)
	})

	t.Run("timeout keeps cells captured so far", func(t *testing.T) {
		sb := &fakeSandbox{results: []scripted{
			{result: CellResult{Stdout: "done\n"}},
			{slow: true},
			{result: CellResult{Stdout: "never reached\n"}},
		}}
		e := NewExecutor(sb, nil)

		cells, err := e.Execute(context.Background(), doc(3), 50*time.Millisecond)
		require.NoError(t, err)
		require.Len(t, cells, 2)
		assert.Equal(t, "done\n", cells[0].Stdout)
		require.NotNil(t, cells[1].Err)
		assert.Equal(t, types.CellErrorTimeout, cells[1].Err.Kind)
	})

	t.Run("session failure returns partial cells and an error", func(t *testing.T) {
		sb := &fakeSandbox{results: []scripted{
			{result: CellResult{Stdout: "ok\n"}},
			{breaksOn: true},
		}}
		e := NewExecutor(sb, nil)

		cells, err := e.Execute(context.Background(), doc(2), time.Second)
		require.Error(t, err)
		require.Len(t, cells, 1)
		assert.Equal(t, "ok\n", cells[0].Stdout)
	})
}
