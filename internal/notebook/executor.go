package notebook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"nbgrade/internal/types"
)

// CellResult is what a sandbox session reports for one executed cell.
// Err records a failure inside the cell (the run continues); a session
// level failure is reported through RunCell's error return instead.
type CellResult struct {
	Stdout string
	Repr   string
	Err    *types.CellError
}

// Session is one live interpreter instance. RunCell blocks until the cell
// finishes; Kill must forcibly stop a running cell (submitted code cannot
// be trusted to observe cancellation).
type Session interface {
	RunCell(source string) (CellResult, error)
	Kill()
	Close() error
}

// Sandbox starts fresh sessions. It is an injected capability: the engine
// does not know whether cells run in a subprocess kernel or an in-process
// interpreter.
type Sandbox interface {
	Start(ctx context.Context) (Session, error)
}

// Executor runs a document's cells in order inside one fresh session.
type Executor struct {
	sandbox Sandbox
	log     *zap.Logger
}

// NewExecutor returns an Executor using the given sandbox.
func NewExecutor(sandbox Sandbox, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{sandbox: sandbox, log: log}
}

// Execute runs every code cell strictly in document order. A cell that
// fails is recorded and execution continues; later cells may still earn
// credit. The whole run is bounded by timeout: when it expires the session
// is killed and the cells captured so far are returned, followed by a
// synthetic trailing cell carrying a timeout error.
//
// A non-nil error means the sandbox itself broke (start failure or a dead
// session mid-run); the cells captured before the failure are still
// returned alongside it.
func (e *Executor) Execute(ctx context.Context, doc *Document, timeout time.Duration) ([]types.ExecutedCell, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sess, err := e.sandbox.Start(runCtx)
	if err != nil {
		return nil, fmt.Errorf("notebook: start sandbox: %w", err)
	}
	defer sess.Close()

	var mu sync.Mutex
	var cells []types.ExecutedCell

	snapshot := func() []types.ExecutedCell {
		mu.Lock()
		defer mu.Unlock()
		out := make([]types.ExecutedCell, len(cells))
		copy(out, cells)
		return out
	}

	done := make(chan error, 1)
	go func() {
		for i, cell := range doc.Cells {
			res, err := sess.RunCell(cell.Source)
			if err != nil {
				done <- fmt.Errorf("notebook: cell %d: session failed: %w", i, err)
				return
			}
			if res.Err != nil {
				e.log.Debug("cell failed",
					zap.Int("cell", i),
					zap.String("kind", string(res.Err.Kind)),
					zap.String("message", res.Err.Message))
			}
			mu.Lock()
			cells = append(cells, types.ExecutedCell{
				Index:  i,
				Stdout: res.Stdout,
				Repr:   res.Repr,
				Err:    res.Err,
			})
			mu.Unlock()
		}
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			return snapshot(), err
		}
		return snapshot(), nil
	case <-runCtx.Done():
		e.log.Warn("execution timed out, killing sandbox",
			zap.Duration("timeout", timeout))
		sess.Kill()
		captured := snapshot()
		captured = append(captured, types.ExecutedCell{
			Index: len(captured),
			Err: &types.CellError{
				Kind:    types.CellErrorTimeout,
				Message: fmt.Sprintf("execution exceeded %s", timeout),
			},
		})
		return captured, nil
	}
}
