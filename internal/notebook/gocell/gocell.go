// Package gocell executes Go-language notebook cells in-process using the
// yaegi interpreter. Each Start call builds a fresh interpreter with
// stdlib symbols only, so no state leaks between runs and cells cannot
// import external packages.
//
// The interpreter cannot be preempted, so the run-wide timeout is only
// cooperative here: Kill marks the session dead but a spinning cell keeps
// its goroutine until it returns. Use the subprocess kernel sandbox for
// untrusted submissions; gocell is for instructor-authored notebooks and
// tests, where hard isolation is not required.
package gocell

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"nbgrade/internal/notebook"
	"nbgrade/internal/types"
)

// Sandbox builds fresh yaegi sessions.
type Sandbox struct{}

// New returns an in-process Go cell sandbox.
func New() *Sandbox {
	return &Sandbox{}
}

// Start creates a fresh interpreter with captured stdout.
func (s *Sandbox) Start(ctx context.Context) (notebook.Session, error) {
	var out bytes.Buffer
	i := interp.New(interp.Options{Stdout: &out, Stderr: &out})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("gocell: load stdlib symbols: %w", err)
	}
	return &session{interp: i, out: &out}, nil
}

type session struct {
	mu     sync.Mutex
	interp *interp.Interpreter
	out    *bytes.Buffer
	killed atomic.Bool
}

func (s *session) RunCell(source string) (notebook.CellResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.killed.Load() {
		return notebook.CellResult{}, fmt.Errorf("gocell: session killed")
	}

	s.out.Reset()
	imports, body := splitImports(source)
	if imports != "" {
		if _, err := s.interp.Eval(imports); err != nil {
			return notebook.CellResult{
				Stdout: s.out.String(),
				Err: &types.CellError{
					Kind:    types.CellErrorException,
					Message: err.Error(),
				},
			}, nil
		}
	}
	if strings.TrimSpace(body) == "" {
		return notebook.CellResult{Stdout: s.out.String()}, nil
	}

	v, err := s.interp.Eval(body)
	res := notebook.CellResult{Stdout: s.out.String()}
	if err != nil {
		res.Err = &types.CellError{
			Kind:    types.CellErrorException,
			Message: err.Error(),
		}
		return res, nil
	}
	if v.IsValid() && v.CanInterface() {
		res.Repr = reprValue(v.Interface())
	}
	return res, nil
}

// splitImports separates the import clauses at the top of a cell from the
// statement body. The interpreter parses source that opens with an import
// in file mode, where plain statements are not legal, so the two parts
// must be evaluated as separate units.
func splitImports(source string) (imports, body string) {
	lines := strings.Split(source, "\n")
	var imp []string
	i := 0
	for i < len(lines) {
		trimmed := strings.TrimSpace(lines[i])
		switch {
		case trimmed == "":
			i++
		case strings.HasPrefix(trimmed, "import ("):
			for i < len(lines) {
				closing := strings.TrimSpace(lines[i]) == ")"
				imp = append(imp, lines[i])
				i++
				if closing {
					break
				}
			}
		case strings.HasPrefix(trimmed, "import "):
			imp = append(imp, lines[i])
			i++
		default:
			return strings.Join(imp, "\n"), strings.Join(lines[i:], "\n")
		}
	}
	return strings.Join(imp, "\n"), ""
}

// reprValue renders a cell's final value. JSON is preferred because the
// extractor downstream only understands JSON; values JSON cannot express
// fall back to fmt.
func reprValue(val any) string {
	if val == nil {
		return ""
	}
	if data, err := json.Marshal(val); err == nil {
		return string(data)
	}
	return fmt.Sprint(val)
}

func (s *session) Kill() {
	// Cooperative only: mark dead so no further cells run. Must not take
	// the session mutex, Kill is called while a cell may still be running.
	s.killed.Store(true)
}

func (s *session) Close() error { return nil }
