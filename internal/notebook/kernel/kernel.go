// Package kernel runs notebook cells in a subprocess interpreter. The
// parent and the worker speak a one-line-JSON-per-cell protocol over
// stdin/stdout; the student code's own stdout is captured inside the
// worker and carried in the reply frame, so print noise can never corrupt
// the protocol stream. On timeout the whole process group is killed.
package kernel

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"

	"nbgrade/internal/notebook"
	"nbgrade/internal/types"
)

// runnerScript is the worker program. It executes each cell in one shared
// namespace, captures stdout, evaluates a trailing expression for its repr
// and reports exceptions without dying, mirroring how notebook kernels
// behave.
const runnerScript = `
import sys, json, io, ast

ns = {}
for line in sys.stdin:
    line = line.strip()
    if not line:
        continue
    req = json.loads(line)
    buf = io.StringIO()
    old_stdout = sys.stdout
    sys.stdout = buf
    repr_text = None
    err = None
    try:
        tree = ast.parse(req["source"], mode="exec")
        last = None
        if tree.body and isinstance(tree.body[-1], ast.Expr):
            last = ast.Expression(tree.body[-1].value)
            tree.body = tree.body[:-1]
        exec(compile(tree, "<cell>", "exec"), ns)
        if last is not None:
            value = eval(compile(last, "<cell>", "eval"), ns)
            if value is not None:
                repr_text = repr(value)
    except Exception as exc:
        err = {"kind": type(exc).__name__, "message": str(exc)}
    finally:
        sys.stdout = old_stdout
    reply = {"stdout": buf.getvalue()}
    if repr_text is not None:
        reply["repr"] = repr_text
    if err is not None:
        reply["error"] = err
    print(json.dumps(reply), flush=True)
`

// Sandbox launches one interpreter subprocess per Start call.
type Sandbox struct {
	// Command is the interpreter binary, default "python3".
	Command string
	// Args are prepended before the runner script flag.
	Args []string

	Log *zap.Logger
}

// New returns a subprocess sandbox using the given interpreter command.
func New(command string, log *zap.Logger) *Sandbox {
	if command == "" {
		command = "python3"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sandbox{Command: command, Log: log}
}

// Start spawns a fresh worker process in its own process group.
func (s *Sandbox) Start(ctx context.Context) (notebook.Session, error) {
	args := append(append([]string{}, s.Args...), "-u", "-c", runnerScript)
	cmd := exec.Command(s.Command, args...)
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("kernel: open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("kernel: open stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("kernel: start %s: %w", s.Command, err)
	}
	s.Log.Debug("kernel started",
		zap.String("command", s.Command),
		zap.Int("pid", cmd.Process.Pid))

	return &session{
		cmd:    cmd,
		stdin:  stdin,
		reader: bufio.NewReader(stdout),
		stderr: &stderr,
		log:    s.Log,
	}, nil
}

type session struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader
	stderr *bytes.Buffer
	log    *zap.Logger

	mu     sync.Mutex
	killed bool
	waited bool
}

type cellRequest struct {
	Source string `json:"source"`
}

type cellReply struct {
	Stdout string `json:"stdout"`
	Repr   string `json:"repr,omitempty"`
	Error  *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (s *session) RunCell(source string) (notebook.CellResult, error) {
	s.mu.Lock()
	if s.killed {
		s.mu.Unlock()
		return notebook.CellResult{}, fmt.Errorf("kernel: session killed")
	}
	s.mu.Unlock()

	frame, err := json.Marshal(cellRequest{Source: source})
	if err != nil {
		return notebook.CellResult{}, fmt.Errorf("kernel: encode cell: %w", err)
	}
	if _, err := s.stdin.Write(append(frame, '\n')); err != nil {
		return notebook.CellResult{}, fmt.Errorf("kernel: write cell: %w", err)
	}

	line, err := s.reader.ReadBytes('\n')
	if err != nil {
		diag := strings.TrimSpace(s.stderr.String())
		if diag != "" {
			return notebook.CellResult{}, fmt.Errorf("kernel: worker died: %s", diag)
		}
		return notebook.CellResult{}, fmt.Errorf("kernel: read reply: %w", err)
	}

	var reply cellReply
	if err := json.Unmarshal(line, &reply); err != nil {
		return notebook.CellResult{}, fmt.Errorf("kernel: decode reply: %w", err)
	}

	res := notebook.CellResult{Stdout: reply.Stdout, Repr: reply.Repr}
	if reply.Error != nil {
		res.Err = &types.CellError{
			Kind:    types.CellErrorException,
			Message: fmt.Sprintf("%s: %s", reply.Error.Kind, reply.Error.Message),
		}
	}
	return res, nil
}

// Kill terminates the whole process group. Submitted code may have spawned
// children; killing only the direct child is not enough.
func (s *session) Kill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.killed {
		return
	}
	s.killed = true
	if err := killProcessGroup(s.cmd); err != nil {
		s.log.Warn("failed to kill kernel process group", zap.Error(err))
	}
}

func (s *session) Close() error {
	s.stdin.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.waited {
		return nil
	}
	s.waited = true
	if s.killed {
		// Reap; exit status of a killed worker is expected noise.
		_ = s.cmd.Wait()
		return nil
	}
	if err := s.cmd.Wait(); err != nil {
		return fmt.Errorf("kernel: worker exit: %w", err)
	}
	return nil
}
