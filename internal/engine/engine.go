// Package engine drives one grading run through its stages: decrypt the
// submission, execute the notebook, extract JSON outputs, compare them
// against the expectation spec and build the report. Failures local to one
// cell or one test case are absorbed into the report; failures in
// decryption, expectation parsing or the sandbox itself terminate the run.
// Retry policy belongs to the caller, the engine never retries.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nbgrade/internal/compare"
	"nbgrade/internal/crypt"
	"nbgrade/internal/expect"
	"nbgrade/internal/extract"
	"nbgrade/internal/notebook"
	"nbgrade/internal/report"
	"nbgrade/internal/types"
)

// Stage is a grading run's position in its lifecycle. Reported and Failed
// are terminal.
type Stage string

const (
	StagePending    Stage = "pending"
	StageDecrypting Stage = "decrypting"
	StageValidating Stage = "validating"
	StageExecuting  Stage = "executing"
	StageExtracting Stage = "extracting"
	StageComparing  Stage = "comparing"
	StageReported   Stage = "reported"
	StageFailed     Stage = "failed"
)

// Config holds per-engine settings.
type Config struct {
	// Timeout bounds one whole notebook execution.
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Timeout: 10 * time.Minute}
}

// Engine wires the grading components for repeated runs. Each run is a
// single-threaded unit of work; the Engine itself may be shared across
// goroutines because all per-run state lives in the Run value.
type Engine struct {
	crypt    *crypt.Manager
	executor *notebook.Executor
	config   Config
	log      *zap.Logger
}

// New creates an Engine with the given dependencies.
func New(cm *crypt.Manager, exec *notebook.Executor, cfg Config, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Engine{crypt: cm, executor: exec, config: cfg, log: log}
}

// Request describes one submission to grade.
type Request struct {
	// PrincipalID identifies the student the submission belongs to.
	// Required when Encrypted is set.
	PrincipalID string

	// Notebook is the submitted document, encrypted or plain.
	Notebook []byte

	// Encrypted marks Notebook as an encrypted blob to decrypt first.
	Encrypted bool

	// Expectation is the instructor-authored expectation file content.
	Expectation []byte
}

// Run is the terminal outcome of one grading run.
type Run struct {
	ID     string
	Stage  Stage
	Report types.GradeReport

	// Err is set when Stage is StageFailed.
	Err error
}

// Failed reports whether the run terminated without producing a score.
func (r Run) Failed() bool { return r.Stage == StageFailed }

// Grade executes the full pipeline for one submission.
func (e *Engine) Grade(ctx context.Context, req Request) Run {
	run := Run{ID: uuid.NewString(), Stage: StagePending}
	log := e.log.With(zap.String("run", run.ID), zap.String("principal", req.PrincipalID))

	fail := func(stage Stage, err error) Run {
		log.Error("run failed", zap.String("stage", string(stage)), zap.Error(err))
		run.Stage = StageFailed
		run.Err = fmt.Errorf("%s: %w", stage, err)
		run.Report = report.BuildFailure(run.Err.Error())
		return run
	}

	notebookBytes := req.Notebook
	if req.Encrypted {
		run.Stage = StageDecrypting
		log.Info("decrypting submission")
		plain, err := e.crypt.Decrypt(req.PrincipalID, req.Notebook)
		if err != nil {
			return fail(StageDecrypting, err)
		}
		notebookBytes = plain
	}

	// The expectation and the notebook are validated before execution: a
	// malformed expectation file is fatal and there is no point running
	// the notebook for it.
	run.Stage = StageValidating
	spec, err := expect.Load(req.Expectation)
	if err != nil {
		return fail(StageValidating, err)
	}

	doc, err := notebook.ParseDocument(notebookBytes)
	if err != nil {
		return fail(StageValidating, err)
	}

	run.Stage = StageExecuting
	log.Info("executing notebook",
		zap.Int("cells", len(doc.Cells)),
		zap.Duration("timeout", e.config.Timeout))
	cells, execErr := e.executor.Execute(ctx, doc, e.config.Timeout)
	if execErr != nil {
		return fail(StageExecuting, execErr)
	}

	run.Stage = StageExtracting
	outputs := extract.Extract(cells)
	log.Info("extracted outputs", zap.Int("count", len(outputs)))

	run.Stage = StageComparing
	result := compare.Score(outputs, spec)

	run.Report = report.Build(result)
	if summary := executionSummary(cells); summary != "" {
		run.Report.ExecutionError = summary
	}
	run.Stage = StageReported
	log.Info("run reported",
		zap.Float64("score", run.Report.TotalScore),
		zap.Float64("max", run.Report.MaxScore),
		zap.Bool("passed", run.Report.Passed))
	return run
}

// executionSummary notes cell-level failures in the report without failing
// the run; partial results from the surviving cells were still scored.
func executionSummary(cells []types.ExecutedCell) string {
	failed := 0
	timedOut := false
	for _, c := range cells {
		if c.Err == nil {
			continue
		}
		if c.Err.Kind == types.CellErrorTimeout {
			timedOut = true
		} else {
			failed++
		}
	}
	switch {
	case timedOut && failed > 0:
		return fmt.Sprintf("execution timed out; %d cell(s) failed before that", failed)
	case timedOut:
		return "execution timed out"
	case failed > 0:
		return fmt.Sprintf("%d cell(s) raised errors", failed)
	default:
		return ""
	}
}
