// Package types provides shared type definitions used across nbgrade packages.
// This package exists to break import cycles between the crypto, execution and
// reporting layers. Types in this package are foundational data structures with
// no complex dependencies.
package types

import "time"

// =============================================================================
// KEY MANAGEMENT TYPES
// =============================================================================

// KeyRecord holds one principal's symmetric encryption key.
// Records are created lazily on first use and never mutated afterwards;
// rotation means replacing the record, which invalidates old ciphertexts.
type KeyRecord struct {
	PrincipalID string
	Key         []byte
	CreatedAt   time.Time
}

// =============================================================================
// EXECUTION TYPES
// =============================================================================

// CellErrorKind classifies a failure recorded for a single notebook cell.
type CellErrorKind string

const (
	// CellErrorException is a recoverable error raised inside one cell.
	// Execution continues with the following cells.
	CellErrorException CellErrorKind = "exception"

	// CellErrorTimeout marks the synthetic trailing cell appended when the
	// run-wide wall clock expires and the sandbox is killed.
	CellErrorTimeout CellErrorKind = "timeout"
)

// CellError describes why a cell failed.
type CellError struct {
	Kind    CellErrorKind `json:"kind"`
	Message string        `json:"message"`
}

// ExecutedCell is the result of running one code cell, in source order.
// Immutable after execution.
type ExecutedCell struct {
	Index  int        `json:"index"`
	Stdout string     `json:"stdout"`
	Repr   string     `json:"repr,omitempty"`
	Err    *CellError `json:"error,omitempty"`
}

// =============================================================================
// GRADING TYPES
// =============================================================================

// ReportFormat identifies which expectation schema produced a report.
type ReportFormat string

const (
	FormatLegacy   ReportFormat = "legacy"
	FormatEnhanced ReportFormat = "enhanced"
)

// PerTestResult is one scored entry in a grade report. For legacy grading
// each expected output becomes one entry with an equal share of 100 points;
// for enhanced grading each test case maps to one entry with its own points.
type PerTestResult struct {
	Name           string  `json:"name"`
	PointsEarned   float64 `json:"points_earned"`
	PointsPossible float64 `json:"points_possible"`
	Passed         bool    `json:"passed"`
	Detail         string  `json:"detail,omitempty"`
}

// GradeReport is the sole artifact handed to the result-delivery side.
// Built once per grading run; immutable.
type GradeReport struct {
	Format         ReportFormat    `json:"format"`
	TotalScore     float64         `json:"total_score"`
	MaxScore       float64         `json:"max_score"`
	Passed         bool            `json:"passed"`
	Results        []PerTestResult `json:"results"`
	ExecutionError string          `json:"execution_error,omitempty"`
}
