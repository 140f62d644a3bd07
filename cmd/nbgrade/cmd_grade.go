// This file contains the grade command: run the full pipeline for one
// submission and print the scored report.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"nbgrade/internal/engine"
	"nbgrade/internal/report"
	"nbgrade/internal/types"
)

var (
	gradeNotebook  string
	gradeExpected  string
	gradeStudent   string
	gradeOut       string
	gradeEncrypted bool
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	detailStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

var gradeCmd = &cobra.Command{
	Use:   "grade",
	Short: "Grade one notebook submission",
	Long: `Executes the notebook in the configured sandbox, extracts its JSON
outputs and scores them against the expectation file. Files ending in .enc
(or passed with --encrypted) are decrypted with the student's key first.

The exit code is nonzero when the run fails or when an enhanced test case
fails; legacy grading is purely proportional and exits zero.`,
	RunE: runGrade,
}

func init() {
	gradeCmd.Flags().StringVarP(&gradeNotebook, "notebook", "n", "", "path to the submitted notebook (required)")
	gradeCmd.Flags().StringVarP(&gradeExpected, "expected", "e", "", "path to the expectation file (required)")
	gradeCmd.Flags().StringVarP(&gradeStudent, "student", "s", "", "student identifier (required for encrypted submissions)")
	gradeCmd.Flags().StringVarP(&gradeOut, "out", "o", "", "write the JSON report to this file")
	gradeCmd.Flags().BoolVar(&gradeEncrypted, "encrypted", false, "treat the notebook as an encrypted blob")
	_ = gradeCmd.MarkFlagRequired("notebook")
	_ = gradeCmd.MarkFlagRequired("expected")
	rootCmd.AddCommand(gradeCmd)
}

func runGrade(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, _, cleanup, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	run, err := gradeOne(eng, gradeStudent, gradeNotebook, gradeExpected, gradeEncrypted)
	if err != nil {
		return err
	}

	fmt.Print(renderStyled(run.Report))

	if gradeOut != "" {
		if err := writeReport(run.Report, gradeOut); err != nil {
			return err
		}
	}

	if run.Failed() {
		return fmt.Errorf("grading run failed: %w", run.Err)
	}
	if run.Report.Format == types.FormatEnhanced && !run.Report.Passed {
		return errors.New("one or more test cases failed")
	}
	return nil
}

// gradeOne reads the submission and expectation files and runs the engine.
// Shared by grade, grade-all and watch.
func gradeOne(eng *engine.Engine, student, notebookPath, expectedPath string, encrypted bool) (engine.Run, error) {
	nb, err := os.ReadFile(notebookPath)
	if err != nil {
		return engine.Run{}, fmt.Errorf("read notebook: %w", err)
	}
	exp, err := os.ReadFile(expectedPath)
	if err != nil {
		return engine.Run{}, fmt.Errorf("read expectation file: %w", err)
	}

	encrypted = encrypted || strings.HasSuffix(notebookPath, ".enc")
	if encrypted && student == "" {
		return engine.Run{}, errors.New("--student is required for encrypted submissions")
	}

	return eng.Grade(cmdContext(), engine.Request{
		PrincipalID: student,
		Notebook:    nb,
		Encrypted:   encrypted,
		Expectation: exp,
	}), nil
}

// renderStyled colors the report summary for the terminal.
func renderStyled(rep types.GradeReport) string {
	var b strings.Builder

	if report.IsFailure(rep) {
		b.WriteString(failStyle.Render("FAILED") + " " + rep.ExecutionError + "\n")
		return b.String()
	}

	switch rep.Format {
	case types.FormatEnhanced:
		status := passStyle.Render("PASSED")
		if !rep.Passed {
			status = failStyle.Render("FAILED")
		}
		fmt.Fprintf(&b, "%s  %.2f/%.2f points\n", status, rep.TotalScore, rep.MaxScore)
	default:
		fmt.Fprintf(&b, "Score: %.2f%%\n", rep.TotalScore)
	}

	for _, r := range rep.Results {
		if r.Passed {
			fmt.Fprintf(&b, "%s %s (%s/%s)\n",
				passStyle.Render("✓"), r.Name, formatPoints(r.PointsEarned), formatPoints(r.PointsPossible))
			continue
		}
		fmt.Fprintf(&b, "%s %s (0/%s)\n",
			failStyle.Render("✗"), r.Name, formatPoints(r.PointsPossible))
		if r.Detail != "" {
			fmt.Fprintf(&b, "  %s\n", detailStyle.Render(r.Detail))
		}
	}
	if rep.ExecutionError != "" {
		fmt.Fprintf(&b, "%s\n", detailStyle.Render("note: "+rep.ExecutionError))
	}
	return b.String()
}

func formatPoints(f float64) string {
	s := fmt.Sprintf("%.2f", f)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

func writeReport(rep types.GradeReport, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}
	data, err := report.Marshal(rep)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
