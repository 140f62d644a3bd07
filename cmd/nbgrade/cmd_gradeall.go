// This file contains the grade-all command: batch grading of a submissions
// directory with bounded parallelism. Each run is independent, so whole
// runs parallelize safely; only key creation is serialized inside the
// encryption manager.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nbgrade/internal/types"
)

var (
	gradeAllDir      string
	gradeAllExpected string
	gradeAllOutDir   string
	gradeAllParallel int
)

var gradeAllCmd = &cobra.Command{
	Use:   "grade-all",
	Short: "Grade every submission in a directory",
	Long: `Grades every *.ipynb and *.ipynb.enc file in the directory against one
expectation file. The student identifier is the file name without
extensions. A JSON report per student is written to the output directory.`,
	RunE: runGradeAll,
}

func init() {
	gradeAllCmd.Flags().StringVarP(&gradeAllDir, "dir", "d", "submissions", "directory of submissions")
	gradeAllCmd.Flags().StringVarP(&gradeAllExpected, "expected", "e", "", "path to the expectation file (required)")
	gradeAllCmd.Flags().StringVar(&gradeAllOutDir, "out-dir", "reports", "directory for JSON reports")
	gradeAllCmd.Flags().IntVar(&gradeAllParallel, "parallel", 4, "maximum concurrent grading runs")
	_ = gradeAllCmd.MarkFlagRequired("expected")
	rootCmd.AddCommand(gradeAllCmd)
}

func runGradeAll(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, _, cleanup, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	entries, err := os.ReadDir(gradeAllDir)
	if err != nil {
		return fmt.Errorf("read submissions dir: %w", err)
	}

	type graded struct {
		student string
		passed  bool
		failed  bool
		score   float64
		max     float64
	}
	var mu sync.Mutex
	var results []graded

	g := new(errgroup.Group)
	g.SetLimit(gradeAllParallel)

	for _, entry := range entries {
		if entry.IsDir() || !isSubmission(entry.Name()) {
			continue
		}
		path := filepath.Join(gradeAllDir, entry.Name())
		student := studentFromFilename(entry.Name())

		g.Go(func() error {
			run, err := gradeOne(eng, student, path, gradeAllExpected, false)
			if err != nil {
				return fmt.Errorf("%s: %w", student, err)
			}
			if !run.Failed() {
				out := filepath.Join(gradeAllOutDir, student+".json")
				if err := writeReport(run.Report, out); err != nil {
					return fmt.Errorf("%s: %w", student, err)
				}
			} else {
				logger.Warn("run failed",
					zap.String("student", student), zap.Error(run.Err))
			}
			mu.Lock()
			results = append(results, graded{
				student: student,
				passed:  run.Report.Passed,
				failed:  run.Failed(),
				score:   run.Report.TotalScore,
				max:     run.Report.MaxScore,
			})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	gateFailures := 0
	for _, r := range results {
		switch {
		case r.failed:
			fmt.Printf("%s %s: run failed\n", failStyle.Render("✗"), r.student)
			gateFailures++
		case r.max > 0:
			fmt.Printf("  %s: %.2f/%.2f\n", r.student, r.score, r.max)
		default:
			fmt.Printf("  %s: %.2f%%\n", r.student, r.score)
		}
	}
	fmt.Printf("graded %d submissions\n", len(results))
	if gateFailures > 0 {
		return fmt.Errorf("%d grading runs failed", gateFailures)
	}
	return nil
}

func isSubmission(name string) bool {
	return strings.HasSuffix(name, ".ipynb") || strings.HasSuffix(name, ".ipynb.enc")
}

func studentFromFilename(name string) string {
	name = strings.TrimSuffix(name, ".enc")
	return strings.TrimSuffix(name, ".ipynb")
}

// reportScoreLine is shared with the watch command's log output.
func reportScoreLine(rep types.GradeReport) string {
	if rep.MaxScore > 0 && rep.Format == types.FormatEnhanced {
		return fmt.Sprintf("%.2f/%.2f points", rep.TotalScore, rep.MaxScore)
	}
	return fmt.Sprintf("%.2f%%", rep.TotalScore)
}
