// This file contains the watch command: grade submissions continuously as
// they land in an inbox directory.
package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	watchDir      string
	watchExpected string
	watchOutDir   string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a directory and grade submissions as they arrive",
	Long: `Watches the inbox directory and grades each new *.ipynb or *.ipynb.enc
file against the expectation file, writing one JSON report per student.
Runs until interrupted.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchDir, "dir", "d", "inbox", "directory to watch")
	watchCmd.Flags().StringVarP(&watchExpected, "expected", "e", "", "path to the expectation file (required)")
	watchCmd.Flags().StringVar(&watchOutDir, "out-dir", "reports", "directory for JSON reports")
	_ = watchCmd.MarkFlagRequired("expected")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, _, cleanup, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(watchDir); err != nil {
		return fmt.Errorf("watch %s: %w", watchDir, err)
	}
	fmt.Printf("watching %s (ctrl-c to stop)\n", watchDir)

	ctx := cmdContext()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", zap.Error(err))
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			name := filepath.Base(event.Name)
			if !isSubmission(name) {
				continue
			}
			// Give the writer a moment to finish the file; submission
			// drops are scp/rsync style, not streaming appends.
			time.Sleep(200 * time.Millisecond)

			student := studentFromFilename(name)
			run, err := gradeOne(eng, student, event.Name, watchExpected, false)
			if err != nil {
				logger.Error("grading failed", zap.String("student", student), zap.Error(err))
				continue
			}
			if run.Failed() {
				fmt.Printf("%s %s: %v\n", failStyle.Render("✗"), student, run.Err)
				continue
			}
			out := filepath.Join(watchOutDir, student+".json")
			if err := writeReport(run.Report, out); err != nil {
				logger.Error("writing report failed", zap.String("student", student), zap.Error(err))
				continue
			}
			fmt.Printf("%s %s: %s -> %s\n", passStyle.Render("✓"), student, reportScoreLine(run.Report), out)
		}
	}
}
