// Package main implements the nbgrade CLI.
//
// nbgrade grades computational-notebook coursework: it executes a
// submitted notebook in a sandbox, extracts the JSON values it printed,
// compares them against an instructor-authored expectation file and emits
// a scored report. Student submissions are encrypted per student while
// they sit in intermediate storage; the keys subcommands manage those
// keys.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"nbgrade/internal/config"
	"nbgrade/internal/crypt"
	"nbgrade/internal/engine"
	"nbgrade/internal/keystore"
	"nbgrade/internal/notebook"
	"nbgrade/internal/notebook/gocell"
	"nbgrade/internal/notebook/kernel"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Logger
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "nbgrade",
	Short: "nbgrade - notebook grading engine",
	Long: `nbgrade executes submitted notebooks in isolation, extracts their JSON
outputs and scores them against an expectation file (legacy value lists or
enhanced per-test-case specs with tolerance and relational operators).

Submissions are protected with one encryption key per student while they
travel through intermediate storage; see the keys, encrypt and decrypt
subcommands.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		zcfg.Encoding = "console"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		} else {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "nbgrade.yaml", "path to config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// cmdContext returns a context cancelled by SIGINT/SIGTERM so a hung
// sandbox dies with the CLI.
func cmdContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctx
}

// loadConfig loads the configured YAML file with env overrides applied.
func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// openKeystore builds the configured key store backend. The returned
// cleanup is a no-op for backends without resources to release.
func openKeystore(cfg *config.Config) (keystore.Store, func(), error) {
	switch cfg.Keys.Backend {
	case "sqlite":
		s, err := keystore.NewSQLite(cfg.Keys.Database)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		s, err := keystore.NewDir(cfg.Keys.Dir)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	}
}

// buildSandbox selects the configured execution sandbox.
func buildSandbox(cfg *config.Config) notebook.Sandbox {
	if cfg.Sandbox.Kind == "gocell" {
		return gocell.New()
	}
	return kernel.New(cfg.Sandbox.Command, logger)
}

// buildEngine wires a full grading engine from the config.
func buildEngine(cfg *config.Config) (*engine.Engine, *crypt.Manager, func(), error) {
	store, cleanup, err := openKeystore(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	cm := crypt.NewManager(store, crypt.WithLogger(logger))
	exec := notebook.NewExecutor(buildSandbox(cfg), logger)
	eng := engine.New(cm, exec, engine.Config{
		Timeout: time.Duration(cfg.Grading.TimeoutSeconds) * time.Second,
	}, logger)
	return eng, cm, cleanup, nil
}
