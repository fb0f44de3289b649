package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"complyd/internal/platform/config"
	"complyd/internal/platform/logger"
)

var rootCmd = &cobra.Command{
	Use:   "complyd",
	Short: "Compliance evidence validation engine",
	Long: `complyd fetches compliance evidence, resolves the policies it must satisfy,
evaluates every rule with an external reasoning service and aggregates the
verdicts into an auditable decision.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and builds the process logger.
func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)
	return cfg, log, nil
}
