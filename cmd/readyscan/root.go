package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hakim/readyscan/internal/config"
	"github.com/hakim/readyscan/internal/logger"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
	log     *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "readyscan",
	Short: "Compliance readiness scanner for source repositories",
	Long: `ReadyScan scans a local directory or git repository for leaked secrets,
insecure code patterns, risky dependencies and infrastructure misconfigurations.

Findings are optionally reviewed by an AI judge to drop false positives, mapped
onto a compliance control catalog and rolled up into a reproducible readiness
score with a prioritized remediation list.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for commands that don't need it
		skipConfig := map[string]bool{
			"init":    true,
			"help":    true,
			"version": true,
		}

		if skipConfig[cmd.Name()] {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		level := cfg.Log.Level
		if verbose {
			level = "debug"
		}
		log = logger.New(logger.Config{Level: level, Format: cfg.Log.Format})
		return nil
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: search ./readyscan.yaml, ./configs, ~/.config/readyscan)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "verbose output")

	rootCmd.Version = "0.1.0-dev"
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context so running scans end as canceled.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
