package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hakim/readyscan/internal/config"
	"github.com/hakim/readyscan/internal/storage"
	"github.com/spf13/cobra"
)

var (
	initForce bool
	initDir   string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize readyscan with default configuration",
	Long: `Creates a default configuration file (readyscan.yaml), the report output
directory and the job database.

The generated file lists every tunable: enabled scanners, judge provider,
scoring weights and grade thresholds, and the control catalog.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := filepath.Join(initDir, "readyscan.yaml")

		// Check if config already exists
		if _, err := os.Stat(configPath); err == nil && !initForce {
			return fmt.Errorf("config file already exists at %s. Use --force to overwrite", configPath)
		}

		if err := storage.EnsureDir(initDir); err != nil {
			return fmt.Errorf("failed to create %s: %w", initDir, err)
		}
		if err := config.WriteDefault(configPath); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}
		fmt.Printf("[+] Created %s with default configuration\n", configPath)

		// Load the config we just created to get paths
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		reportDir := resolve(initDir, loaded.ReportDir)
		if err := storage.EnsureDir(reportDir); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
		fmt.Printf("[+] Created report directory: %s\n", reportDir)

		dbPath := resolve(initDir, loaded.DBPath)
		store, err := storage.Open(dbPath)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer store.Close()
		fmt.Printf("[+] Initialized database: %s\n", dbPath)

		fmt.Println()
		fmt.Println("ReadyScan initialized successfully!")
		fmt.Println("Run 'readyscan check' to verify the configuration.")

		return nil
	},
}

// resolve joins a relative config path onto the init directory.
func resolve(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite existing config file")
	initCmd.Flags().StringVar(&initDir, "dir", ".", "output directory")
	rootCmd.AddCommand(initCmd)
}
