package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hakim/readyscan/internal/models"
	"github.com/hakim/readyscan/internal/pipeline"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the state of a scan job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		job, err := a.orch.Status(args[0])
		if errors.Is(err, pipeline.ErrJobNotFound) {
			return fmt.Errorf("no job with ID %s", args[0])
		}
		if err != nil {
			return err
		}

		fmt.Printf("Job:       %s\n", job.ID)
		fmt.Printf("Status:    %s\n", job.Status)
		fmt.Printf("Source:    %s (%s)\n", job.Source.Location(), job.Source.Kind)
		if job.Source.Preset != "" {
			fmt.Printf("Preset:    %s\n", job.Source.Preset)
		}
		fmt.Printf("Created:   %s\n", job.CreatedAt.Format(time.RFC3339))
		if job.StartedAt != nil {
			fmt.Printf("Started:   %s\n", job.StartedAt.Format(time.RFC3339))
		}
		if job.CompletedAt != nil {
			fmt.Printf("Finished:  %s\n", job.CompletedAt.Format(time.RFC3339))
		}
		fmt.Printf("Stages:    %s\n", formatStages(job.StagesRun))
		if job.Status == models.StatusFailed {
			fmt.Printf("Error:     %s\n", job.Error)
		}
		if job.ReportID != "" {
			fmt.Printf("Report:    %s\n", job.ReportID)
		}
		return nil
	},
}

// formatStages joins the StagesRun slice into a comma-separated string.
// Returns "-" when no stages are recorded.
func formatStages(stages []string) string {
	if len(stages) == 0 {
		return "-"
	}
	return strings.Join(stages, ", ")
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
