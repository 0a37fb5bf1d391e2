package main

import (
	"fmt"

	"github.com/hakim/readyscan/internal/models"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show scan history",
	Long: `Display a formatted table of past scan jobs, newest first.

With --source only jobs for that path or repository URL are listed. Each row
shows the job ID (truncated), creation time, status, score when completed and
which stages ran.

Use --limit to cap the number of rows shown (default: 10).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		var jobs []*models.ScanJob
		if source != "" {
			jobs, err = a.orch.History(source)
		} else {
			jobs, err = a.orch.ListJobs()
		}
		if err != nil {
			return fmt.Errorf("listing jobs: %w", err)
		}

		if len(jobs) == 0 {
			fmt.Println("No scan history found")
			return nil
		}
		if limit > 0 && len(jobs) > limit {
			jobs = jobs[:limit]
		}

		scores := map[string]models.ReportSummary{}
		if summaries, err := a.orch.ListReportSummaries(); err == nil {
			for _, s := range summaries {
				scores[s.JobID] = s
			}
		}

		const separator = "────────────────────────────────────────────────────────────────────────────────"

		fmt.Println()
		fmt.Println("Scan History")
		fmt.Println(separator)
		fmt.Printf("  %-3s  %-12s  %-17s  %-10s  %-7s  %s\n", "#", "Job ID", "Created", "Status", "Score", "Source")
		fmt.Println(separator)

		for i, job := range jobs {
			score := "-"
			if s, ok := scores[job.ID]; ok {
				score = fmt.Sprintf("%d %s", s.OverallScore, s.Grade)
			}
			fmt.Printf("  %-3d  %-12s  %-17s  %-10s  %-7s  %s\n",
				i+1, shortID(job.ID), job.CreatedAt.UTC().Format("2006-01-02 15:04"), job.Status, score, job.Source.Location())
		}

		fmt.Println(separator)
		fmt.Printf("Total: %d job(s)\n\n", len(jobs))
		return nil
	},
}

func init() {
	historyCmd.Flags().String("source", "", "only show jobs for this path or repository URL")
	historyCmd.Flags().Int("limit", 10, "Maximum number of jobs to display")
	rootCmd.AddCommand(historyCmd)
}
