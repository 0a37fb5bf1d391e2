package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/hakim/readyscan/internal/diff"
	"github.com/hakim/readyscan/internal/models"
	"github.com/hakim/readyscan/internal/pipeline"
	"github.com/hakim/readyscan/internal/report"
	"github.com/spf13/cobra"
)

var diffCmd = &cobra.Command{
	Use:   "diff [previous] [current]",
	Short: "Compare two reports and show what changed",
	Long: `Compare two readiness reports: new and resolved findings, score change and
control status transitions.

Each argument is a job ID from the database or a path to a JSON report file.
With --source and no arguments the two most recent completed scans of that
source are compared.

Results are written to --output (markdown) and optionally --json.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")
		output, _ := cmd.Flags().GetString("output")
		jsonOut, _ := cmd.Flags().GetString("json")

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		var previous, current *models.Report
		switch {
		case len(args) == 2:
			if previous, err = loadReport(a.orch, args[0]); err != nil {
				return err
			}
			if current, err = loadReport(a.orch, args[1]); err != nil {
				return err
			}
		case len(args) == 0 && source != "":
			previous, current, err = latestPair(a.orch, source)
			if err != nil {
				return err
			}
			if previous == nil {
				fmt.Printf("[!] No previous scan found for comparison\n")
				return nil
			}
		default:
			return errors.New("pass two job IDs or report files, or --source")
		}

		fmt.Printf("[*] Previous: %s (%d/100, %d findings)\n", previous.ID, previous.Score.OverallScore, len(previous.Findings))
		fmt.Printf("[*] Current:  %s (%d/100, %d findings)\n", current.ID, current.Score.OverallScore, len(current.Findings))

		result := diff.Compare(previous, current)

		if output != "" {
			if err := report.WriteDiffReport(result, output); err != nil {
				// Warn but do not abort; the summary is still printed below
				fmt.Printf("[!] Warning: failed to write diff report: %v\n", err)
			} else {
				fmt.Printf("[+] Diff report written to %s\n", output)
			}
		}
		if jsonOut != "" {
			data, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling diff result: %w", err)
			}
			if err := os.WriteFile(jsonOut, data, 0644); err != nil {
				return fmt.Errorf("writing %s: %w", jsonOut, err)
			}
			fmt.Printf("[+] Diff JSON written to %s\n", jsonOut)
		}

		fmt.Println()
		if result.Empty() {
			fmt.Println("[+] No changes detected")
			return nil
		}
		fmt.Printf("[+] Diff complete!\n")
		fmt.Printf("    Score:     %d -> %d (%+d)\n", result.PreviousScore, result.CurrentScore, result.ScoreDelta)
		fmt.Printf("    Findings:  +%d new, -%d resolved\n", len(result.NewFindings), len(result.ResolvedFindings))
		improved, regressed := 0, 0
		for _, c := range result.ControlChanges {
			if c.Improved() {
				improved++
			} else {
				regressed++
			}
		}
		fmt.Printf("    Controls:  %d improved, %d regressed\n", improved, regressed)
		return nil
	},
}

// loadReport reads a report file when arg names one, otherwise fetches the
// report of the job with that ID.
func loadReport(orch *pipeline.Orchestrator, arg string) (*models.Report, error) {
	if _, err := os.Stat(arg); err == nil {
		return diff.LoadReport(arg)
	}
	r, err := orch.PollReport(arg)
	if err != nil {
		return nil, fmt.Errorf("loading report %s: %w", arg, err)
	}
	return r, nil
}

// latestPair returns the two most recent completed reports for source.
// previous is nil when fewer than two exist.
func latestPair(orch *pipeline.Orchestrator, source string) (previous, current *models.Report, err error) {
	jobs, err := orch.History(source)
	if err != nil {
		return nil, nil, fmt.Errorf("listing scans: %w", err)
	}

	var reports []*models.Report
	for _, job := range jobs {
		if job.Status != models.StatusCompleted {
			continue
		}
		r, err := orch.PollReport(job.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("loading report %s: %w", job.ID, err)
		}
		reports = append(reports, r)
		if len(reports) == 2 {
			break
		}
	}

	switch len(reports) {
	case 0:
		return nil, nil, fmt.Errorf("no completed scans for %s", source)
	case 1:
		return nil, reports[0], nil
	}
	// jobs are newest first
	return reports[1], reports[0], nil
}

func init() {
	diffCmd.Flags().String("source", "", "compare the two latest scans of this path or repository URL")
	diffCmd.Flags().StringP("output", "o", "", "write the markdown diff report to this file")
	diffCmd.Flags().String("json", "", "write the structured diff result to this file")
	rootCmd.AddCommand(diffCmd)
}
