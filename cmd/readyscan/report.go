package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/hakim/readyscan/internal/pipeline"
	"github.com/hakim/readyscan/internal/report"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report <job-id>",
	Short: "Print or export the report of a completed job",
	Long: `Fetch the stored report for a job. The report is printed as markdown by
default; --format json prints the full data contract. With --output the
rendering is written to a file instead of stdout.

A job that is still running reports "not ready"; a failed job prints its
failure reason.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.orch.PollReport(args[0])
		var failed *pipeline.JobFailedError
		switch {
		case errors.Is(err, pipeline.ErrNotReady):
			fmt.Printf("[*] Job %s is still running, try again later\n", args[0])
			return nil
		case errors.Is(err, pipeline.ErrJobNotFound):
			return fmt.Errorf("no report for job %s", args[0])
		case errors.As(err, &failed):
			return fmt.Errorf("job %s failed: %s", args[0], failed.Reason)
		case err != nil:
			return err
		}

		var content string
		switch format {
		case "json":
			data, err := json.MarshalIndent(r, "", "  ")
			if err != nil {
				return fmt.Errorf("encoding report: %w", err)
			}
			content = string(data) + "\n"
		case "md", "markdown":
			content = report.RenderMarkdown(r)
		default:
			return fmt.Errorf("unknown format %q, use md or json", format)
		}

		if output == "" {
			fmt.Print(content)
			return nil
		}
		if err := os.WriteFile(output, []byte(content), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", output, err)
		}
		fmt.Printf("[+] Report written to %s\n", output)
		return nil
	},
}

func init() {
	reportCmd.Flags().String("format", "md", "output format: md or json")
	reportCmd.Flags().StringP("output", "o", "", "write to this file instead of stdout")
	rootCmd.AddCommand(reportCmd)
}
