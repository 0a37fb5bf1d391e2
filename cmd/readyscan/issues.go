package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/hakim/readyscan/internal/issues"
	"github.com/hakim/readyscan/internal/pipeline"
	"github.com/spf13/cobra"
)

var issuesCmd = &cobra.Command{
	Use:   "issues <job-id>",
	Short: "File GitHub issues for a report's recommendations",
	Long: `Open one GitHub issue per recommendation of a completed git scan. Each
issue is labelled with its severity and control and assigned to the login
configured for that control under issues.assignees.

The token comes from issues.token (READYSCAN_ISSUES_TOKEN) or GITHUB_TOKEN.
Use --finding to file selected recommendations only and --dry-run to print
the issues without calling GitHub.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		findingIDs, _ := cmd.Flags().GetStringSlice("finding")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.orch.PollReport(args[0])
		var failed *pipeline.JobFailedError
		switch {
		case errors.Is(err, pipeline.ErrNotReady):
			return fmt.Errorf("job %s is still running", args[0])
		case errors.Is(err, pipeline.ErrJobNotFound):
			return fmt.Errorf("no report for job %s", args[0])
		case errors.As(err, &failed):
			return fmt.Errorf("job %s failed: %s", args[0], failed.Reason)
		case err != nil:
			return err
		}

		client := issues.New(cfg.Issues, log)

		if dryRun {
			drafts, err := client.Drafts(r, a.orch.Catalog(), findingIDs)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "Finding\tAssignee\tTitle")
			fmt.Fprintln(w, "-------\t--------\t-----")
			for _, d := range drafts {
				fmt.Fprintf(w, "%s\t%s\t%s\n", shortID(d.FindingID), orNone(d.Assignee), d.Title)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("\n[*] Dry run: %d issue(s) not filed\n", len(drafts))
			return nil
		}

		token := cfg.Issues.Token
		if token == "" {
			token = os.Getenv("GITHUB_TOKEN")
		}
		filed, err := client.FileReport(cmd.Context(), r, a.orch.Catalog(), findingIDs, token)
		if err != nil {
			return err
		}

		failures := 0
		for _, is := range filed {
			if is.Error != "" {
				failures++
				fmt.Printf("[!] %s: %s\n", is.Title, is.Error)
				continue
			}
			fmt.Printf("[+] #%d %s (%s) %s\n", is.Number, is.Title, orNone(is.Assignee), is.URL)
		}
		if failures > 0 {
			return fmt.Errorf("%d of %d issue(s) could not be filed", failures, len(filed))
		}
		fmt.Printf("[+] Filed %d issue(s)\n", len(filed))
		return nil
	},
}

func orNone(s string) string {
	if s == "" {
		return "unassigned"
	}
	return s
}

func init() {
	issuesCmd.Flags().StringSlice("finding", nil, "finding IDs to file (default: every recommendation)")
	issuesCmd.Flags().Bool("dry-run", false, "print the issues without filing them")
	rootCmd.AddCommand(issuesCmd)
}
