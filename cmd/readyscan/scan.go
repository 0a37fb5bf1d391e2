package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hakim/readyscan/internal/models"
	"github.com/hakim/readyscan/internal/pipeline"
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan a directory or git repository and print its readiness score",
	Long: `Run a complete scan in this process and wait for the report.

Exactly one of --path or --url selects the source. A named preset restricts
which scanners run. The job is recorded in the configured database so that
history, report and diff work across runs.

Rendered reports are saved to:
  {report_dir}/{source}_{timestamp}/{job_id}_report.json
  {report_dir}/{source}_{timestamp}/{job_id}_report.md

Examples:
  readyscan scan --path ./my-service
  readyscan scan --url https://github.com/acme/api.git --ref main
  readyscan scan --path . --preset secrets-only --fail-under 80`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// ── 1. Read all flags ──────────────────────────────────────────────────
		path, _ := cmd.Flags().GetString("path")
		url, _ := cmd.Flags().GetString("url")
		ref, _ := cmd.Flags().GetString("ref")
		presetName, _ := cmd.Flags().GetString("preset")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		interval, _ := cmd.Flags().GetDuration("poll-interval")
		failUnder, _ := cmd.Flags().GetInt("fail-under")
		webhookURL, _ := cmd.Flags().GetString("notify-webhook")

		src, err := sourceFromFlags(path, url, ref, presetName)
		if err != nil {
			return err
		}
		if webhookURL != "" {
			cfg.Notify.WebhookURL = webhookURL
		}

		// ── 2. Build the orchestrator ──────────────────────────────────────────
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if src.Preset != "" {
			preset, _ := pipeline.GetPreset(src.Preset)
			if preset != nil {
				fmt.Printf("[*] Using preset: %s (%s)\n", preset.Name, preset.Description)
			}
		}

		// ── 3. Start the job ───────────────────────────────────────────────────
		id, err := a.orch.StartScan(ctx, src)
		if err != nil {
			return fmt.Errorf("starting scan: %w", err)
		}
		fmt.Printf("[*] Scan job %s started for %s\n", id, src.Location())

		// ── 4. Poll until the report is ready ──────────────────────────────────
		r, err := pollUntilDone(ctx, a.orch, id, timeout, interval)
		if err != nil {
			return err
		}

		// ── 5. Print final summary ─────────────────────────────────────────────
		printReportSummary(r)

		if failUnder > 0 && r.Score.OverallScore < failUnder {
			return fmt.Errorf("readiness score %d is below the required %d", r.Score.OverallScore, failUnder)
		}
		return nil
	},
}

// sourceFromFlags turns the mutually exclusive source flags into a
// descriptor. The git token comes from the environment so it never appears
// in shell history.
func sourceFromFlags(path, url, ref, preset string) (models.SourceDescriptor, error) {
	switch {
	case path != "" && url != "":
		return models.SourceDescriptor{}, errors.New("use either --path or --url, not both")
	case url != "":
		return models.SourceDescriptor{
			Kind:   models.SourceGit,
			URL:    url,
			Ref:    ref,
			Preset: preset,
			Token:  os.Getenv("READYSCAN_GIT_TOKEN"),
		}, nil
	case path != "":
		return models.SourceDescriptor{Kind: models.SourceLocal, Path: path, Preset: preset}, nil
	default:
		return models.SourceDescriptor{}, errors.New("one of --path or --url is required")
	}
}

// pollUntilDone polls the job until it completes, fails or the deadline
// passes. Polling stays on the client side; PollReport never blocks.
func pollUntilDone(ctx context.Context, orch *pipeline.Orchestrator, id string, timeout, interval time.Duration) (*models.Report, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	lastStage := ""
	for {
		r, err := orch.PollReport(id)
		switch {
		case err == nil:
			fmt.Printf("[+] Scan complete (%s)\n", time.Since(start).Round(time.Millisecond))
			return r, nil
		case errors.Is(err, pipeline.ErrNotReady):
			if job, err := orch.Status(id); err == nil && len(job.StagesRun) > 0 {
				if stage := job.StagesRun[len(job.StagesRun)-1]; stage != lastStage {
					fmt.Printf("[*] Stage %s complete\n", stage)
					lastStage = stage
				}
			}
		default:
			var failed *pipeline.JobFailedError
			if errors.As(err, &failed) {
				return nil, fmt.Errorf("scan failed: %s", failed.Reason)
			}
			return nil, err
		}

		select {
		case <-ctx.Done():
			if cancelErr := orch.Cancel(id); cancelErr != nil && !errors.Is(cancelErr, pipeline.ErrJobFinished) {
				fmt.Printf("[!] Warning: could not cancel job: %v\n", cancelErr)
			}
			return nil, fmt.Errorf("waiting for job %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

func printReportSummary(r *models.Report) {
	fmt.Println()
	fmt.Printf("    Job ID:    %s\n", r.ID)
	fmt.Printf("    Source:    %s\n", r.Metadata.Source)
	fmt.Printf("    Score:     %d/100 (grade %s)\n", r.Score.OverallScore, r.Score.Grade)
	fmt.Printf("    Controls:  %d/%d compliant\n", r.Score.ControlsCompliant, r.Score.ControlsTotal)
	fmt.Printf("    Findings:  %d (%s)\n", len(r.Findings), severityBreakdown(r.Score.SeverityImpact.Counts))
	fmt.Printf("    Risk:      %s\n", r.Analysis.RiskAssessment)

	if len(r.Analysis.Notes) > 0 {
		fmt.Println()
		for _, n := range r.Analysis.Notes {
			fmt.Printf("[!] %s\n", n)
		}
	}

	if len(r.Recommendations) > 0 {
		fmt.Println()
		fmt.Println("Top recommendations:")
		for i, rec := range r.Recommendations {
			fmt.Printf("  %d. [%s] %s:%d %s\n", i+1, strings.ToUpper(string(rec.Priority)), rec.FilePath, rec.Line, rec.Message)
		}
	}

	fmt.Println()
	fmt.Printf("Run 'readyscan report %s' for the full report.\n", r.ID)
}

func severityBreakdown(counts map[models.Severity]int) string {
	parts := make([]string, 0, len(models.Severities))
	for _, sev := range models.Severities {
		parts = append(parts, fmt.Sprintf("%s %d", sev, counts[sev]))
	}
	return strings.Join(parts, ", ")
}

func init() {
	scanCmd.Flags().String("path", "", "local directory to scan")
	scanCmd.Flags().String("url", "", "git repository URL to clone and scan (token from READYSCAN_GIT_TOKEN)")
	scanCmd.Flags().String("ref", "", "git branch or tag (default: remote HEAD)")
	scanCmd.Flags().String("preset", "", "scanner preset: "+strings.Join(pipeline.PresetNames(), ", "))
	scanCmd.Flags().Duration("timeout", 30*time.Minute, "maximum time to wait for the report")
	scanCmd.Flags().Duration("poll-interval", 500*time.Millisecond, "report polling interval")
	scanCmd.Flags().Int("fail-under", 0, "exit non-zero when the readiness score is below this value")
	scanCmd.Flags().String("notify-webhook", "", "POST a completion event to this URL")
	rootCmd.AddCommand(scanCmd)
}
