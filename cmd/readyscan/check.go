package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/hakim/readyscan/internal/controls"
	"github.com/hakim/readyscan/internal/judge"
	"github.com/hakim/readyscan/internal/scanner"
	"github.com/hakim/readyscan/internal/scoring"
	"github.com/spf13/cobra"
)

// checkResult is one row of the check table.
type checkResult struct {
	name     string
	ok       bool
	detail   string
	required bool
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate configuration, rules, catalog and judge settings",
	Long: `Verify that the configuration can drive a scan: scanner rules compile,
the control catalog and mapping are consistent, scoring parameters are valid
and the judge provider can be constructed.

A disabled judge is reported but is not an error; scans then keep every finding.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		results := runChecks(cmd.Context())

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "Check\tStatus\tDetail")
		fmt.Fprintln(w, "-----\t------\t------")

		failed := 0
		for _, r := range results {
			status := "[+]"
			if !r.ok {
				status = "[-]"
				if r.required {
					failed++
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.name, status, r.detail)
		}
		w.Flush()

		fmt.Println()
		fmt.Printf("Summary: %d/%d checks passed\n", len(results)-failed, len(results))
		if failed > 0 {
			return fmt.Errorf("%d required checks failed", failed)
		}
		return nil
	},
}

func runChecks(ctx context.Context) []checkResult {
	if ctx == nil {
		ctx = context.Background()
	}
	var results []checkResult

	rules, err := scanner.LoadRules(cfg.Scanners.RulesFile)
	if err != nil {
		results = append(results, checkResult{name: "rules", detail: err.Error(), required: true})
	} else {
		detail := fmt.Sprintf("%d secret, %d static patterns", len(rules.Secrets), len(rules.Static))
		if cfg.Scanners.RulesFile != "" {
			detail += " (with " + cfg.Scanners.RulesFile + ")"
		}
		results = append(results, checkResult{name: "rules", ok: true, detail: detail, required: true})

		if _, err := scanner.Build(cfg.Scanners.Enabled, rules); err != nil {
			results = append(results, checkResult{name: "scanners", detail: err.Error(), required: true})
		} else {
			results = append(results, checkResult{name: "scanners", ok: true, detail: strings.Join(cfg.Scanners.Enabled, ", "), required: true})
		}
	}

	catalog, err := controls.NewCatalog(cfg.Controls)
	if err != nil {
		results = append(results, checkResult{name: "catalog", detail: err.Error(), required: true})
	} else {
		results = append(results, checkResult{name: "catalog", ok: true, detail: fmt.Sprintf("%d controls", catalog.Len()), required: true})
		if _, err := controls.NewMapper(catalog, cfg.Mapping); err != nil {
			results = append(results, checkResult{name: "mapping", detail: err.Error(), required: true})
		} else {
			results = append(results, checkResult{name: "mapping", ok: true, detail: fmt.Sprintf("%d overrides", len(cfg.Mapping)), required: true})
		}
	}

	if _, err := scoring.NewEngine(cfg.Scoring); err != nil {
		results = append(results, checkResult{name: "scoring", detail: err.Error(), required: true})
	} else {
		results = append(results, checkResult{name: "scoring", ok: true,
			detail: fmt.Sprintf("base %.2f / coverage %.2f, cap %d", cfg.Scoring.BaseWeight, cfg.Scoring.CoverageWeight, cfg.Scoring.DeductionCap),
			required: true})
	}

	switch j, err := judge.New(ctx, cfg.Judge); {
	case err != nil:
		results = append(results, checkResult{name: "judge", detail: err.Error(), required: true})
	case j == nil:
		results = append(results, checkResult{name: "judge", detail: "disabled (no provider or API key), findings are kept unfiltered"})
	default:
		results = append(results, checkResult{name: "judge", ok: true, detail: cfg.Judge.Provider, required: true})
	}

	return results
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
