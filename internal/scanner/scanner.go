// Package scanner runs the pattern scanners over a file snapshot.
package scanner

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/hakim/readyscan/internal/logger"
	"github.com/hakim/readyscan/internal/models"
	"github.com/hakim/readyscan/internal/source"
	"github.com/sourcegraph/conc"
)

// Scanner inspects one file at a time. Implementations are stateless and
// safe for concurrent use.
type Scanner interface {
	Kind() models.ScannerKind
	Name() string
	Version() string
	Scan(file source.File) ([]models.Finding, error)
}

// Result is the merged output of every scanner for one snapshot.
type Result struct {
	Findings     []models.Finding
	Errors       []models.ScannerError
	Versions     map[string]string
	Counts       map[models.ScannerKind]int
	FilesScanned int
}

// Build returns the scanners named in enabled, in canonical kind order.
// An empty list enables every scanner.
func Build(enabled []string, rules *RuleSet) ([]Scanner, error) {
	want := make(map[models.ScannerKind]bool, len(enabled))
	for _, name := range enabled {
		kind := models.ScannerKind(strings.ToLower(name))
		if !kind.Valid() {
			return nil, fmt.Errorf("unknown scanner %q", name)
		}
		want[kind] = true
	}

	var out []Scanner
	for _, kind := range models.ScannerKinds {
		if len(want) > 0 && !want[kind] {
			continue
		}
		switch kind {
		case models.KindSecret:
			out = append(out, NewSecretScanner(rules))
		case models.KindStatic:
			out = append(out, NewStaticScanner(rules))
		case models.KindDependency:
			out = append(out, NewDependencyScanner(rules))
		case models.KindIaC:
			out = append(out, NewIaCScanner())
		}
	}
	return out, nil
}

// Run executes every scanner concurrently over the same snapshot and waits
// for all of them. Per-file failures are recorded in Result.Errors and never
// abort the run. Findings are sorted deterministically and not deduplicated.
func Run(ctx context.Context, snap *source.Snapshot, scanners []Scanner, log *logger.Logger) (*Result, error) {
	type partial struct {
		findings []models.Finding
		errs     []models.ScannerError
	}
	parts := make([]partial, len(scanners))

	var wg conc.WaitGroup
	for i, s := range scanners {
		wg.Go(func() {
			var p partial
			for _, f := range snap.Files {
				if ctx.Err() != nil {
					return
				}
				found, err := scanFile(s, f)
				if err != nil {
					log.Warn("skipping file", "scanner", s.Name(), "file", f.Path, "error", err)
					p.errs = append(p.errs, *models.NewScannerError(s.Name(), f.Path, err))
					continue
				}
				p.findings = append(p.findings, found...)
			}
			parts[i] = p
		})
	}
	if r := wg.WaitAndRecover(); r != nil {
		return nil, fmt.Errorf("scanner crashed: %v", r.Value)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{
		Findings:     []models.Finding{},
		Versions:     make(map[string]string, len(scanners)),
		Counts:       make(map[models.ScannerKind]int, len(scanners)),
		FilesScanned: len(snap.Files),
	}
	for i, s := range scanners {
		res.Versions[s.Name()] = s.Version()
		res.Counts[s.Kind()] += len(parts[i].findings)
		res.Findings = append(res.Findings, parts[i].findings...)
		res.Errors = append(res.Errors, parts[i].errs...)
	}

	sort.SliceStable(res.Findings, func(i, j int) bool {
		return models.Less(res.Findings[i], res.Findings[j])
	})
	sort.SliceStable(res.Errors, func(i, j int) bool {
		if res.Errors[i].File != res.Errors[j].File {
			return res.Errors[i].File < res.Errors[j].File
		}
		return res.Errors[i].Scanner < res.Errors[j].Scanner
	})
	return res, nil
}

// scanFile converts a scanner panic into an ordinary per-file error.
func scanFile(s Scanner, f source.File) (found []models.Finding, err error) {
	defer func() {
		if r := recover(); r != nil {
			found, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Scan(f)
}

// lines splits content into lines without trailing carriage returns.
func lines(content []byte) []string {
	out := strings.Split(string(content), "\n")
	for i, l := range out {
		out[i] = strings.TrimSuffix(l, "\r")
	}
	return out
}

// snippet returns the trimmed, length-limited text of 1-based line n.
func snippet(all []string, n int) string {
	if n < 1 || n > len(all) {
		return ""
	}
	s := strings.TrimSpace(all[n-1])
	if r := []rune(s); len(r) > 120 {
		s = string(r[:120])
	}
	return s
}

// lineOf returns the 1-based line of the first occurrence of needle, or 0.
func lineOf(content, needle string) int {
	i := strings.Index(content, needle)
	if i < 0 {
		return 0
	}
	return strings.Count(content[:i], "\n") + 1
}

func baseName(p string) string {
	return strings.ToLower(path.Base(p))
}
