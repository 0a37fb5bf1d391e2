// Package judge asks an external model whether scanner findings are false
// positives.
package judge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrUnavailable = errors.New("judge unavailable")
	ErrTimeout     = errors.New("judge timed out")
	ErrMalformed   = errors.New("judge response malformed")
	ErrRateLimited = errors.New("judge rate limited")
)

// Candidate is the view of a finding sent to the judge.
type Candidate struct {
	ID       string `json:"finding_id"`
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Line     int    `json:"line"`
	Message  string `json:"message"`
	Snippet  string `json:"snippet,omitempty"`
}

// FileContext gives the judge the surrounding code of one file.
type FileContext struct {
	Path    string
	Excerpt string
}

// Verdict is the judge's decision for one candidate.
type Verdict struct {
	FindingID       string `json:"finding_id"`
	IsFalsePositive bool   `json:"is_false_positive"`
	Reason          string `json:"reason"`
}

// Judge validates every candidate of one file in a single call. It returns
// ErrUnavailable, ErrTimeout, ErrRateLimited or ErrMalformed (possibly
// wrapped) on failure.
type Judge interface {
	Validate(ctx context.Context, file FileContext, candidates []Candidate) ([]Verdict, error)
}

// BuildExcerpt renders numbered lines around each target line. Windows are
// merged and the output is capped at maxLines lines.
func BuildExcerpt(content []byte, targets []int, radius, maxLines int) string {
	all := strings.Split(string(content), "\n")
	if len(all) == 0 || maxLines <= 0 {
		return ""
	}

	sorted := append([]int(nil), targets...)
	sort.Ints(sorted)

	type window struct{ from, to int }
	var windows []window
	for _, t := range sorted {
		if t < 1 {
			t = 1
		}
		from, to := max(1, t-radius), min(len(all), t+radius)
		if n := len(windows); n > 0 && from <= windows[n-1].to+1 {
			windows[n-1].to = max(windows[n-1].to, to)
			continue
		}
		windows = append(windows, window{from, to})
	}

	var b strings.Builder
	written := 0
	for i, w := range windows {
		if i > 0 {
			b.WriteString("...\n")
		}
		for n := w.from; n <= w.to; n++ {
			if written == maxLines {
				return b.String()
			}
			fmt.Fprintf(&b, "%d: %s\n", n, strings.TrimSuffix(all[n-1], "\r"))
			written++
		}
	}
	return b.String()
}
