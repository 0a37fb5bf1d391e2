package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxReasonRunes = 500

const systemPrompt = `You review findings from security and compliance scanners and decide which are false positives.
Respond with JSON only, in the form:
{"verdicts":[{"finding_id":"<id>","is_false_positive":false,"reason":"<one sentence>"}]}
Return exactly one verdict per finding_id you were given.
Mark a finding as a false positive only when the code clearly shows test data, a placeholder, documentation or an unreachable path.
When unsure, answer false.`

// LLMJudge implements Judge on top of a completion Provider.
type LLMJudge struct {
	provider  Provider
	maxTokens int
}

// NewLLMJudge wraps provider. A nil provider yields a judge that always
// reports ErrUnavailable.
func NewLLMJudge(provider Provider) *LLMJudge {
	return &LLMJudge{provider: provider, maxTokens: 2000}
}

func (j *LLMJudge) Validate(ctx context.Context, file FileContext, candidates []Candidate) ([]Verdict, error) {
	if j.provider == nil {
		return nil, ErrUnavailable
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	listing, err := json.MarshalIndent(candidates, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("judge: encoding candidates: %w", err)
	}
	var user strings.Builder
	fmt.Fprintf(&user, "File: %s\n\nCode excerpt:\n```\n%s```\n\nFindings:\n%s\n", file.Path, file.Excerpt, listing)

	resp, err := j.provider.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   user.String(),
		MaxTokens:    j.maxTokens,
		Temperature:  0,
	})
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		case errors.Is(err, ErrRateLimited), errors.Is(err, ErrUnavailable), errors.Is(err, context.Canceled):
			return nil, err
		default:
			return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, j.provider.Name(), err)
		}
	}

	return ParseVerdicts(resp.Content, candidates)
}

// Close releases the provider when it holds resources.
func (j *LLMJudge) Close() error {
	if c, ok := j.provider.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ParseVerdicts decodes a model response. Fences and surrounding prose are
// tolerated; unknown or duplicate finding IDs are not.
func ParseVerdicts(content string, candidates []Candidate) ([]Verdict, error) {
	body := stripFences(content)
	if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start >= 0 && end > start {
		body = body[start : end+1]
	}

	var payload struct {
		Verdicts []Verdict `json:"verdicts"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	known := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		known[c.ID] = true
	}
	seen := make(map[string]bool, len(payload.Verdicts))
	out := make([]Verdict, 0, len(payload.Verdicts))
	for _, v := range payload.Verdicts {
		if !known[v.FindingID] {
			return nil, fmt.Errorf("%w: unknown finding_id %q", ErrMalformed, v.FindingID)
		}
		if seen[v.FindingID] {
			return nil, fmt.Errorf("%w: duplicate verdict for %q", ErrMalformed, v.FindingID)
		}
		seen[v.FindingID] = true
		v.Reason = SanitizeReason(v.Reason)
		out = append(out, v)
	}
	return out, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSpace(s)
	return strings.TrimSuffix(s, "```")
}

// SanitizeReason normalizes model text for storage: NFKC, control
// characters removed, whitespace collapsed and length capped.
func SanitizeReason(s string) string {
	t := transform.Chain(norm.NFKC, runes.Map(controlToSpace), runes.Remove(runes.In(unicode.Cf)))
	clean, _, err := transform.String(t, s)
	if err != nil {
		clean = s
	}
	clean = strings.Join(strings.Fields(clean), " ")
	if r := []rune(clean); len(r) > maxReasonRunes {
		clean = string(r[:maxReasonRunes])
	}
	return clean
}

func controlToSpace(r rune) rune {
	if unicode.IsControl(r) {
		return ' '
	}
	return r
}
