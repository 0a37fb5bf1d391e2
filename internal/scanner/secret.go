package scanner

import (
	"path"
	"strings"

	"github.com/hakim/readyscan/internal/models"
	"github.com/hakim/readyscan/internal/source"
)

// placeholderMarkers identify obvious sample values that are not real
// credentials.
var placeholderMarkers = []string{
	"example", "placeholder", "your_", "your-", "changeme", "xxxxxxxx", "dummy", "<", "${", "{{",
}

// SecretScanner looks for committed credentials, line by line, and flags
// files whose name alone implies secret material.
type SecretScanner struct {
	rules *RuleSet
}

func NewSecretScanner(rules *RuleSet) *SecretScanner {
	return &SecretScanner{rules: rules}
}

func (s *SecretScanner) Kind() models.ScannerKind { return models.KindSecret }
func (s *SecretScanner) Name() string             { return "secret" }
func (s *SecretScanner) Version() string          { return "1.3.0" }

func (s *SecretScanner) Scan(f source.File) ([]models.Finding, error) {
	var out []models.Finding

	if pattern, ok := s.highRiskMatch(f.Path); ok {
		finding, err := models.NewFinding(models.Finding{
			Type:           "high_risk_file",
			Severity:       models.SeverityHigh,
			FilePath:       f.Path,
			Line:           0,
			Message:        "High-risk file committed to repository: " + path.Base(f.Path),
			Recommendation: "Remove the file from version control, add it to .gitignore and rotate any contained secrets",
		}, &models.SecretDetail{RuleID: pattern, HighRiskFile: true})
		if err != nil {
			return nil, err
		}
		out = append(out, finding)
	}

	for i, line := range lines(f.Content) {
		for ri := range s.rules.Secrets {
			rule := &s.rules.Secrets[ri]
			loc := rule.re.FindStringIndex(line)
			if loc == nil || isPlaceholder(line[loc[0]:loc[1]]) {
				continue
			}
			finding, err := models.NewFinding(models.Finding{
				Type:           rule.ID,
				Severity:       rule.severity,
				FilePath:       f.Path,
				Line:           i + 1,
				Message:        rule.Message,
				ControlID:      rule.Control,
				Recommendation: rule.Recommendation,
				Snippet:        maskMatch(line, loc),
			}, &models.SecretDetail{RuleID: rule.ID})
			if err != nil {
				return nil, err
			}
			out = append(out, finding)
		}
	}
	return out, nil
}

func (s *SecretScanner) highRiskMatch(p string) (string, bool) {
	name := baseName(p)
	for _, suffix := range []string{".example", ".sample", ".template", ".dist"} {
		if strings.HasSuffix(name, suffix) {
			return "", false
		}
	}
	for _, pattern := range s.rules.HighRiskFiles {
		if ok, _ := path.Match(strings.ToLower(pattern), name); ok {
			return pattern, true
		}
	}
	return "", false
}

func isPlaceholder(match string) bool {
	lower := strings.ToLower(match)
	for _, marker := range placeholderMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// maskMatch hides all but the first four characters of the matched secret.
func maskMatch(line string, loc []int) string {
	match := line[loc[0]:loc[1]]
	keep := 4
	if len(match) < keep {
		keep = len(match)
	}
	masked := line[:loc[0]] + match[:keep] + strings.Repeat("*", 8) + line[loc[1]:]
	masked = strings.TrimSpace(masked)
	if r := []rune(masked); len(r) > 120 {
		masked = string(r[:120])
	}
	return masked
}
