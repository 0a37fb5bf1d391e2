package scanner

import (
	"path"
	"strings"

	"github.com/hakim/readyscan/internal/models"
	"github.com/hakim/readyscan/internal/source"
)

var languages = map[string]string{
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".java": "java",
	".go":   "go",
	".rb":   "ruby",
	".php":  "php",
	".cs":   "csharp",
	".kt":   "kotlin",
}

// StaticScanner matches insecure code patterns. Patterns run against the
// whole file so they may span lines; a match is reported on the line where
// it starts.
type StaticScanner struct {
	rules *RuleSet
}

func NewStaticScanner(rules *RuleSet) *StaticScanner {
	return &StaticScanner{rules: rules}
}

func (s *StaticScanner) Kind() models.ScannerKind { return models.KindStatic }
func (s *StaticScanner) Name() string             { return "static" }
func (s *StaticScanner) Version() string          { return "1.1.0" }

func (s *StaticScanner) Scan(f source.File) ([]models.Finding, error) {
	ext := strings.ToLower(path.Ext(f.Path))
	content := string(f.Content)
	all := lines(f.Content)

	var out []models.Finding
	for ri := range s.rules.Static {
		rule := &s.rules.Static[ri]
		if !rule.appliesTo(ext) {
			continue
		}
		seen := map[int]bool{}
		for _, m := range rule.re.FindAllStringIndex(content, -1) {
			line := strings.Count(content[:m[0]], "\n") + 1
			if seen[line] {
				continue
			}
			seen[line] = true

			finding, err := models.NewFinding(models.Finding{
				Type:           rule.ID,
				Severity:       rule.severity,
				FilePath:       f.Path,
				Line:           line,
				Message:        "Security issue: " + rule.Message,
				ControlID:      rule.Control,
				Recommendation: rule.Recommendation,
				Snippet:        snippet(all, line),
			}, &models.StaticDetail{RuleID: rule.ID, Language: languages[ext]})
			if err != nil {
				return nil, err
			}
			out = append(out, finding)
		}
	}
	return out, nil
}
