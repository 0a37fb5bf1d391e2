package scanner

import (
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/hakim/readyscan/internal/models"
	"github.com/hakim/readyscan/internal/source"
)

var requirementLine = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9_.\-]*)(\[[^\]]*\])?\s*(===|==|>=|<=|~=|!=|>|<)?\s*([^\s;,#]*)`)

// DependencyScanner inspects package manifests for unpinned, loosely
// constrained and known-vulnerable dependencies.
type DependencyScanner struct {
	vulnerable map[string]VulnerablePackage
}

func NewDependencyScanner(rules *RuleSet) *DependencyScanner {
	vuln := make(map[string]VulnerablePackage, len(rules.Vulnerable))
	for _, v := range rules.Vulnerable {
		vuln[v.Ecosystem+"/"+normalizePackage(v.Package)] = v
	}
	return &DependencyScanner{vulnerable: vuln}
}

func (s *DependencyScanner) Kind() models.ScannerKind { return models.KindDependency }
func (s *DependencyScanner) Name() string             { return "dependency" }
func (s *DependencyScanner) Version() string          { return "1.0.2" }

func (s *DependencyScanner) Scan(f source.File) ([]models.Finding, error) {
	name := baseName(f.Path)
	switch {
	case name == "package.json":
		return s.scanPackageJSON(f)
	case name == "pipfile":
		return s.scanPipfile(f)
	case name == "go.mod":
		return s.scanGoMod(f)
	case strings.HasPrefix(name, "requirements") && path.Ext(name) == ".txt":
		return s.scanRequirements(f)
	}
	return nil, nil
}

func (s *DependencyScanner) scanRequirements(f source.File) ([]models.Finding, error) {
	var out []models.Finding
	for i, raw := range lines(f.Content) {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		m := requirementLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		pkg, op, version := m[1], m[3], m[4]
		detail := &models.DependencyDetail{Ecosystem: "pypi", Package: pkg, Version: version}

		switch {
		case op == "":
			out = appendFinding(out, f, i+1, "unpinned_dependency", models.SeverityMedium,
				fmt.Sprintf("Unpinned dependency: %s", pkg),
				"Pin the dependency to an exact version (e.g. "+pkg+"==x.y.z) for reproducible builds", line, detail)
		case op == "==" || op == "===":
			if v, ok := s.lookup("pypi", pkg, version); ok {
				out = appendVulnerable(out, f, i+1, line, detail, v)
			}
		default:
			out = appendFinding(out, f, i+1, "loose_version_constraint", models.SeverityLow,
				fmt.Sprintf("Loose version constraint for %s: %s%s", pkg, op, version),
				"Use an exact pin and manage upgrades through a lock file", line, detail)
		}
	}
	return out, nil
}

func (s *DependencyScanner) scanPackageJSON(f source.File) ([]models.Finding, error) {
	var manifest struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(f.Content, &manifest); err != nil {
		return nil, fmt.Errorf("parsing package.json: %w", err)
	}

	content := string(f.Content)
	all := lines(f.Content)
	var out []models.Finding
	sections := []struct {
		name string
		deps map[string]string
	}{
		{"dependencies", manifest.Dependencies},
		{"devDependencies", manifest.DevDependencies},
	}
	for _, sec := range sections {
		names := make([]string, 0, len(sec.deps))
		for n := range sec.deps {
			names = append(names, n)
		}
		sort.Strings(names)

		for _, pkg := range names {
			spec := strings.TrimSpace(sec.deps[pkg])
			line := sectionLineOf(content, sec.name, pkg)
			detail := &models.DependencyDetail{Ecosystem: "npm", Package: pkg, Version: spec, Section: sec.name}

			if isLooseNPM(spec) {
				out = appendFinding(out, f, line, "loose_version_constraint", models.SeverityMedium,
					fmt.Sprintf("Loose version constraint for %s%s: %s", pkg, sectionSuffix(sec.name), spec),
					"Pin exact versions or commit a lock file so installs are reproducible", snippet(all, line), detail)
			}
			if v, ok := s.lookup("npm", pkg, strings.TrimLeft(spec, "^~=v ")); ok {
				out = appendVulnerable(out, f, line, snippet(all, line), detail, v)
			}
		}
	}
	return out, nil
}

func (s *DependencyScanner) scanPipfile(f source.File) ([]models.Finding, error) {
	var out []models.Finding
	section := ""
	for i, raw := range lines(f.Content) {
		line := strings.TrimSpace(raw)
		if strings.HasPrefix(line, "[") {
			section = strings.Trim(line, "[]")
			continue
		}
		if section != "packages" && section != "dev-packages" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		pkg := strings.Trim(strings.TrimSpace(key), `"`)
		spec := strings.Trim(strings.TrimSpace(value), `"'`)
		detail := &models.DependencyDetail{Ecosystem: "pypi", Package: pkg, Version: spec, Section: section}

		if spec == "*" {
			out = appendFinding(out, f, i+1, "unpinned_dependency", models.SeverityMedium,
				fmt.Sprintf("Unpinned dependency: %s%s", pkg, sectionSuffix(section)),
				"Pin the dependency in Pipfile and commit Pipfile.lock", line, detail)
			continue
		}
		if strings.HasPrefix(spec, "==") {
			if v, ok := s.lookup("pypi", pkg, strings.TrimPrefix(spec, "==")); ok {
				out = appendVulnerable(out, f, i+1, line, detail, v)
			}
		}
	}
	return out, nil
}

func (s *DependencyScanner) scanGoMod(f source.File) ([]models.Finding, error) {
	var out []models.Finding
	for i, raw := range lines(f.Content) {
		line := strings.TrimSpace(raw)
		line = strings.TrimPrefix(line, "replace ")
		from, to, ok := strings.Cut(line, "=>")
		if !ok {
			continue
		}
		target := strings.TrimSpace(to)
		if !strings.HasPrefix(target, ".") && !strings.HasPrefix(target, "/") {
			continue
		}
		mod := strings.Fields(from)
		if len(mod) == 0 {
			continue
		}
		out = appendFinding(out, f, i+1, "dependency_check", models.SeverityInfo,
			fmt.Sprintf("Module %s is replaced by local path %s", mod[0], target),
			"Local replace directives make builds depend on the workstation layout; remove them before release",
			strings.TrimSpace(raw), &models.DependencyDetail{Ecosystem: "go", Package: mod[0], Version: target})
	}
	return out, nil
}

func (s *DependencyScanner) lookup(ecosystem, pkg, version string) (VulnerablePackage, bool) {
	v, ok := s.vulnerable[ecosystem+"/"+normalizePackage(pkg)]
	if !ok || version == "" {
		return VulnerablePackage{}, false
	}
	return v, compareVersions(version, v.FixedVersion) < 0
}

func appendFinding(out []models.Finding, f source.File, line int, typ string, sev models.Severity,
	msg, rec, snip string, detail *models.DependencyDetail) []models.Finding {
	finding, err := models.NewFinding(models.Finding{
		Type:           typ,
		Severity:       sev,
		FilePath:       f.Path,
		Line:           line,
		Message:        msg,
		Recommendation: rec,
		Snippet:        snip,
	}, detail)
	if err != nil {
		return out
	}
	return append(out, finding)
}

func appendVulnerable(out []models.Finding, f source.File, line int, snip string,
	detail *models.DependencyDetail, v VulnerablePackage) []models.Finding {
	d := *detail
	d.FixedVersion = v.FixedVersion
	d.Advisory = v.Advisory
	sev, _ := models.ParseSeverity(v.Severity)
	return appendFinding(out, f, line, "vulnerable_dependency", sev,
		fmt.Sprintf("Known vulnerable version of %s%s: %s (%s)", d.Package, sectionSuffix(d.Section), d.Version, v.Advisory),
		fmt.Sprintf("Upgrade %s to %s or later", d.Package, v.FixedVersion), snip, &d)
}

// sectionLineOf finds pkg's key inside the named manifest section so a
// package listed in several sections gets a distinct line for each.
func sectionLineOf(content, section, pkg string) int {
	start := strings.Index(content, `"`+section+`"`)
	if start < 0 {
		return lineOf(content, `"`+pkg+`"`)
	}
	i := strings.Index(content[start:], `"`+pkg+`"`)
	if i < 0 {
		return lineOf(content, `"`+pkg+`"`)
	}
	return strings.Count(content[:start+i], "\n") + 1
}

// sectionSuffix marks findings from development-only sections.
func sectionSuffix(section string) string {
	switch section {
	case "devDependencies", "dev-packages":
		return " (" + section + ")"
	}
	return ""
}

func isLooseNPM(spec string) bool {
	switch {
	case spec == "" || spec == "*" || spec == "latest" || spec == "x":
		return true
	case strings.HasPrefix(spec, "^"), strings.HasPrefix(spec, "~"), strings.HasPrefix(spec, ">"):
		return true
	case strings.Contains(spec, ".x") || strings.Contains(spec, "||"):
		return true
	}
	return false
}

func normalizePackage(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "_", "-")
}

// compareVersions compares dotted numeric versions, ignoring any
// non-numeric suffix within a segment. Missing segments count as zero.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		x, y := segment(as, i), segment(bs, i)
		if x != y {
			if x < y {
				return -1
			}
			return 1
		}
	}
	return 0
}

func segment(parts []string, i int) int {
	if i >= len(parts) {
		return 0
	}
	p := parts[i]
	end := 0
	for end < len(p) && p[end] >= '0' && p[end] <= '9' {
		end++
	}
	n, _ := strconv.Atoi(p[:end])
	return n
}
