package scanner

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/hakim/readyscan/internal/models"
	"gopkg.in/yaml.v3"
)

// PatternRule is a regex rule used by the secret and static scanners.
type PatternRule struct {
	ID             string   `yaml:"id"`
	Pattern        string   `yaml:"pattern"`
	Severity       string   `yaml:"severity"`
	Message        string   `yaml:"message"`
	Recommendation string   `yaml:"recommendation"`
	Control        string   `yaml:"control,omitempty"`
	Extensions     []string `yaml:"extensions,omitempty"`

	re       *regexp.Regexp
	severity models.Severity
}

// VulnerablePackage is an entry of the known-vulnerable dependency table.
// Versions strictly below FixedVersion are affected.
type VulnerablePackage struct {
	Ecosystem    string `yaml:"ecosystem"`
	Package      string `yaml:"package"`
	FixedVersion string `yaml:"fixed_version"`
	Severity     string `yaml:"severity"`
	Advisory     string `yaml:"advisory"`
}

// RuleSet bundles every rule the scanners consume.
type RuleSet struct {
	Secrets       []PatternRule       `yaml:"secrets"`
	Static        []PatternRule       `yaml:"static"`
	HighRiskFiles []string            `yaml:"high_risk_files"`
	Vulnerable    []VulnerablePackage `yaml:"vulnerable_packages"`
}

// LoadRules returns the default rules, extended by the YAML file at path when
// path is non-empty. A file rule with the ID of a default rule replaces it.
func LoadRules(path string) (*RuleSet, error) {
	rules := DefaultRules()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading rules file: %w", err)
		}
		var extra RuleSet
		if err := yaml.Unmarshal(data, &extra); err != nil {
			return nil, fmt.Errorf("parsing rules file %s: %w", path, err)
		}
		rules.merge(&extra)
	}
	if err := rules.Compile(); err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *RuleSet) merge(extra *RuleSet) {
	r.Secrets = mergePatterns(r.Secrets, extra.Secrets)
	r.Static = mergePatterns(r.Static, extra.Static)
	r.HighRiskFiles = append(r.HighRiskFiles, extra.HighRiskFiles...)
	r.Vulnerable = append(r.Vulnerable, extra.Vulnerable...)
}

func mergePatterns(base, extra []PatternRule) []PatternRule {
	index := make(map[string]int, len(base))
	for i, rule := range base {
		index[rule.ID] = i
	}
	for _, rule := range extra {
		if i, ok := index[rule.ID]; ok {
			base[i] = rule
			continue
		}
		index[rule.ID] = len(base)
		base = append(base, rule)
	}
	return base
}

// Compile validates and compiles every rule. It must be called before the
// rule set is shared between scanners.
func (r *RuleSet) Compile() error {
	var errs []error
	compile := func(group string, rules []PatternRule, flags string) {
		for i := range rules {
			rule := &rules[i]
			if rule.ID == "" {
				errs = append(errs, fmt.Errorf("%s rule %d: id is required", group, i))
				continue
			}
			sev, err := models.ParseSeverity(rule.Severity)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s rule %s: %w", group, rule.ID, err))
				continue
			}
			re, err := regexp.Compile(flags + rule.Pattern)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s rule %s: %w", group, rule.ID, err))
				continue
			}
			rule.re = re
			rule.severity = sev
			if rule.Message == "" {
				rule.Message = strings.ReplaceAll(rule.ID, "_", " ")
			}
			if rule.Recommendation == "" {
				rule.Recommendation = "Review and remediate this security issue"
			}
		}
	}
	compile("secret", r.Secrets, "")
	compile("static", r.Static, "(?m)")

	for _, pkg := range r.Vulnerable {
		if _, err := models.ParseSeverity(pkg.Severity); err != nil {
			errs = append(errs, fmt.Errorf("vulnerable package %s: %w", pkg.Package, err))
		}
		if pkg.Package == "" || pkg.FixedVersion == "" {
			errs = append(errs, errors.New("vulnerable package entries need package and fixed_version"))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid rules: %w", errors.Join(errs...))
	}
	return nil
}

// appliesTo reports whether the rule targets files with the given extension.
func (p *PatternRule) appliesTo(ext string) bool {
	if len(p.Extensions) == 0 {
		return true
	}
	for _, e := range p.Extensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

var codeExtensions = []string{".py", ".js", ".jsx", ".ts", ".tsx", ".java", ".go", ".rb", ".php", ".cs", ".kt"}

// DefaultRules returns the built-in rule set. The result is uncompiled.
func DefaultRules() *RuleSet {
	return &RuleSet{
		Secrets: []PatternRule{
			{ID: "aws_access_key", Pattern: `\b(AKIA|ASIA)[0-9A-Z]{16}\b`, Severity: "critical",
				Message: "AWS access key ID committed to source", Recommendation: "Revoke the key and load credentials from the environment or a secrets manager"},
			{ID: "aws_secret_key", Pattern: `(?i)aws.{0,20}(secret|private).{0,20}['"][0-9a-zA-Z/+]{40}['"]`, Severity: "critical",
				Message: "AWS secret access key committed to source", Recommendation: "Rotate the secret and use an IAM role or secrets manager"},
			{ID: "private_key", Pattern: `-----BEGIN ((RSA|EC|DSA|OPENSSH|PGP) )?PRIVATE KEY( BLOCK)?-----`, Severity: "critical",
				Message: "Private key material committed to source", Recommendation: "Remove the key from history, rotate it and store it in a vault"},
			{ID: "github_token", Pattern: `\b(ghp|gho|ghu|ghs|ghr)_[A-Za-z0-9]{36,}\b`, Severity: "critical",
				Message: "GitHub token committed to source", Recommendation: "Revoke the token and inject it through CI secrets"},
			{ID: "stripe_live_key", Pattern: `\b(sk|rk)_live_[0-9a-zA-Z]{24,}\b`, Severity: "critical",
				Message: "Stripe live key committed to source", Recommendation: "Roll the key in the Stripe dashboard and load it from the environment"},
			{ID: "slack_token", Pattern: `\bxox[baprs]-[A-Za-z0-9-]{10,}\b`, Severity: "high",
				Message: "Slack token committed to source", Recommendation: "Revoke the token and store it in a secrets manager"},
			{ID: "google_api_key", Pattern: `\bAIza[0-9A-Za-z_\-]{35}\b`, Severity: "high",
				Message: "Google API key committed to source", Recommendation: "Restrict and rotate the key, then load it from configuration"},
			{ID: "generic_api_key", Pattern: `(?i)(api[_-]?key|access[_-]?key|secret[_-]?key)\s*[:=]\s*['"][A-Za-z0-9_\-]{16,}['"]`, Severity: "high",
				Message: "Hardcoded API key", Recommendation: "Move the key to environment variables or a secrets manager"},
			{ID: "hardcoded_password", Pattern: `(?i)(password|passwd|pwd)\s*[:=]\s*['"][^'"\s]{6,}['"]`, Severity: "high",
				Message: "Hardcoded password", Recommendation: "Load passwords from a secrets manager and rotate the exposed value"},
			{ID: "database_url", Pattern: `(?i)\b(postgres|postgresql|mysql|mongodb(\+srv)?|redis|amqp)://[^:\s/]+:[^@\s]+@`, Severity: "high",
				Message: "Database connection string with embedded credentials", Recommendation: "Use a connection string without credentials and inject them at runtime"},
			{ID: "jwt_token", Pattern: `\beyJ[A-Za-z0-9_-]{10,}\.eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`, Severity: "medium",
				Message: "JSON Web Token committed to source", Recommendation: "Remove the token and invalidate it if it is still valid"},
		},
		Static: []PatternRule{
			{ID: "sql_injection_risk", Pattern: `(?i)(execute|query|raw)\s*\(\s*(f["']|["'][^"'\n]*["']\s*(%|\+|\.format))`, Severity: "high",
				Extensions: codeExtensions, Recommendation: "Use parameterized queries or ORM instead of string concatenation"},
			{ID: "command_injection", Pattern: `(os\.system|subprocess\.(call|run|Popen)\([^)\n]*shell\s*=\s*True|child_process\.exec)\s*\(?`, Severity: "high",
				Extensions: codeExtensions, Recommendation: "Pass argument lists to process APIs and never build shell strings from input"},
			{ID: "eval_usage", Pattern: `\beval\s*\(`, Severity: "medium",
				Extensions: codeExtensions, Recommendation: "Avoid eval; parse input with a safe, purpose-built parser"},
			{ID: "insecure_random", Pattern: `\brandom\.(random|randint|choice)\s*\(|Math\.random\s*\(`, Severity: "medium",
				Extensions: codeExtensions, Recommendation: "Use cryptographically secure random generators (e.g., secrets module)"},
			{ID: "disabled_ssl_verification", Pattern: `verify\s*=\s*False|InsecureSkipVerify:\s*true|rejectUnauthorized:\s*false`, Severity: "high",
				Extensions: codeExtensions, Recommendation: "Enable SSL verification to prevent MITM attacks"},
			{ID: "weak_crypto", Pattern: `(?i)\b(hashlib\.(md5|sha1)|md5\.New|sha1\.New|createHash\(\s*['"](md5|sha1)['"])`, Severity: "medium",
				Extensions: codeExtensions, Recommendation: "Use SHA-256 or stronger hashing algorithms"},
			{ID: "no_authentication", Pattern: `@app\.route\([^)\n]*methods\s*=\s*\[[^\]\n]*['"](POST|PUT|DELETE)['"]`, Severity: "medium",
				Extensions: []string{".py"}, Recommendation: "Add authentication decorators to protect endpoints"},
			{ID: "weak_session", Pattern: `SESSION_COOKIE_SECURE\s*=\s*False|SESSION_PERMANENT\s*=\s*False`, Severity: "medium",
				Extensions: []string{".py"}, Recommendation: "Enable permanent sessions with secure configuration"},
			{ID: "debug_mode_enabled", Pattern: `\bDEBUG\s*=\s*True\b|app\.run\([^)\n]*debug\s*=\s*True`, Severity: "medium",
				Extensions: codeExtensions, Recommendation: "Disable debug mode outside local development"},
			{ID: "sensitive_data_logging", Pattern: `(?i)(log(ger)?|console)\.(info|debug|warn|warning|error|log)\([^)\n]*(password|secret|token)`, Severity: "medium",
				Extensions: codeExtensions, Recommendation: "Avoid logging sensitive data like passwords and tokens"},
			{ID: "missing_audit_log", Pattern: `def\s+(delete|remove|drop)_\w+\s*\([^)]*\)\s*:\s*\n(\s+[^\n]*\n){0,3}?\s+return\b`, Severity: "low",
				Extensions: []string{".py"}, Recommendation: "Add audit logging for sensitive operations"},
		},
		HighRiskFiles: []string{
			".env", ".env.*", "id_rsa", "id_dsa", "id_ecdsa", "id_ed25519", "*.pem", "*.key", "*.p12", "*.pfx",
			"credentials.json", "service-account*.json", ".htpasswd", ".npmrc", ".pypirc", ".netrc",
		},
		Vulnerable: []VulnerablePackage{
			{Ecosystem: "pypi", Package: "django", FixedVersion: "3.2.25", Severity: "high", Advisory: "Multiple SQL injection and DoS advisories"},
			{Ecosystem: "pypi", Package: "flask", FixedVersion: "2.3.2", Severity: "high", Advisory: "Session cookie disclosure (CVE-2023-30861)"},
			{Ecosystem: "pypi", Package: "requests", FixedVersion: "2.31.0", Severity: "medium", Advisory: "Proxy-Authorization header leak (CVE-2023-32681)"},
			{Ecosystem: "pypi", Package: "pillow", FixedVersion: "10.0.1", Severity: "high", Advisory: "libwebp heap overflow (CVE-2023-4863)"},
			{Ecosystem: "pypi", Package: "pyyaml", FixedVersion: "5.4", Severity: "critical", Advisory: "Arbitrary code execution in full_load (CVE-2020-14343)"},
			{Ecosystem: "npm", Package: "lodash", FixedVersion: "4.17.21", Severity: "high", Advisory: "Command injection in template (CVE-2021-23337)"},
			{Ecosystem: "npm", Package: "axios", FixedVersion: "1.6.0", Severity: "medium", Advisory: "CSRF token exposure (CVE-2023-45857)"},
			{Ecosystem: "npm", Package: "next", FixedVersion: "14.1.1", Severity: "high", Advisory: "Server-side request forgery (CVE-2024-34351)"},
			{Ecosystem: "npm", Package: "react-dom", FixedVersion: "16.4.2", Severity: "medium", Advisory: "Cross-site scripting in server rendering (CVE-2018-6341)"},
		},
	}
}
