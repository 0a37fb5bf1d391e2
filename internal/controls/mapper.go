package controls

import (
	"fmt"

	"github.com/hakim/readyscan/internal/models"
)

// defaultMapping routes finding types to controls. Keys are either a bare
// type, "kind/type" or "kind/*"; the qualified form wins and "kind/*" catches
// any type of that scanner the other keys miss.
var defaultMapping = map[string]string{
	// per scanner kind
	"secret/*":     "CC9",
	"static/*":     "CC5",
	"dependency/*": "CC3",
	"iac/*":        "CC6",

	// secrets
	"aws_access_key":     "CC9",
	"aws_secret_key":     "CC9",
	"private_key":        "CC9",
	"github_token":       "CC9",
	"stripe_live_key":    "CC9",
	"slack_token":        "CC9",
	"google_api_key":     "CC9",
	"generic_api_key":    "CC9",
	"hardcoded_password": "CC9",
	"database_url":       "CC9",
	"jwt_token":          "CC9",
	"high_risk_file":     "CC9",

	// static
	"sql_injection_risk":        "CC5",
	"command_injection":         "CC5",
	"eval_usage":                "CC5",
	"insecure_random":           "CC9",
	"weak_crypto":               "CC9",
	"disabled_ssl_verification": "CC6",
	"no_authentication":         "CC6",
	"weak_session":              "CC6",
	"debug_mode_enabled":        "CC8",
	"sensitive_data_logging":    "CC7",
	"missing_audit_log":         "CC2",

	// dependency
	"unpinned_dependency":      "CC3",
	"vulnerable_dependency":    "CC3",
	"loose_version_constraint": "CC3",
	"dependency_check":         "CC3",

	// infrastructure
	"hardcoded_credentials":   "CC9",
	"unencrypted_storage":     "CC9",
	"secret_in_dockerfile":    "CC9",
	"public_s3_bucket":        "CC6",
	"open_security_group":     "CC6",
	"running_as_root":         "CC6",
	"no_user_directive":       "CC6",
	"privileged_container":    "CC6",
	"exposed_ports":           "CC6",
	"host_network":            "CC6",
	"latest_tag":              "CC8",
	"missing_resource_limits": "CC7",
}

// Mapper assigns every finding to exactly one cataloged control.
type Mapper struct {
	catalog *Catalog
	table   map[string]string
}

// NewMapper layers overrides on the default table. Every target must be
// cataloged.
func NewMapper(catalog *Catalog, overrides map[string]string) (*Mapper, error) {
	table := make(map[string]string, len(defaultMapping)+len(overrides))
	for k, v := range defaultMapping {
		if catalog.Has(v) {
			table[k] = v
		}
	}
	for k, v := range overrides {
		if !catalog.Has(v) {
			return nil, &models.ScoringError{Err: fmt.Errorf("mapping %s targets unknown control %s", k, v)}
		}
		table[k] = v
	}
	return &Mapper{catalog: catalog, table: table}, nil
}

// Map returns the control for f. A control set by the scanner is kept when
// cataloged; otherwise the table decides by type, then by scanner kind,
// falling back to the uncategorized control.
func (m *Mapper) Map(f models.Finding) string {
	if f.ControlID != "" && m.catalog.Has(f.ControlID) {
		return f.ControlID
	}
	if id, ok := m.table[string(f.Kind)+"/"+f.Type]; ok {
		return id
	}
	if id, ok := m.table[f.Type]; ok {
		return id
	}
	if id, ok := m.table[kindKey(f.Kind)]; ok {
		return id
	}
	return models.UncategorizedControlID
}

func kindKey(k models.ScannerKind) string {
	return string(k) + "/*"
}

// Assign returns a copy of findings with ControlID resolved.
func (m *Mapper) Assign(findings []models.Finding) []models.Finding {
	out := make([]models.Finding, len(findings))
	for i, f := range findings {
		f.ControlID = m.Map(f)
		out[i] = f
	}
	return out
}
