package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// findingNamespace seeds deterministic finding IDs so that rescanning
// unchanged input yields the same identifiers.
var findingNamespace = uuid.MustParse("6f1c2b7e-4d0a-5c39-9e51-2a8f0d3b7c64")

// Finding is a single detected issue at a file location. Exactly one of the
// detail pointers is set and it always matches Kind.
type Finding struct {
	ID             string      `json:"id"`
	Kind           ScannerKind `json:"scanner_kind"`
	Type           string      `json:"type"`
	Severity       Severity    `json:"severity"`
	FilePath       string      `json:"file_path"`
	Line           int         `json:"line"`
	Message        string      `json:"message"`
	ControlID      string      `json:"control_id"`
	Recommendation string      `json:"recommendation"`
	Snippet        string      `json:"snippet,omitempty"`

	Secret     *SecretDetail     `json:"secret,omitempty"`
	Static     *StaticDetail     `json:"static,omitempty"`
	Dependency *DependencyDetail `json:"dependency,omitempty"`
	IaC        *IaCDetail        `json:"iac,omitempty"`
}

// Detail is the scanner specific part of a Finding.
type Detail interface {
	ScannerKind() ScannerKind
}

// SecretDetail describes a credential match.
type SecretDetail struct {
	RuleID       string `json:"rule_id"`
	HighRiskFile bool   `json:"high_risk_file,omitempty"`
}

// StaticDetail describes an insecure code pattern match.
type StaticDetail struct {
	RuleID   string `json:"rule_id"`
	Language string `json:"language,omitempty"`
}

// DependencyDetail describes a manifest entry problem.
type DependencyDetail struct {
	Ecosystem    string `json:"ecosystem"`
	Package      string `json:"package"`
	Version      string `json:"version,omitempty"`
	Section      string `json:"section,omitempty"`
	FixedVersion string `json:"fixed_version,omitempty"`
	Advisory     string `json:"advisory,omitempty"`
}

// IaCDetail describes a misconfigured infrastructure resource.
type IaCDetail struct {
	Framework string `json:"framework"`
	Resource  string `json:"resource,omitempty"`
}

func (*SecretDetail) ScannerKind() ScannerKind     { return KindSecret }
func (*StaticDetail) ScannerKind() ScannerKind     { return KindStatic }
func (*DependencyDetail) ScannerKind() ScannerKind { return KindDependency }
func (*IaCDetail) ScannerKind() ScannerKind        { return KindIaC }

// NewFinding builds a validated Finding from the shared base fields and a
// scanner detail. Any detail pointers already present on base are replaced.
func NewFinding(base Finding, detail Detail) (Finding, error) {
	if detail == nil {
		return Finding{}, errors.New("finding: detail is required")
	}
	kind := detail.ScannerKind()
	if base.Kind != "" && base.Kind != kind {
		return Finding{}, fmt.Errorf("finding: kind %q does not match %q detail", base.Kind, kind)
	}

	f := base
	f.Kind = kind
	f.Secret, f.Static, f.Dependency, f.IaC = nil, nil, nil, nil
	switch d := detail.(type) {
	case *SecretDetail:
		f.Secret = d
	case *StaticDetail:
		f.Static = d
	case *DependencyDetail:
		f.Dependency = d
	case *IaCDetail:
		f.IaC = d
	default:
		return Finding{}, fmt.Errorf("finding: unsupported detail %T", detail)
	}

	if err := f.Validate(); err != nil {
		return Finding{}, err
	}
	f.ID = FindingID(f)
	return f, nil
}

// Validate checks the shared invariants of a finding.
func (f Finding) Validate() error {
	var errs []error
	if !f.Kind.Valid() {
		errs = append(errs, fmt.Errorf("unknown scanner kind %q", f.Kind))
	}
	if !f.Severity.Valid() {
		errs = append(errs, fmt.Errorf("unknown severity %q", f.Severity))
	}
	if f.Type == "" {
		errs = append(errs, errors.New("type cannot be empty"))
	}
	if f.FilePath == "" {
		errs = append(errs, errors.New("file_path cannot be empty"))
	}
	if f.Line < 0 {
		errs = append(errs, errors.New("line cannot be negative"))
	}
	if f.Message == "" {
		errs = append(errs, errors.New("message cannot be empty"))
	}
	if d := f.Detail(); d == nil || d.ScannerKind() != f.Kind {
		errs = append(errs, fmt.Errorf("detail does not match scanner kind %q", f.Kind))
	}
	if len(errs) > 0 {
		return fmt.Errorf("finding: %w", errors.Join(errs...))
	}
	return nil
}

// Detail returns whichever detail variant is populated, or nil.
func (f Finding) Detail() Detail {
	switch {
	case f.Secret != nil:
		return f.Secret
	case f.Static != nil:
		return f.Static
	case f.Dependency != nil:
		return f.Dependency
	case f.IaC != nil:
		return f.IaC
	}
	return nil
}

// FindingID derives a stable identifier from the location and content of f.
func FindingID(f Finding) string {
	key := strings.Join([]string{
		string(f.Kind),
		f.Type,
		f.FilePath,
		strconv.Itoa(f.Line),
		f.Message,
	}, "\x00")
	return uuid.NewSHA1(findingNamespace, []byte(key)).String()
}

// Less orders findings by file, line, scanner kind, type and finally ID.
func Less(a, b Finding) bool {
	if a.FilePath != b.FilePath {
		return a.FilePath < b.FilePath
	}
	if a.Line != b.Line {
		return a.Line < b.Line
	}
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	if a.Type != b.Type {
		return a.Type < b.Type
	}
	return a.ID < b.ID
}
