package models

import (
	"fmt"
	"strings"
)

// JobStatus represents the lifecycle state of a scan job
type JobStatus string

const (
	StatusCreated   JobStatus = "created"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Severity represents the severity level of a finding
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Severities lists every severity from most to least severe.
var Severities = []Severity{
	SeverityCritical,
	SeverityHigh,
	SeverityMedium,
	SeverityLow,
	SeverityInfo,
}

// Valid reports whether s is one of the five known severities.
func (s Severity) Valid() bool {
	return s.Rank() >= 0
}

// Rank orders severities with critical = 0. Unknown values return -1.
func (s Severity) Rank() int {
	for i, sev := range Severities {
		if sev == s {
			return i
		}
	}
	return -1
}

// ParseSeverity normalizes a user or rule supplied severity string.
func ParseSeverity(raw string) (Severity, error) {
	s := Severity(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown severity %q", raw)
	}
	return s, nil
}

// ScannerKind identifies which scanner produced a finding
type ScannerKind string

const (
	KindSecret     ScannerKind = "secret"
	KindStatic     ScannerKind = "static"
	KindDependency ScannerKind = "dependency"
	KindIaC        ScannerKind = "iac"
)

// ScannerKinds lists every scanner kind in canonical order.
var ScannerKinds = []ScannerKind{KindSecret, KindStatic, KindDependency, KindIaC}

// Valid reports whether k is a known scanner kind.
func (k ScannerKind) Valid() bool {
	switch k {
	case KindSecret, KindStatic, KindDependency, KindIaC:
		return true
	}
	return false
}

// ControlStatus is the coverage state of a single control
type ControlStatus string

const (
	ControlCompliant    ControlStatus = "compliant"
	ControlPartial      ControlStatus = "partial"
	ControlNonCompliant ControlStatus = "non_compliant"
	ControlUnknown      ControlStatus = "unknown"
)

// SourceKind describes where scanned files come from
type SourceKind string

const (
	SourceLocal SourceKind = "local"
	SourceGit   SourceKind = "git"
)
