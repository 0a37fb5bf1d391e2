package config

import (
	"fmt"
	"os"

	"github.com/hakim/readyscan/internal/models"
	"gopkg.in/yaml.v3"
)

// DefaultControls is the built-in compliance catalog (SOC 2 common criteria
// plus the reserved fallback bucket).
func DefaultControls() []models.Control {
	return []models.Control{
		{ID: "CC1", Name: "Control Environment", Description: "Integrity, ethical values and oversight structures", Weight: 1, Owner: "compliance"},
		{ID: "CC2", Name: "Communication and Information", Description: "Quality information supports internal control, including audit logging", Weight: 1, Owner: "compliance"},
		{ID: "CC3", Name: "Risk Assessment", Description: "Identification and analysis of risks, including third-party components", Weight: 1, Owner: "appsec"},
		{ID: "CC4", Name: "Monitoring Activities", Description: "Ongoing evaluation of controls and deficiencies", Weight: 1, Owner: "platform"},
		{ID: "CC5", Name: "Control Activities", Description: "Policies and procedures that mitigate risk in code", Weight: 1, Owner: "appsec"},
		{ID: "CC6", Name: "Logical and Physical Access Controls", Description: "Authentication, authorization and network exposure", Weight: 1, Owner: "security"},
		{ID: "CC7", Name: "System Operations", Description: "Detection of and response to security events", Weight: 1, Owner: "platform"},
		{ID: "CC8", Name: "Change Management", Description: "Controlled and reproducible changes to infrastructure and software", Weight: 1, Owner: "devops"},
		{ID: "CC9", Name: "Risk Mitigation", Description: "Protection of credentials and sensitive data", Weight: 1, Owner: "security"},
		{ID: models.UncategorizedControlID, Name: "Uncategorized", Description: "Findings without a control mapping", Weight: 1, Owner: "security"},
	}
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		DBPath:    "readyscan.db",
		ReportDir: "reports",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  "15s",
			WriteTimeout: "30s",
		},
		Scanners: ScannersConfig{
			Enabled:     []string{"secret", "static", "dependency", "iac"},
			MaxFileSize: 10 * 1024 * 1024,
			ExcludedDirs: []string{
				".git", "node_modules", "__pycache__", ".venv", "venv", "env",
				"dist", "build", "vendor", ".idea", ".vscode", "coverage", ".next",
			},
			BinaryExtensions: []string{
				".png", ".jpg", ".jpeg", ".gif", ".ico", ".pdf", ".zip", ".gz", ".tar",
				".exe", ".dll", ".so", ".dylib", ".class", ".jar", ".pyc", ".woff", ".woff2",
				".ttf", ".eot", ".mp3", ".mp4", ".mov", ".bin", ".db",
			},
			RulesFile:    "",
			CloneTimeout: "5m",
		},
		Judge: JudgeConfig{
			Provider:          "none",
			Model:             "",
			APIKey:            "",
			Timeout:           "30s",
			MaxConcurrency:    4,
			RequestsPerSecond: 2,
			MaxRetries:        2,
			MaxExcerptLines:   200,
		},
		Scoring: ScoringConfig{
			SeverityWeights: map[string]int{
				"critical": 10,
				"high":     7,
				"medium":   4,
				"low":      2,
				"info":     1,
			},
			DeductionCap:       100,
			BaseWeight:         0.7,
			CoverageWeight:     0.3,
			Grades:             GradeThresholds{A: 90, B: 80, C: 70, D: 60},
			PartialMaxFindings: 3,
			PartialMaxWeight:   10,
		},
		Controls: DefaultControls(),
		Mapping:  map[string]string{},
		Scope: ScopeConfig{
			AllowedRoots: []string{},
			AllowedHosts: []string{},
		},
		Issues: IssuesConfig{
			APIURL:    "https://api.github.com",
			Token:     "",
			Timeout:   "15s",
			Labels:    []string{"security", "compliance"},
			Assignees: map[string]string{},
		},
	}
}

// WriteDefault writes a default configuration to the specified path
func WriteDefault(path string) error {
	cfg := DefaultConfig()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
