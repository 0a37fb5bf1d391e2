package config

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hakim/readyscan/internal/models"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	DBPath    string            `mapstructure:"db_path" yaml:"db_path"`
	ReportDir string            `mapstructure:"report_dir" yaml:"report_dir"`
	Log       LogConfig         `mapstructure:"log" yaml:"log"`
	Server    ServerConfig      `mapstructure:"server" yaml:"server"`
	Scanners  ScannersConfig    `mapstructure:"scanners" yaml:"scanners"`
	Judge     JudgeConfig       `mapstructure:"judge" yaml:"judge"`
	Scoring   ScoringConfig     `mapstructure:"scoring" yaml:"scoring"`
	Controls  []models.Control  `mapstructure:"controls" yaml:"controls"`
	Mapping   map[string]string `mapstructure:"mapping" yaml:"mapping"`
	Scope     ScopeConfig       `mapstructure:"scope" yaml:"scope"`
	Notify    NotifyConfig      `mapstructure:"notify" yaml:"notify"`
	Issues    IssuesConfig      `mapstructure:"issues" yaml:"issues"`
}

// LogConfig controls structured logging
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// ServerConfig controls the HTTP API
type ServerConfig struct {
	Addr         string `mapstructure:"addr" yaml:"addr"`
	ReadTimeout  string `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// ScannersConfig controls file selection and which scanners run
type ScannersConfig struct {
	Enabled          []string `mapstructure:"enabled" yaml:"enabled"`
	MaxFileSize      int64    `mapstructure:"max_file_size" yaml:"max_file_size"`
	ExcludedDirs     []string `mapstructure:"excluded_dirs" yaml:"excluded_dirs"`
	BinaryExtensions []string `mapstructure:"binary_extensions" yaml:"binary_extensions"`
	RulesFile        string   `mapstructure:"rules_file" yaml:"rules_file"`
	CloneTimeout     string   `mapstructure:"clone_timeout" yaml:"clone_timeout"`
}

// JudgeConfig configures the false positive judge
type JudgeConfig struct {
	Provider          string  `mapstructure:"provider" yaml:"provider"`
	Model             string  `mapstructure:"model" yaml:"model"`
	APIKey            string  `mapstructure:"api_key" yaml:"api_key"`
	Timeout           string  `mapstructure:"timeout" yaml:"timeout"`
	MaxConcurrency    int     `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	MaxRetries        int     `mapstructure:"max_retries" yaml:"max_retries"`
	MaxExcerptLines   int     `mapstructure:"max_excerpt_lines" yaml:"max_excerpt_lines"`
}

// ScoringConfig holds every tunable of the scoring engine
type ScoringConfig struct {
	SeverityWeights    map[string]int  `mapstructure:"severity_weights" yaml:"severity_weights"`
	DeductionCap       int             `mapstructure:"deduction_cap" yaml:"deduction_cap"`
	BaseWeight         float64         `mapstructure:"base_weight" yaml:"base_weight"`
	CoverageWeight     float64         `mapstructure:"coverage_weight" yaml:"coverage_weight"`
	Grades             GradeThresholds `mapstructure:"grades" yaml:"grades"`
	PartialMaxFindings int             `mapstructure:"partial_max_findings" yaml:"partial_max_findings"`
	PartialMaxWeight   int             `mapstructure:"partial_max_weight" yaml:"partial_max_weight"`
}

// GradeThresholds are the minimum overall scores for each letter grade
type GradeThresholds struct {
	A int `mapstructure:"a" yaml:"a"`
	B int `mapstructure:"b" yaml:"b"`
	C int `mapstructure:"c" yaml:"c"`
	D int `mapstructure:"d" yaml:"d"`
}

// ScopeConfig restricts which sources may be scanned
type ScopeConfig struct {
	AllowedRoots []string `mapstructure:"allowed_roots" yaml:"allowed_roots"`
	AllowedHosts []string `mapstructure:"allowed_hosts" yaml:"allowed_hosts"`
}

// NotifyConfig configures completion webhooks
type NotifyConfig struct {
	WebhookURL string `mapstructure:"webhook_url" yaml:"webhook_url"`
}

// IssuesConfig configures filing GitHub issues for report recommendations.
// Assignees maps control IDs to GitHub logins; the "default" key covers
// controls without an entry.
type IssuesConfig struct {
	APIURL    string            `mapstructure:"api_url" yaml:"api_url"`
	Token     string            `mapstructure:"token" yaml:"token"`
	Timeout   string            `mapstructure:"timeout" yaml:"timeout"`
	Labels    []string          `mapstructure:"labels" yaml:"labels"`
	Assignees map[string]string `mapstructure:"assignees" yaml:"assignees"`
}

// Load reads configuration layered over DefaultConfig.
// If path is empty, searches for readyscan.yaml in current directory, ./configs
// and ~/.config/readyscan/. A missing file in search mode is not an error.
// Environment variables prefixed with READYSCAN_ override file values
// (for example READYSCAN_JUDGE_API_KEY).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("READYSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("readyscan")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")

		homeDir, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".config", "readyscan"))
		}
	}

	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path cannot be empty"))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q must be debug, info, warn or error", c.Log.Level))
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or text", c.Log.Format))
	}

	for _, name := range c.Scanners.Enabled {
		if !models.ScannerKind(name).Valid() {
			errs = append(errs, fmt.Errorf("scanners.enabled: unknown scanner %q", name))
		}
	}

	if c.Scanners.MaxFileSize <= 0 {
		errs = append(errs, errors.New("scanners.max_file_size must be positive"))
	}

	switch c.Judge.Provider {
	case "", "none", "claude", "gemini":
	default:
		errs = append(errs, fmt.Errorf("judge.provider %q must be none, claude or gemini", c.Judge.Provider))
	}

	if c.Judge.MaxConcurrency <= 0 {
		errs = append(errs, errors.New("judge.max_concurrency must be positive"))
	}

	if c.Judge.RequestsPerSecond <= 0 {
		errs = append(errs, errors.New("judge.requests_per_second must be positive"))
	}

	for name, raw := range map[string]string{
		"judge.timeout":          c.Judge.Timeout,
		"scanners.clone_timeout": c.Scanners.CloneTimeout,
		"server.read_timeout":    c.Server.ReadTimeout,
		"server.write_timeout":   c.Server.WriteTimeout,
		"issues.timeout":         c.Issues.Timeout,
	} {
		if _, err := parseDuration(raw); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if err := c.Scoring.Validate(); err != nil {
		errs = append(errs, err)
	}

	for control := range c.Issues.Assignees {
		if control == "default" {
			continue
		}
		if !hasControl(c.Controls, control) {
			errs = append(errs, fmt.Errorf("issues.assignees: unknown control %q", control))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate checks the scoring tunables. Errors here are fatal at startup.
func (s *ScoringConfig) Validate() error {
	var errs []error

	for _, sev := range models.Severities {
		w, ok := s.SeverityWeights[string(sev)]
		if !ok {
			errs = append(errs, fmt.Errorf("scoring.severity_weights missing %q", sev))
			continue
		}
		if w < 0 {
			errs = append(errs, fmt.Errorf("scoring.severity_weights.%s must not be negative", sev))
		}
	}

	if s.DeductionCap < 0 || s.DeductionCap > 100 {
		errs = append(errs, errors.New("scoring.deduction_cap must be between 0 and 100"))
	}

	if s.BaseWeight < 0 || s.CoverageWeight < 0 {
		errs = append(errs, errors.New("scoring.base_weight and scoring.coverage_weight must not be negative"))
	}
	if math.Abs(s.BaseWeight+s.CoverageWeight-1) > 1e-9 {
		errs = append(errs, errors.New("scoring.base_weight + scoring.coverage_weight must equal 1"))
	}

	g := s.Grades
	if !(g.A <= 100 && g.A > g.B && g.B > g.C && g.C > g.D && g.D >= 0) {
		errs = append(errs, errors.New("scoring.grades must satisfy 100 >= a > b > c > d >= 0"))
	}

	if s.PartialMaxFindings < 0 || s.PartialMaxWeight < 0 {
		errs = append(errs, errors.New("scoring partial thresholds must not be negative"))
	}

	return errors.Join(errs...)
}

func hasControl(controls []models.Control, id string) bool {
	for _, c := range controls {
		if strings.EqualFold(c.ID, id) {
			return true
		}
	}
	return false
}

// RequestTimeout bounds each GitHub API call.
func (i IssuesConfig) RequestTimeout() time.Duration {
	d, _ := parseDuration(i.Timeout)
	if d == 0 {
		return 15 * time.Second
	}
	return d
}

// CallTimeout is the per group deadline for judge calls.
func (j JudgeConfig) CallTimeout() time.Duration {
	d, _ := parseDuration(j.Timeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// Enabled reports whether a judge provider has been configured.
func (j JudgeConfig) Enabled() bool {
	return j.Provider != "" && j.Provider != "none" && j.APIKey != ""
}

// Timeout returns the clone deadline for git sources.
func (s ScannersConfig) Timeout() time.Duration {
	d, _ := parseDuration(s.CloneTimeout)
	if d == 0 {
		return 5 * time.Minute
	}
	return d
}

// Timeouts returns the read and write deadlines for the HTTP server.
func (s ServerConfig) Timeouts() (read, write time.Duration) {
	read, _ = parseDuration(s.ReadTimeout)
	write, _ = parseDuration(s.WriteTimeout)
	if read == 0 {
		read = 15 * time.Second
	}
	if write == 0 {
		write = 30 * time.Second
	}
	return read, write
}

// parseDuration accepts an empty string as zero.
func parseDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", raw)
	}
	return d, nil
}
