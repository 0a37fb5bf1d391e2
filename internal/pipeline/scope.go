package pipeline

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/hakim/readyscan/internal/models"
)

// Scope defines which sources may be scanned.
// An empty Scope (no rules) allows any source.
type Scope struct {
	// AllowedRoots lists directories a local source must live under.
	AllowedRoots []string

	// AllowedHosts lists git hosts a remote source may point at.
	// Wildcard prefix ("*.example.com") matches any single-label subdomain.
	// Exact entry ("github.com") matches only that literal value.
	AllowedHosts []string
}

// ValidateSource checks a descriptor against the scope rules.
// Returns nil if allowed, an *models.InputError if out of scope.
func (s *Scope) ValidateSource(src models.SourceDescriptor) error {
	switch src.Kind {
	case models.SourceLocal:
		return s.validateRoot(src.Path)
	case models.SourceGit:
		return s.validateHost(src.URL)
	}
	return nil
}

func (s *Scope) validateRoot(path string) error {
	if len(s.AllowedRoots) == 0 {
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return &models.InputError{Field: "path", Reason: err.Error()}
	}
	for _, root := range s.AllowedRoots {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(rootAbs, abs)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil
		}
	}
	return &models.InputError{
		Field:  "path",
		Reason: fmt.Sprintf("%q is outside allowed roots (%s)", path, strings.Join(s.AllowedRoots, ", ")),
	}
}

func (s *Scope) validateHost(raw string) error {
	if len(s.AllowedHosts) == 0 {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return &models.InputError{Field: "url", Reason: "cannot determine host"}
	}
	for _, pattern := range s.AllowedHosts {
		if hostMatches(u.Hostname(), pattern) {
			return nil
		}
	}
	return &models.InputError{
		Field:  "url",
		Reason: fmt.Sprintf("host %q is outside allowed scope (%s)", u.Hostname(), strings.Join(s.AllowedHosts, ", ")),
	}
}

// hostMatches returns true when host satisfies the scope pattern.
//
//   - "*.example.com" matches "git.example.com" but not "example.com" or
//     "a.git.example.com" (single wildcard label only).
//   - "github.com" matches only the exact string "github.com".
//   - Comparison is case-insensitive.
func hostMatches(host, pattern string) bool {
	host = strings.ToLower(host)
	pattern = strings.ToLower(pattern)

	if !strings.HasPrefix(pattern, "*.") {
		return host == pattern
	}

	suffix := pattern[2:]
	if !strings.HasSuffix(host, "."+suffix) {
		return false
	}

	// The part before the suffix must be a single label (no dots).
	label := host[:len(host)-len(suffix)-1]
	return len(label) > 0 && !strings.Contains(label, ".")
}
