package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9.\-]+`)

// SanitizeName replaces characters unsafe for filesystem paths.
// Allows alphanumeric, dots, and hyphens. Replaces everything else with underscore.
func SanitizeName(name string) string {
	return unsafeName.ReplaceAllString(name, "_")
}

// ReportDirPath generates a consistent directory path for rendered reports
// Format: {baseDir}/{source}_{YYYYMMDD}_{HHMMSS}
func ReportDirPath(baseDir, source string, generatedAt time.Time) string {
	dirName := fmt.Sprintf("%s_%s", SanitizeName(source), generatedAt.UTC().Format("20060102_150405"))
	return filepath.Join(baseDir, dirName)
}

// CreateReportDir creates the directory for one report's rendered files.
func CreateReportDir(baseDir, source string, generatedAt time.Time) (string, error) {
	dir := ReportDirPath(baseDir, source, generatedAt)
	if err := EnsureDir(dir); err != nil {
		return "", err
	}
	return dir, nil
}

// EnsureDir creates a directory and all parent directories if they don't exist
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
