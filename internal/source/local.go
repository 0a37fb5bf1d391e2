// Package source turns a source descriptor into an immutable snapshot of
// scannable files.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hakim/readyscan/internal/config"
)

// Acquisition failures callers can report without the underlying error text.
var (
	ErrPathNotFound    = errors.New("source path does not exist")
	ErrNotDirectory    = errors.New("source path is not a directory")
	ErrAuthentication  = errors.New("repository authentication failed")
	ErrRepoNotFound    = errors.New("repository not found")
	ErrRefNotFound     = errors.New("ref not found in repository")
	ErrUnsupportedKind = errors.New("unsupported source kind")
)

// sniffLen is how much of a file is inspected for NUL bytes.
const sniffLen = 8000

// File is one scannable file. Path is slash separated and relative to the
// snapshot root.
type File struct {
	Path    string
	Content []byte
	Size    int64
}

// Skipped records a file that was excluded from the snapshot.
type Skipped struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Snapshot is the complete, path-sorted file set for one job. Scanners share
// it read-only.
type Snapshot struct {
	Root     string
	Revision string
	Files    []File
	Skipped  []Skipped
}

// Options controls which files enter a snapshot.
type Options struct {
	MaxFileSize      int64
	ExcludedDirs     []string
	BinaryExtensions []string
}

// OptionsFromConfig builds walker options from the scanners section.
func OptionsFromConfig(cfg config.ScannersConfig) Options {
	return Options{
		MaxFileSize:      cfg.MaxFileSize,
		ExcludedDirs:     cfg.ExcludedDirs,
		BinaryExtensions: cfg.BinaryExtensions,
	}
}

// Local walks root and loads every eligible file into memory.
func Local(ctx context.Context, root string, opts Options) (*Snapshot, error) {
	info, err := os.Stat(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("source: %w: %s", ErrPathNotFound, root)
	}
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source: %w: %s", ErrNotDirectory, root)
	}

	excluded := toSet(opts.ExcludedDirs)
	binary := toSet(opts.BinaryExtensions)
	snap := &Snapshot{Root: root}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if walkErr != nil {
			if path == root {
				return walkErr
			}
			snap.Skipped = append(snap.Skipped, Skipped{Path: rel, Reason: walkErr.Error()})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path != root && excluded[strings.ToLower(d.Name())] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		if binary[strings.ToLower(filepath.Ext(d.Name()))] {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			snap.Skipped = append(snap.Skipped, Skipped{Path: rel, Reason: err.Error()})
			return nil
		}
		if opts.MaxFileSize > 0 && fi.Size() > opts.MaxFileSize {
			snap.Skipped = append(snap.Skipped, Skipped{Path: rel, Reason: "exceeds size limit"})
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			snap.Skipped = append(snap.Skipped, Skipped{Path: rel, Reason: err.Error()})
			return nil
		}
		if isBinary(content) {
			snap.Skipped = append(snap.Skipped, Skipped{Path: rel, Reason: "binary content"})
			return nil
		}

		snap.Files = append(snap.Files, File{Path: rel, Content: content, Size: fi.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("source: walking %s: %w", root, err)
	}

	sort.Slice(snap.Files, func(i, j int) bool { return snap.Files[i].Path < snap.Files[j].Path })
	sort.Slice(snap.Skipped, func(i, j int) bool { return snap.Skipped[i].Path < snap.Skipped[j].Path })
	return snap, nil
}

func isBinary(content []byte) bool {
	head := content
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	return bytes.IndexByte(head, 0) >= 0
}

func toSet(names []string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[strings.ToLower(n)] = true
	}
	return m
}
