package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hakim/readyscan/internal/judge"
	"github.com/hakim/readyscan/internal/pipeline"
	"github.com/hakim/readyscan/internal/storage"
)

// app bundles the long-lived objects a command needs.
type app struct {
	store *storage.BoltStore
	orch  *pipeline.Orchestrator
}

// openApp opens the job database and builds an orchestrator over it.
func openApp(ctx context.Context) (*app, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded. Run 'readyscan init' first to create config")
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := storage.EnsureDir(dir); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", cfg.DBPath, err)
	}

	deps := pipeline.Deps{Store: store, Logger: log}
	j, err := judge.New(ctx, cfg.Judge)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("configuring judge: %w", err)
	}
	// Assign only a non-nil judge so the interface stays nil when disabled.
	if j != nil {
		deps.Judge = j
	}

	orch, err := pipeline.New(cfg, deps)
	if err != nil {
		store.Close()
		return nil, err
	}
	return &app{store: store, orch: orch}, nil
}

// Close stops running jobs and closes the database.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.orch.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "[!] Warning: jobs still running at shutdown: %v\n", err)
	}
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "[!] Warning: closing database: %v\n", err)
	}
}

// shortID returns the first 8 characters of a UUID followed by "..." for
// compact table display.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "..."
}
