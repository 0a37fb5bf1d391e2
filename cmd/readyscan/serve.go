package main

import (
	"fmt"

	"github.com/hakim/readyscan/internal/api"
	"github.com/hakim/readyscan/internal/issues"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scan API server",
	Long: `Serve the HTTP API. Jobs left running by a previous process are marked
failed before the listener opens.

Endpoints:
  POST   /api/v1/scans          start a scan (202 with job_id)
  GET    /api/v1/scans          list jobs
  GET    /api/v1/scans/{id}     job status
  DELETE /api/v1/scans/{id}     cancel a running job
  GET    /api/v1/reports        list report summaries
  GET    /api/v1/reports/{id}   report (202 while running, 409 when failed)
  POST   /api/v1/reports/{id}/issues
                                file GitHub issues for recommendations
  GET    /api/v1/controls       control catalog
  GET    /health, /metrics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		if addr != "" {
			cfg.Server.Addr = addr
		}

		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.orch.Recover(ctx)
		if err != nil {
			return fmt.Errorf("recovering interrupted jobs: %w", err)
		}
		if n > 0 {
			log.Warn("marked interrupted jobs failed", "count", n)
		}

		read, write := cfg.Server.Timeouts()
		srv := api.NewServer(a.orch, api.Options{
			Addr:         cfg.Server.Addr,
			ReadTimeout:  read,
			WriteTimeout: write,
			Issues:       issues.New(cfg.Issues, log),
		}, log)
		return srv.ListenAndServe(ctx)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}
