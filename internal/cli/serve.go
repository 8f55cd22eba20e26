package cli

import (
	"github.com/spf13/cobra"

	"github.com/sprite-ai/revloop/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start an HTTP server exposing the revloop review engine.

Endpoints:
  GET  /health                  - Health check
  POST /api/review              - Review an uploaded file (multipart "file" or JSON)
  POST /api/analyze             - Run the analyzers only
  GET  /api/history/{identity}  - Trend entries and digest of a file
  GET  /api/ws                  - WebSocket streaming review progress
  GET  /metrics                 - Prometheus metrics`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("addr", "a", "", "address to listen on (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := api.New(api.Config{
		Addr:            a.cfg.Server.Addr,
		MaxUploadBytes:  a.cfg.Server.MaxUploadBytes,
		ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
		Threshold:       a.cfg.Review.Threshold,
		AllowedOrigins:  a.cfg.Server.AllowedOrigins,
	}, a.orch, a.log)
	return srv.ListenAndServe(cmd.Context())
}
