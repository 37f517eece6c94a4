package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mailsift/mailsift/internal/api"
	"github.com/mailsift/mailsift/internal/gmail"
	"github.com/mailsift/mailsift/internal/retrieve"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the retrieval operations over HTTP",
	Long: `Run the HTTP API in the foreground.

Endpoints:
  GET  /health
  POST /api/v1/messages/batch                 {"ids": ["..."]}
  GET  /api/v1/messages/{id}
  GET  /api/v1/messages/by-message-id/{messageID}
  GET  /api/v1/search?q=&label=&max=
  GET  /api/v1/senders/{sender}/history?before=&exclude=

Configure in config.toml:
  [server]
  bind_addr = "127.0.0.1"
  api_port = 8080
  api_key = "..."         # required by clients as Bearer token or X-API-Key
  rate_limit_rps = 10     # per client, 0 disables

Use Ctrl+C to stop the server gracefully.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(svc *retrieve.Service, _ gmail.API) error {
			srv := api.NewServer(cfg, svc, logger)
			fmt.Fprintf(cmd.OutOrStdout(), "mailsift API listening on http://%s\nPress Ctrl+C to stop.\n", cfg.ServerAddr())
			return serveUntilDone(cmd.Context(), cmd.OutOrStdout(), srv)
		})
	},
}

// httpServer is the part of api.Server that serveUntilDone drives.
type httpServer interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// serveUntilDone runs srv until ctx is cancelled or the server fails, then
// shuts it down.
func serveUntilDone(ctx context.Context, out io.Writer, srv httpServer) error {
	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err, ok := <-serverErr:
		if ok {
			logger.Error("API server error", "error", err)
			runErr = fmt.Errorf("api server: %w", err)
		}
	}

	fmt.Fprintln(out, "Shutting down API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", "error", err)
		if runErr == nil {
			runErr = fmt.Errorf("shutdown: %w", err)
		}
	}
	return runErr
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
