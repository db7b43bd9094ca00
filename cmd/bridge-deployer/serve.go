package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/OneStable-limited/onestable-bridge/internal/handler"
	"github.com/OneStable-limited/onestable-bridge/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the deployment status API",
	Long: `Serve recorded deployment state over HTTP:

  GET /health
  GET /metrics
  GET /v1/networks
  GET /v1/networks/{network}
  GET /v1/networks/{network}/nodes?status=&kind=
  GET /v1/networks/{network}/nodes/{nodeID}`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	checks := map[string]handler.Check{
		"state": func(ctx context.Context) error {
			_, err := a.store.ListNetworks(ctx)
			return err
		},
	}
	if a.postgres != nil {
		checks["database"] = a.postgres.Ping
	}

	srv := &http.Server{
		Addr: a.cfg.Server.Addr(),
		Handler: handler.NewRouter(handler.RouterConfig{
			Status:      handler.NewStatusHandler(a.store, a.logger),
			Metrics:     metrics.New(),
			Checks:      checks,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			Logger:      a.logger,
		}),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	a.logger.Info("Server stopped gracefully")
	return nil
}
