package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ducminhle1904/crypto-risk-engine/pkg/reporting"
)

func newServeMux(a *app) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	mux.Handle("/health", a.health)
	mux.Handle("/healthz", a.health)
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		equity, err := strconv.ParseFloat(r.URL.Query().Get("equity"), 64)
		if err != nil {
			http.Error(w, "equity query parameter is required", http.StatusBadRequest)
			return
		}
		status, err := a.engine.Status(r.Context(), equity)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		reporting.PrintJSON(w, status)
	})
	return mux
}

func newServeMetricsCmd(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve-metrics",
		Short: "Serve Prometheus metrics, health and status over HTTP",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, a *app, _ []string) error {
			if addr == "" {
				addr = a.cfg.Monitoring.MetricsAddr
			}

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			server := &http.Server{
				Addr:              addr,
				Handler:           newServeMux(a),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.log.Info("Starting metrics server on %s (/metrics, /healthz, /status)", addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("metrics server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			a.log.Info("Shutting down metrics server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		}),
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from monitoring.metrics_addr)")
	return cmd
}
