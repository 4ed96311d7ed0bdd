package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httphandler "github.com/PDI-Technologies/ns-sub003/internal/adapter/driving/http"
	"github.com/PDI-Technologies/ns-sub003/internal/metrics"
)

// NewServeCommand runs the scheduler and the status API until interrupted.
func NewServeCommand(root *RootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Sync on an interval and serve the status API",
		Long: `Run a pass for every configured entity type immediately, then again on
the configured interval. The HTTP API reports status, lists runs, serves
stored records, exposes Prometheus metrics and accepts manual triggers.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen != "" {
				root.cfg.ListenAddr = listen
			}
			return runServe(cmd, root)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, root *RootOptions) error {
	cfg := root.cfg

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	a.metrics = metrics.NewMetrics("nssync")

	svc, err := a.syncService(ctx)
	if err != nil {
		return err
	}

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		svc.Start(ctx)
	}()

	apiHandler := httphandler.NewHandler(svc, a.records, a.runs, a.db, slog.Default())
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(apiHandler, a.metrics, slog.Default()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Manual triggers hold the request open for a whole pass.
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	slog.Info("nssync started",
		"listen_addr", cfg.ListenAddr,
		"interval", cfg.Sync.Interval,
		"entities", svc.Entities(),
	)

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		stop()
		<-schedulerDone
		return err
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
	<-schedulerDone

	slog.Info("shutdown complete")
	return nil
}
