package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/oriys/funcall/internal/config"
	"github.com/oriys/funcall/internal/endpoint"
	"github.com/oriys/funcall/internal/executor"
	"github.com/oriys/funcall/internal/logging"
	"github.com/oriys/funcall/internal/metrics"
	"github.com/oriys/funcall/internal/observability"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func executorCmd() *cobra.Command {
	var (
		httpAddr        string
		callLogPath     string
		shutdownTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "executor",
		Short: "Serve the demo functions to remote callers",
		Long:  "Run an executor daemon serving hello, add, sub, echo and fail until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("http-addr") {
				cfg.Daemon.HTTPAddr = httpAddr
			}
			if cmd.Flags().Changed("call-log") {
				cfg.Daemon.CallLogPath = callLogPath
			}
			if cfg.Transport.Kind == config.TransportMemory {
				logging.Op().Warn("memory transport only reaches callers in this process")
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdownTracing, err := initAmbient(ctx, cfg, "executor")
			if err != nil {
				return err
			}
			defer shutdownTracing()

			callLog := logging.Default()
			if cfg.Daemon.CallLogPath != "" {
				if err := callLog.SetOutput(cfg.Daemon.CallLogPath); err != nil {
					return fmt.Errorf("open call log: %w", err)
				}
				defer callLog.Close()
			}

			tr, release, err := newTransport(cfg, nil)
			if err != nil {
				return err
			}
			defer release()

			exec := executor.New(tr,
				executor.WithRegistry(demoRegistry()),
				executor.WithLogger(callLog),
				executor.WithTickInterval(cfg.Endpoint.TickInterval.Std()),
			)
			return serveExecutor(ctx, exec, cfg.Daemon.HTTPAddr, shutdownTimeout)
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "Address for /metrics and /healthz (empty disables)")
	cmd.Flags().StringVar(&callLogPath, "call-log", "", "Append a JSON line per executed call to this file")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "How long to wait for running functions on shutdown")

	return cmd
}

// serveExecutor runs exec, and the admin HTTP server when httpAddr is set,
// until ctx is cancelled.
func serveExecutor(ctx context.Context, exec *executor.Executor, httpAddr string, shutdownTimeout time.Duration) error {
	if err := exec.Start(ctx); err != nil {
		return err
	}
	logging.Op().Info("executor started", "functions", exec.Functions())

	g, gctx := errgroup.WithContext(ctx)

	if httpAddr != "" {
		srv := &http.Server{
			Addr:              httpAddr,
			Handler:           observability.HTTPMiddleware(adminMux(exec)),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logging.Op().Info("admin HTTP server listening", "addr", httpAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin HTTP server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logging.Op().Info("shutdown signal received")
		if err := exec.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, endpoint.ErrOrdering) {
			return fmt.Errorf("executor shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func adminMux(exec *executor.Executor) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.PrometheusHandler())
	mux.Handle("/metrics.json", metrics.Global().JSONHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !exec.Running() || !exec.Transport().IsConnected() {
			http.Error(w, "not connected", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})
	return mux
}
