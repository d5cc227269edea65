// Package cmd provides the Cobra CLI for the proxy.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ddevcap/rpc-proxy/api"
	"github.com/ddevcap/rpc-proxy/api/handler"
	"github.com/ddevcap/rpc-proxy/backend"
	"github.com/ddevcap/rpc-proxy/config"
	"github.com/ddevcap/rpc-proxy/observe"
)

// Version and BuildTime are set at build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:          "rpc-proxy",
	Short:        "JSON-RPC reverse proxy with weighted load balancing and method routing",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Version = Version
	rootCmd.Flags().StringVarP(&cfgPath, "config", "c", "config.yaml", "path to configuration file")
}

// Execute runs the root command. Exits nonzero on any startup failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// SetVersionInfo sets version information for the CLI.
func SetVersionInfo(version, buildTime string) {
	Version = version
	BuildTime = buildTime
	rootCmd.Version = version + " (built " + buildTime + ")"
}

func run(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return err
	}

	slog.Info("configuration loaded", "path", cfgPath, "backends", len(cfg.Backends))
	for _, b := range cfg.Backends {
		slog.Info("backend", "label", b.Label, "url", b.URL, "weight", b.Weight)
	}
	for method, label := range cfg.MethodRoutes {
		slog.Info("method route", "method", method, "backend", label)
	}

	reg := prometheus.NewRegistry()
	metrics := observe.NewMetrics(reg)

	store := backend.NewStore(cfg.Labels(),
		cfg.HealthCheck.ConsecutiveFailuresThreshold,
		cfg.HealthCheck.ConsecutiveSuccessesThreshold)
	pool := backend.NewPool()
	dispatcher := backend.NewDispatcher(cfg.Backends, cfg.MethodRoutes, store)

	// Start the background monitor so unhealthy backends drop out of the
	// routing decision.
	monitor := backend.NewMonitor(pool, store, cfg.Backends, cfg.HealthCheck, metrics)
	monitor.Start(context.Background())

	hub := handler.NewWSHub()
	h, stopAuth := api.NewRouter(cfg, store, dispatcher, pool, metrics, reg, hub)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	// Start the server in a goroutine so we can listen for shutdown signals.
	// A bind failure surfaces on errc and aborts startup.
	errc := make(chan error, 1)
	go func() {
		slog.Info("rpc proxy listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errc:
		slog.Error("server error", "error", err)
		return err
	case <-quit:
	}
	slog.Info("shutting down server...")

	hub.Shutdown()
	monitor.Stop()
	stopAuth()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	slog.Info("server stopped")
	return nil
}
