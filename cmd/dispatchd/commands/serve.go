package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/muxd/dispatchd/internal/admin"
	"github.com/muxd/dispatchd/internal/audit"
	"github.com/muxd/dispatchd/internal/dispatch"
	"github.com/muxd/dispatchd/internal/logger"
	"github.com/muxd/dispatchd/internal/queue"
	"github.com/muxd/dispatchd/internal/telemetry"
	"github.com/muxd/dispatchd/pkg/config"
	"github.com/muxd/dispatchd/pkg/metrics"
	metricsprom "github.com/muxd/dispatchd/pkg/metrics/prometheus"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dispatcher",
	Long: `Run the dispatcher in the foreground: bind every configured listener,
connect to the upstream queue, and start accepting connections until an
interrupt signal or an unrecoverable upstream failure.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "dispatchd",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "dispatchd",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.Err(err))
		}
	}()

	logger.Info("configuration loaded", "source", getConfigSource(GetConfigFile()))

	var registry *prom.Registry
	if cfg.Metrics.Enabled {
		registry = prom.NewRegistry()
		metrics.InitRegistry(registry)
		logger.Info("metrics enabled")
	} else {
		logger.Info("metrics disabled")
	}
	dispatchMetrics := metricsprom.NewDispatchMetrics()

	ledger, err := audit.New(cfg.Audit)
	if err != nil {
		return fmt.Errorf("failed to initialize audit ledger: %w", err)
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			logger.Error("audit ledger close error", logger.Err(err))
		}
	}()

	q, err := queue.New(cfg.Queue)
	if err != nil {
		return fmt.Errorf("failed to initialize upstream queue: %w", err)
	}

	d, err := dispatch.New(cfg, q, dispatchMetrics, ledger)
	if err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}

	var adminServer *admin.Server
	adminDone := make(chan error, 1)
	if cfg.Admin.Enabled {
		adminServer = admin.NewServer(cfg.Admin.Address, d, registry)
		go func() { adminDone <- adminServer.Start(ctx) }()
		logger.Info("admin server enabled", "address", cfg.Admin.Address)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("dispatcher running, press Ctrl+C to stop")

	select {
	case <-sigCh:
		signal.Stop(sigCh)
		logger.Info("shutdown signal received, draining connections")
	case <-aliveWatch(ctx, d):
		logger.Warn("dispatcher no longer alive, shutting down")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout+5*time.Second)
	defer shutdownCancel()

	if err := d.Shutdown(shutdownCtx); err != nil {
		logger.Error("dispatcher shutdown error", logger.Err(err))
	}

	if adminServer != nil {
		<-adminDone
	}

	logger.Info("dispatcher stopped")
	return nil
}

// aliveWatch signals once the dispatcher stops being alive on its own —
// the upstream failed and every connection has drained — so serve can
// shut down even without an operator-sent signal.
func aliveWatch(ctx context.Context, d *dispatch.Dispatcher) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !d.Alive() {
					return
				}
			}
		}
	}()
	return done
}
