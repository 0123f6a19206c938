package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	relay "github.com/offlinekit/relay"
	"github.com/offlinekit/relay/internal/logging"
	"github.com/offlinekit/relay/online"
)

// forwardFnName is the mutation function relayd registers for all drafts.
const forwardFnName = "forward"

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the outbox daemon",
		Long: `Start relayd: acquire leadership, replay the persisted outbox, and
forward queued transactions to the configured remote endpoint until
interrupted.

Example:
  relayd run --config relayd.yaml
  RELAY_REMOTE_URL=https://api.example.com/mutations relayd run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Load(rootOpts.viper)
			if err != nil {
				return err
			}
			return runDaemon(cmd.Context(), cfg, rootOpts)
		},
	}
}

func runDaemon(ctx context.Context, cfg DaemonConfig, rootOpts *RootOptions) error {
	level := cfg.LogLevel
	if rootOpts.Verbose {
		level = "debug"
	}
	logger, err := logging.NewLogger(level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	storage, storageCloser, err := buildStorage(cfg, logger)
	if err != nil {
		return err
	}
	defer storageCloser.Close()

	election, electionCloser, err := buildElection(cfg, logger)
	if err != nil {
		return err
	}
	defer electionCloser.Close()

	var detector relay.OnlineDetector
	if cfg.ProbeURL != "" {
		logger.Info("probing connectivity",
			zap.String("url", cfg.ProbeURL), zap.Duration("interval", cfg.ProbeInterval))
		detector = online.NewProber(cfg.ProbeURL, online.WithInterval(cfg.ProbeInterval))
	}

	registry := prometheus.NewRegistry()
	coordinator, err := relay.New(ctx, relay.Config{
		Collections: collectionRegistry(cfg.Collections),
		MutationFns: map[string]relay.MutationFn{
			forwardFnName: newForwarder(cfg.RemoteURL, nil),
		},
		Storage:        storage,
		LeaderElection: election,
		OnlineDetector: detector,
		OnLeadershipChange: func(isLeader bool) {
			logger.Info("leadership transition", zap.Bool("isLeader", isLeader))
		},
		Logger:  logger,
		Metrics: registry,
	})
	if err != nil {
		return err
	}

	var metricsServer *http.Server
	if cfg.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: cfg.MetricsAddress, Handler: mux}
		go func() {
			logger.Info("serving metrics", zap.String("addr", cfg.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	logger.Info("relayd started",
		zap.String("remote", cfg.RemoteURL),
		zap.Bool("leader", coordinator.IsOfflineEnabled()))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("shutting down", zap.String("reason", "context cancelled"))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	return coordinator.Dispose(shutdownCtx)
}
