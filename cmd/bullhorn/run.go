package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/groblegark/bullhorn/internal/classify"
	"github.com/groblegark/bullhorn/internal/config"
	"github.com/groblegark/bullhorn/internal/dispatch"
	"github.com/groblegark/bullhorn/internal/notify"
	"github.com/groblegark/bullhorn/internal/relay"
	"github.com/groblegark/bullhorn/internal/seen"
	"github.com/groblegark/bullhorn/internal/snapshot"
	"github.com/groblegark/bullhorn/internal/status"
	"github.com/groblegark/bullhorn/internal/watch"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch relays and dispatch notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		logger := newLogger(cfg.LogLevel)

		// Seen store.
		store, err := openStore(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		// Sinks.
		sinks, closers, err := buildSinks(cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			for _, c := range closers {
				if err := c.Close(); err != nil {
					logger.Error("closing sink", "err", err)
				}
			}
		}()
		if len(sinks) == 0 {
			return fmt.Errorf("no sinks configured")
		}

		dispatcher := dispatch.New(sinks, cfg.DispatchAttempts, cfg.DispatchBackoff, logger)
		classifier := classify.New(store, cfg.PrimaryPubKey, cfg.AllowedPubKeys,
			classify.ZapMatch(cfg.ZapMatch), logger)
		builder := notify.NewBuilder(logger)

		filters := relay.SubscriptionFilters(cfg.PrimaryPubKey, cfg.WatchSet())
		pool := relay.NewPool(cfg.Relays, filters, logger)

		opts := watch.Options{
			AggregateWindow: cfg.ZapAggregateWindow,
			RemindBefore:    cfg.RemindBefore,
		}

		// Status server. The snapshot source closes over the watcher, so
		// wire the broadcast hook before constructing it.
		var statusServer *status.Server
		if cfg.StatusAddr != "off" {
			opts.OnNotify = func(n *notify.Notification) { statusServer.Broadcast(n) }
		}
		watcher := watch.New(classifier, builder, dispatcher, opts, logger)
		if cfg.StatusAddr != "off" {
			statusServer = status.New(cfg.StatusAddr, func() status.Snapshot {
				return status.Snapshot{
					Relays:   pool.Status(),
					Counters: watcher.Counters().Snapshot(),
				}
			}, logger)
			statusServer.Start()
		}

		// Snapshot scheduler.
		var scheduler *snapshot.Scheduler
		if cfg.SnapshotInterval > 0 && cfg.SnapshotS3Bucket != "" {
			dest, err := snapshot.NewS3Destination(cmd.Context(),
				cfg.SnapshotS3Bucket, cfg.SnapshotS3Key, cfg.SnapshotS3Region, cfg.SnapshotS3Endpoint)
			if err != nil {
				return fmt.Errorf("snapshot destination: %w", err)
			}
			scheduler = snapshot.NewScheduler(store, []snapshot.Destination{dest}, cfg.SnapshotInterval, logger)
			scheduler.Start()
			logger.Info("snapshot scheduler started",
				"bucket", cfg.SnapshotS3Bucket, "interval", cfg.SnapshotInterval)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger.Info("bullhorn started",
			"relays", len(cfg.Relays),
			"watched", len(cfg.WatchSet()),
			"sinks", len(sinks),
		)

		pool.Start(ctx)
		runErr := watcher.Run(ctx, pool.Events())

		// Graceful shutdown.
		if scheduler != nil {
			scheduler.Stop()
			logger.Info("snapshot scheduler stopped")
		}
		if statusServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := statusServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("status server shutdown error", "err", err)
			}
		}

		if runErr != nil {
			logger.Error("pipeline failed", "err", runErr)
			return runErr
		}
		logger.Info("shutdown complete")
		return nil
	},
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (seen.Store, error) {
	switch cfg.SeenStore {
	case "postgres":
		store, err := seen.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres seen store: %w", err)
		}
		logger.Info("seen store ready", "backend", "postgres")
		return store, nil
	case "redis":
		store, err := seen.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis seen store: %w", err)
		}
		logger.Info("seen store ready", "backend", "redis")
		return store, nil
	case "memory":
		logger.Warn("memory seen store selected: dedup state is lost on restart and past events will re-notify")
		return seen.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown seen store %q", cfg.SeenStore)
	}
}

// buildSinks instantiates the configured sinks and returns any that need an
// explicit Close on shutdown.
func buildSinks(cfg *config.Config, logger *slog.Logger) ([]dispatch.Sink, []interface{ Close() error }, error) {
	var (
		sinks   []dispatch.Sink
		closers []interface{ Close() error }
	)
	for _, name := range cfg.Sinks {
		switch name {
		case "terminal":
			sinks = append(sinks, dispatch.NewTerminalSink(os.Stdout))
		case "ntfy":
			topic := cfg.NtfyTopic
			if topic == "" {
				t, err := config.LoadOrCreateTopic()
				if err != nil {
					return nil, nil, fmt.Errorf("ntfy topic: %w", err)
				}
				topic = t
			}
			sink := dispatch.NewNtfySink(cfg.NtfyEndpoint, topic)
			sinks = append(sinks, sink)
			printTopic(sink.URL())
		case "nats":
			sink, err := dispatch.NewNATSSink(cfg.NATSURL)
			if err != nil {
				return nil, nil, err
			}
			sinks = append(sinks, sink)
			closers = append(closers, sink)
			logger.Info("nats sink enabled", "url", cfg.NATSURL)
		case "kafka":
			sink := dispatch.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
			sinks = append(sinks, sink)
			closers = append(closers, sink)
			logger.Info("kafka sink enabled", "topic", cfg.KafkaTopic)
		default:
			return nil, nil, fmt.Errorf("unknown sink %q", name)
		}
	}
	return sinks, closers, nil
}
