package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/siteharvest/harvester/internal/api"
	"github.com/siteharvest/harvester/internal/cancel"
	"github.com/siteharvest/harvester/internal/config"
	"github.com/siteharvest/harvester/internal/engine"
	"github.com/siteharvest/harvester/internal/events"
	"github.com/siteharvest/harvester/internal/events/sinks"
	"github.com/siteharvest/harvester/internal/extractor"
	collyfetcher "github.com/siteharvest/harvester/internal/fetcher/colly"
	"github.com/siteharvest/harvester/internal/fetcher/headless"
	"github.com/siteharvest/harvester/internal/harvest"
	"github.com/siteharvest/harvester/internal/id/uuid"
	"github.com/siteharvest/harvester/internal/ledger"
	"github.com/siteharvest/harvester/internal/publisher/pubsub"
	"github.com/siteharvest/harvester/internal/scheduler"
	"github.com/siteharvest/harvester/internal/sitemap"
	"github.com/siteharvest/harvester/internal/store/memory"
	"github.com/siteharvest/harvester/internal/store/postgres"
	"github.com/siteharvest/harvester/internal/throttle"
)

func newHarvestCmd() *cobra.Command {
	var (
		rootOnly       bool
		checkpointPath string
		strategy       string
	)

	cmd := &cobra.Command{
		Use:   "harvest <site>",
		Short: "Resolve a site's sitemaps and harvest every page.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if cmd.Flags().Changed("root-only") {
				cfg.Harvest.RootOnly = rootOnly
			}
			if checkpointPath != "" {
				cfg.Checkpoint.Path = checkpointPath
			}
			if strategy != "" {
				cfg.Fetch.Strategy = strategy
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			return runHarvest(cmd.Context(), cfg, logger, args[0])
		},
	}

	cmd.Flags().BoolVar(&rootOnly, "root-only", false, "reduce discovered urls to one root per domain")
	cmd.Flags().StringVar(&checkpointPath, "checkpoint", "", "progress checkpoint file (overrides config)")
	cmd.Flags().StringVar(&strategy, "strategy", "", "fetch strategy: colly or headless (overrides config)")

	return cmd
}

func runHarvest(ctx context.Context, cfg config.Config, logger *zap.Logger, site string) error {
	ctrl := cancel.New()
	ctrl.Install(logger)

	reporter, cleanup, err := buildReporter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancelClose := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancelClose()
		if err := reporter.Close(closeCtx); err != nil {
			logger.Warn("reporter close", zap.Error(err))
		}
		cleanup()
	}()

	store, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ldg, err := ledger.Load(cfg.Checkpoint.Path)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	fetcher, closeFetcher, err := buildFetcher(cfg)
	if err != nil {
		return err
	}
	defer closeFetcher()

	thr := throttle.New(throttle.Config{
		DefaultRPS: cfg.Throttle.DefaultRPS,
		Rates:      cfg.Throttle.Rates,
		JitterMin:  cfg.JitterMin(),
		JitterMax:  cfg.JitterMax(),
	})

	sched := scheduler.New(
		fetcher,
		extractor.New(),
		store,
		ldg,
		thr,
		reporter,
		harvest.NewExponentialRetryPolicy(cfg.Fetch.MaxRetries, cfg.BackoffInitial(), cfg.BackoffMax()),
		ctrl,
		harvest.SystemClock{},
		logger,
		scheduler.Config{
			GlobalConcurrency: cfg.Harvest.Concurrency,
			BatchSize:         cfg.Harvest.BatchSize,
			InterBatchDelay:   cfg.InterBatchDelay(),
			DomainConcurrency: cfg.Harvest.DomainConcurrency,
			StrictDomains:     cfg.Harvest.StrictDomains,
		},
	)

	resolver := sitemap.New(fetcher, reporter, ctrl, logger, sitemap.Config{
		RootOnly: cfg.Harvest.RootOnly,
	})

	eng := engine.New(engine.Deps{
		Resolver:  resolver,
		Scheduler: sched,
		Store:     store,
		Ledger:    ldg,
		Emitter:   reporter,
		Ctrl:      ctrl,
		Clock:     harvest.SystemClock{},
		IDGen:     uuid.New(),
		Logger:    logger,
	})

	if cfg.Server.Enabled {
		srv := api.NewServer(eng, logger)
		srv.Start(cfg.Server.Port)
		defer func() {
			shutCtx, cancelShut := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelShut()
			if err := srv.Shutdown(shutCtx); err != nil {
				logger.Warn("status server shutdown", zap.Error(err))
			}
		}()
	}

	_, err = eng.Run(ctx, site)
	return err
}

// buildReporter assembles the event pipeline: a line stream on stdout, a
// zap mirror, Prometheus counters, and optionally a Pub/Sub bridge.
func buildReporter(ctx context.Context, cfg config.Config, logger *zap.Logger) (*events.Reporter, func(), error) {
	sinkList := []events.Sink{
		sinks.NewStreamSink(os.Stdout),
		sinks.NewLogSink(logger),
		sinks.NewPrometheusSink(),
	}
	cleanup := func() {}

	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		client, err := gcppubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("create pubsub client: %w", err)
		}
		sinkList = append(sinkList, sinks.NewPublisherSink(pubsub.New(client), cfg.PubSub.TopicName))
		cleanup = func() {
			if err := client.Close(); err != nil {
				logger.Warn("pubsub client close", zap.Error(err))
			}
		}
	}

	reporter := events.NewReporter(events.Config{Logger: logger}, sinkList...)
	return reporter, cleanup, nil
}

// buildStore picks Postgres when a DSN is configured, otherwise an
// in-memory store for single-shot runs.
func buildStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (harvest.Store, error) {
	if cfg.DB.DSN == "" {
		logger.Info("no db.dsn configured, using in-memory store")
		return memory.New(), nil
	}
	store, err := postgres.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func buildFetcher(cfg config.Config) (harvest.Fetcher, func(), error) {
	switch cfg.Fetch.Strategy {
	case "headless":
		f, err := headless.New(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Fetch.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("start headless fetcher: %w", err)
		}
		return f, f.Close, nil
	default:
		f := collyfetcher.New(collyfetcher.Config{
			UserAgent: cfg.Fetch.UserAgent,
			Timeout:   cfg.FetchTimeout(),
		})
		return f, func() {}, nil
	}
}
