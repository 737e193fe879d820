package cmd

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/siteharvest/harvester/internal/cancel"
	"github.com/siteharvest/harvester/internal/events"
	"github.com/siteharvest/harvester/internal/events/sinks"
	"github.com/siteharvest/harvester/internal/harvest"
	"github.com/siteharvest/harvester/internal/sitemap"
)

func newResolveCmd() *cobra.Command {
	var rootOnly bool

	cmd := &cobra.Command{
		Use:   "resolve <site>",
		Short: "Walk a site's sitemap tree and stream the discovered urls.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctrl := cancel.New()
			ctrl.Install(logger)

			reporter := events.NewReporter(
				events.Config{Logger: logger},
				sinks.NewStreamSink(os.Stdout),
			)
			defer func() {
				closeCtx, cancelClose := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancelClose()
				if err := reporter.Close(closeCtx); err != nil {
					logger.Warn("reporter close", zap.Error(err))
				}
			}()

			fetcher, closeFetcher, err := buildFetcher(cfg)
			if err != nil {
				return err
			}
			defer closeFetcher()

			if cmd.Flags().Changed("root-only") {
				cfg.Harvest.RootOnly = rootOnly
			}

			sitemapURL, err := harvest.SitemapURL(args[0])
			if err != nil {
				return err
			}

			resolver := sitemap.New(fetcher, reporter, ctrl, logger, sitemap.Config{
				RootOnly: cfg.Harvest.RootOnly,
			})
			found, err := resolver.Resolve(cmd.Context(), sitemapURL)
			if err != nil {
				return err
			}
			logger.Info("resolution finished", zap.Int("urls", len(found)))
			return nil
		},
	}

	cmd.Flags().BoolVar(&rootOnly, "root-only", false, "reduce discovered urls to one root per domain")

	return cmd
}
