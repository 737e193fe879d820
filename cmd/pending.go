package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/siteharvest/harvester/internal/harvest"
)

func newPendingCmd() *cobra.Command {
	var (
		status  string
		sitemap string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List stored url records by status.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if status == "" {
				status = cfg.Harvest.StatusFilter
			}
			if limit <= 0 {
				limit = cfg.Harvest.Limit
			}

			store, err := buildStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.QueryPending(cmd.Context(), harvest.PendingFilter{
				Status:     harvest.Status(status),
				SitemapURL: sitemap,
				Limit:      limit,
			})
			if err != nil {
				return err
			}
			logger.Info("records matched", zap.Int("count", len(records)))

			enc := json.NewEncoder(os.Stdout)
			for _, rec := range records {
				if err := enc.Encode(rec); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, processing, completed, error)")
	cmd.Flags().StringVar(&sitemap, "sitemap", "", "filter by originating sitemap url")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows to return")

	return cmd
}
