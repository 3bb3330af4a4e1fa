package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wfan24990-glitch/rag-fastapi/internal/app"
	"github.com/wfan24990-glitch/rag-fastapi/internal/crawl"
	"github.com/wfan24990-glitch/rag-fastapi/internal/state"
)

func newCrawlCmd() *cobra.Command {
	var (
		mode     string
		maxPages int
		dryRun   bool
	)

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl to completion",
		Long: `Fetches listing pages from the configured news site, ingests new
articles into the vector index and records the run in crawl state.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m := state.Mode(mode)
			if m != state.ModeIncremental && m != state.ModeFull {
				return fmt.Errorf("mode must be incremental or full, got %q", mode)
			}

			a, err := app.New(cfgFile)
			if err != nil {
				return err
			}
			defer a.Close()

			stats := a.Spider.Run(cmd.Context(), crawl.Params{
				RunID:    uuid.New().String(),
				Mode:     m,
				MaxPages: maxPages,
				DryRun:   dryRun,
			})

			a.Logger.Info("crawl finished",
				zap.String("run_id", stats.RunID),
				zap.String("status", string(stats.Status)),
				zap.Int("ingested", stats.IngestedCount),
				zap.Int("skipped", stats.SkippedCount),
				zap.Int("errors", stats.ErrorCount),
			)
			if stats.Status == state.RunStatusFailed {
				return fmt.Errorf("crawl run %s failed", stats.RunID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(state.ModeIncremental), "crawl mode: incremental or full")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "listing page limit (0 = configured default)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "fetch and parse without ingesting")
	return cmd
}
