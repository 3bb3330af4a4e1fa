package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wfan24990-glitch/rag-fastapi/internal/app"
)

func newDedupeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dedupe",
		Short: "Remove duplicate records from the vector index",
		Long: `Rebuilds the vector index keeping, per source, the first occurrence
of each distinct chunk text, then persists the compacted index.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := app.New(cfgFile)
			if err != nil {
				return err
			}
			defer a.Close()

			removed, err := a.Index.Deduplicate()
			if err != nil {
				return err
			}
			a.Logger.Info("deduplication finished",
				zap.Int("removed", removed),
				zap.Int("remaining", a.Index.NTotal()),
			)
			return nil
		},
	}
}
