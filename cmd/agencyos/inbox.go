package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"agencyos/cmd/agencyos/ui"
	"agencyos/internal/config"
	"agencyos/internal/queue"
	"agencyos/internal/store"
)

func newInboxCmd(getCfg func() *config.Config, getLogger func() *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "inbox",
		Short: "Work the resolution queue in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := getCfg(), getLogger()
			st, err := store.Open(cfg.Database.Path, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			qe := queue.NewEngine(st, queue.Config{
				StaleDays:  cfg.Queue.StaleDays,
				SnoozeDays: cfg.Queue.SnoozeDays,
			}, logger)
			return ui.Run(st, qe)
		},
	}
}
