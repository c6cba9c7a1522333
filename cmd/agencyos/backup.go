package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"agencyos/internal/config"
	"agencyos/internal/store"
)

func newBackupCmd(getCfg func() *config.Config, getLogger func() *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "backup <dst>",
		Short: "Copy the database to a new file via VACUUM INTO",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(getCfg().Database.Path, getLogger())
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Backup(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("backup written to", args[0])
			return nil
		},
	}
}
