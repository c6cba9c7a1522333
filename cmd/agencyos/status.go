package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"agencyos/internal/config"
	"agencyos/internal/domain"
	"agencyos/internal/gates"
	"agencyos/internal/store"
)

const timeRound = time.Millisecond

func newStatusCmd(getCfg func() *config.Config, getLogger func() *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show recent cycles, sync state, and the latest gate report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getCfg()
			st, err := store.Open(cfg.Database.Path, getLogger())
			if err != nil {
				return err
			}
			defer st.Close()
			ctx := cmd.Context()

			cycles, err := st.ListCycles(ctx, 5)
			if err != nil {
				return err
			}
			if len(cycles) == 0 {
				fmt.Println("no cycles yet")
			} else {
				fmt.Println("recent cycles:")
				for _, c := range cycles {
					took := ""
					if c.FinishedAt != nil {
						took = fmt.Sprintf(" (%s)", c.FinishedAt.Sub(c.StartedAt).Round(timeRound))
					}
					fmt.Printf("  %s%s\n", c.Summary(), took)
				}
			}

			states, err := st.ListSyncStates(ctx)
			if err != nil {
				return err
			}
			if len(states) > 0 {
				fmt.Println("sources:")
				for _, s := range states {
					line := fmt.Sprintf("  %-10s", s.Source)
					if s.LastSuccess != nil {
						line += fmt.Sprintf(" last success %s, %d items",
							s.LastSuccess.Format(time.RFC3339), s.ItemsSynced)
					} else {
						line += " never succeeded"
					}
					if s.LastError != "" {
						line += " (error: " + s.LastError + ")"
					}
					fmt.Println(line)
				}
			}

			reportJSON, cycle, err := st.LatestGateReport(ctx)
			if err != nil {
				fmt.Println("gates: no report yet")
				return nil
			}
			var report gates.Report
			if err := json.Unmarshal([]byte(reportJSON), &report); err != nil {
				return fmt.Errorf("parse gate report: %w", err)
			}
			fmt.Printf("gates (cycle %d):\n", cycle)
			for _, name := range gates.GateNames() {
				res, ok := report.Gates[name]
				if !ok {
					continue
				}
				state := "PASS"
				if !res.Pass {
					state = "FAIL"
				}
				fmt.Printf("  %-28s %s  %s\n", name, state, res.Message)
			}
			for _, dom := range domain.Domains() {
				if conf, ok := report.Confidence[dom]; ok {
					fmt.Printf("  %-28s %s\n", dom, conf)
				}
			}
			return nil
		},
	}
}
