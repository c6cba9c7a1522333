package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"agencyos/internal/config"
)

func newOnceCmd(getCfg func() *config.Config, getLogger func() *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(getCfg(), getLogger(), nil)
			if err != nil {
				return err
			}
			defer a.close()

			result, err := a.loop.RunOnce(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("cycle %d\n", result.CycleNumber)
			for _, phase := range []string{"collect", "normalize", "gates", "resolution", "snapshot", "moves"} {
				d, ran := result.Durations[phase]
				switch {
				case !ran:
					fmt.Printf("  %-10s skipped\n", phase)
				case phase == result.FailedPhase:
					fmt.Printf("  %-10s failed after %s: %v\n", phase, d.Round(timeRound), result.Err)
				default:
					fmt.Printf("  %-10s ok (%s)\n", phase, d.Round(timeRound))
				}
			}
			if doc := result.Snapshot; doc != nil {
				fmt.Printf("inbox: %d open, moves: %d pending\n", doc.Inbox.Open, len(doc.Moves))
			}
			if !result.Success {
				return fmt.Errorf("cycle %d failed in %s", result.CycleNumber, result.FailedPhase)
			}
			return nil
		},
	}
}
