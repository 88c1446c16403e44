package main

import (
	"fmt"
	"time"

	"txcanceller/internal/application"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Replace every tracked transaction older than a threshold, once",
	RunE:  runSweep,
}

var (
	sweepOlderThan   time.Duration
	sweepConcurrency int
)

func init() {
	sweepCmd.Flags().DurationVar(&sweepOlderThan, "older-than", -1, "Minimum age of a stuck transaction (default STUCK_AFTER)")
	sweepCmd.Flags().IntVar(&sweepConcurrency, "concurrency", 0, "Maximum in-flight replacements (default SWEEP_CONCURRENCY)")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd.Context(), cfg, runtimeOptions{withSender: true, withEvents: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	sweepCfg := application.SweeperConfig{
		StuckAfter:  cfg.StuckAfter,
		Concurrency: cfg.SweepConcurrency,
	}
	if sweepOlderThan >= 0 {
		sweepCfg.StuckAfter = sweepOlderThan
	}
	if sweepConcurrency > 0 {
		sweepCfg.Concurrency = sweepConcurrency
	}
	sweeper, err := application.NewSweeper(rt.canceller, sweepCfg)
	if err != nil {
		return err
	}
	outcomes, err := sweeper.SweepOnce(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	failed := 0
	for _, outcome := range outcomes {
		line := fmt.Sprintf("%s nonce=%d %s", outcome.Hash, outcome.Nonce, outcome.Status())
		if outcome.ReplacementHash != "" {
			line += " replacement=" + outcome.ReplacementHash
		}
		if outcome.Err != nil {
			failed++
			line += " error=" + outcome.Err.Error()
		}
		fmt.Fprintln(out, line)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d replacements failed", failed, len(outcomes))
	}
	return nil
}
