package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/neehar-mavuduru/argosbench/experiment"
	"github.com/neehar-mavuduru/argosbench/store"
)

// LedgerFile is the run ledger inside the results directory.
const LedgerFile = "runs.db"

var (
	runWorkers     int
	runKeepGoing   bool
	runRepetitions int
	runExperiments []string
	runFresh       bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full experiment matrix",
	Long: `Runs every combination of experiment, robot count, target count and
repetition from the configuration. Runs recorded as completed in the ledger
whose log still exists are skipped, so an interrupted campaign resumes where
it stopped.`,
	Args: cobra.NoArgs,
	RunE: runCampaign,
}

func init() {
	runCmd.Flags().IntVarP(&runWorkers, "workers", "w", 0, "parallel build directories (default: from config)")
	runCmd.Flags().BoolVarP(&runKeepGoing, "keep-going", "k", false, "continue after a failed run")
	runCmd.Flags().IntVar(&runRepetitions, "repetitions", 0, "runs per configuration (default: from config)")
	runCmd.Flags().StringSliceVar(&runExperiments, "experiments", nil, "experiments to run (default: from config)")
	runCmd.Flags().BoolVar(&runFresh, "fresh", false, "ignore completed runs in the ledger")
}

func runCampaign(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if runWorkers > 0 {
		cfg.Workers = runWorkers
	}
	if runKeepGoing {
		cfg.KeepGoing = true
	}
	if runRepetitions > 0 {
		cfg.Repetitions = runRepetitions
	}
	if len(runExperiments) > 0 {
		cfg.Experiments = runExperiments
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ledger, err := store.Open(filepath.Join(cfg.ResultsDir, LedgerFile))
	if err != nil {
		return err
	}
	defer ledger.Close()

	var l experiment.Ledger = ledger
	if runFresh {
		l = freshLedger{ledger}
	}

	runner, err := newRunner(cfg, experiment.WithLedger(l))
	if err != nil {
		return err
	}

	summary, err := runner.Run(cmd.Context(), runner.Plan())
	printSummary(cmd, summary)
	return err
}

// freshLedger records runs but never reports one as completed.
type freshLedger struct {
	*store.Store
}

func (freshLedger) Completed(_ context.Context, _ string) (bool, error) { return false, nil }

func printSummary(cmd *cobra.Command, s experiment.Summary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nCampaign: %d runs, %d completed, %d skipped, %d failed in %s\n",
		s.Total, s.Completed, s.Skipped, s.Failed, s.Duration.Round(time.Second))
	for _, f := range s.Failures {
		c := f.Configuration
		fmt.Fprintf(out, "  FAILED %s robots=%d targets=%d rep=%d: %v\n",
			c.Experiment, c.Robots, c.Targets, c.Repetition, f.Err)
	}
}
