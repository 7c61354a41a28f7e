package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/neehar-mavuduru/argosbench/store"
)

var (
	statusExperiment string
	statusState      string
	statusLimit      int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List recorded runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusExperiment, "experiment", "e", "", "only runs of this experiment")
	statusCmd.Flags().StringVarP(&statusState, "status", "s", "", "only runs with this status (running, completed, failed)")
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 20, "maximum rows (0 = all)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	path := filepath.Join(cfg.ResultsDir, LedgerFile)
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
		return nil
	}

	ledger, err := store.Open(path)
	if err != nil {
		return err
	}
	defer ledger.Close()

	records, err := ledger.List(cmd.Context(), store.Filter{
		Experiment: statusExperiment,
		Status:     store.Status(statusState),
		Limit:      statusLimit,
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tEXPERIMENT\tROBOTS\tTARGETS\tREP\tSTATUS\tATTEMPTS\tDURATION\tERROR")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%d\t%s\t%s\n",
			r.StartedAt.Local().Format(time.DateTime),
			r.Experiment, r.Robots, r.Targets, r.Repetition,
			r.Status, r.Attempts, r.Duration.Round(time.Second), r.Error)
	}
	return w.Flush()
}
