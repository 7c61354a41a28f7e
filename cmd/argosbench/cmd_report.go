package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/neehar-mavuduru/argosbench/report"
	"github.com/neehar-mavuduru/argosbench/results"
)

var (
	reportOutput string
	reportTitle  string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Write a markdown comparison report",
	Long: `Writes a markdown report comparing the experiments in every robot/target
group: final targets found, coverage and distance to light as mean ± SEM,
the time until all targets were found, and links to the plots.`,
	Args: cobra.NoArgs,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "report path (default: <results>/REPORT.md)")
	reportCmd.Flags().StringVar(&reportTitle, "title", "", "report title")
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	set, err := results.LoadDir(cfg.ResultsDir, logger)
	if err != nil {
		return err
	}

	out := reportOutput
	if out == "" {
		out = filepath.Join(cfg.ResultsDir, "REPORT.md")
	}
	if err := report.WriteFile(out, set, report.Options{Title: reportTitle, PlotsDir: cfg.PlotsDir}); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Report saved to: %s\n", out)
	return nil
}
