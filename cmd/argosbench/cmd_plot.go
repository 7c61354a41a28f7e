package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/neehar-mavuduru/argosbench/config"
	"github.com/neehar-mavuduru/argosbench/plots"
	"github.com/neehar-mavuduru/argosbench/results"
)

var (
	plotWatch    bool
	plotDebounce time.Duration
	plotNoBands  bool
)

var plotCmd = &cobra.Command{
	Use:   "plot",
	Short: "Write comparison plots for every robot/target group",
	Long: `Loads the result logs, averages each metric across repetitions and writes,
per robot/target group, one PNG chart and one CSV file for targets found,
coverage and distance to light. With --watch the plots are regenerated
whenever result logs change.`,
	Args: cobra.NoArgs,
	RunE: runPlot,
}

func init() {
	plotCmd.Flags().BoolVar(&plotWatch, "watch", false, "regenerate plots when result logs change")
	plotCmd.Flags().DurationVar(&plotDebounce, "debounce", 2*time.Second, "quiet period before regenerating in watch mode")
	plotCmd.Flags().BoolVar(&plotNoBands, "no-bands", false, "omit the SEM bands")
}

func runPlot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := writePlots(cmd, cfg); err != nil {
		return err
	}
	if !plotWatch {
		return nil
	}

	logger.Info("watching for result logs", zap.String("dir", cfg.ResultsDir))
	return results.Watch(cmd.Context(), cfg.ResultsDir, plotDebounce, logger, func() {
		if err := writePlots(cmd, cfg); err != nil {
			logger.Error("failed to write plots", zap.Error(err))
		}
	})
}

func writePlots(cmd *cobra.Command, cfg config.Config) error {
	set, err := results.LoadDir(cfg.ResultsDir, logger)
	if err != nil {
		return err
	}

	opts := plots.Options{
		DPI:        cfg.PlotDPI,
		Downsample: cfg.Downsample,
		NoBands:    plotNoBands,
	}
	files, err := plots.WriteAll(set, cfg.PlotsDir, opts, logger)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d files from %d logs to %s\n", len(files), set.Len(), cfg.PlotsDir)
	return nil
}
