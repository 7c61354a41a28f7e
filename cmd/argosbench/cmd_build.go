package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/neehar-mavuduru/argosbench/experiment"
)

var (
	buildExperiment string
	buildRobots     int
	buildTargets    int
	buildSeed       int64
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Configure and build a single experiment",
	Long: `Configures the build directory with the robot and target counts and the
result log path, then builds experiment_<name>, retrying failed builds.

Example:
  argosbench build --experiment dynamic_mbfo --robots 5 --targets 5`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringVarP(&buildExperiment, "experiment", "e", "dynamic_mbfo", "experiment to build")
	buildCmd.Flags().IntVarP(&buildRobots, "robots", "r", 5, "number of robots")
	buildCmd.Flags().IntVarP(&buildTargets, "targets", "t", 5, "number of targets")
	buildCmd.Flags().Int64Var(&buildSeed, "seed", 0, "random seed (default: base_seed)")
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Experiments = []string{buildExperiment}
	cfg.Robots = []int{buildRobots}
	cfg.Targets = []int{buildTargets}
	if buildSeed != 0 {
		cfg.BaseSeed = buildSeed
	}

	runner, err := newRunner(cfg)
	if err != nil {
		return err
	}
	cfg = runner.Config()

	c := experiment.NewConfiguration(cfg.ResultsDir, buildExperiment, buildRobots, buildTargets, 0, cfg.BaseSeed, false)
	attempts, err := runner.RunOne(cmd.Context(), runner.NewCommand(), c)
	if err != nil {
		return err
	}

	logger.Info("build finished",
		zap.String("target", c.Target()),
		zap.Int("attempts", attempts),
		zap.String("log", c.Log.File()))
	fmt.Fprintln(cmd.OutOrStdout(), c.Log.File())
	return nil
}
