// Command argosbench builds, runs and compares ARGoS swarm experiments.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/neehar-mavuduru/argosbench/cmake"
	"github.com/neehar-mavuduru/argosbench/config"
	"github.com/neehar-mavuduru/argosbench/experiment"
	"github.com/neehar-mavuduru/argosbench/logging"
)

// DefaultConfigFile is read from the working directory when --config is not
// given.
const DefaultConfigFile = "argosbench.yaml"

var (
	configPath string
	sourceDir  string
	verbose    bool
	jsonLog    bool

	logger *zap.Logger

	// executor replaces the cmake/make executor in tests.
	executor cmake.Executor
)

var rootCmd = &cobra.Command{
	Use:   "argosbench",
	Short: "Build, run and compare ARGoS swarm experiments",
	Long: `argosbench drives the CMake build of an ARGoS swarm project.

Each experiment target (experiment_<name>) is configured with the robot and
target counts, the random seed and the path of its JSON result log, then
built and run. Result logs are aggregated across repetitions into
comparison plots and a markdown report.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(verbose, jsonLog)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", DefaultConfigFile, "campaign configuration file")
	rootCmd.PersistentFlags().StringVar(&sourceDir, "source", "", "CMake source directory when no configuration file exists (default: working directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging, including build output")
	rootCmd.PersistentFlags().BoolVar(&jsonLog, "json-log", false, "log as JSON")

	rootCmd.AddCommand(initCmd, buildCmd, runCmd, plotCmd, reportCmd, uploadCmd, statusCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configuration file. A missing default file falls back
// to the built-in defaults for the source directory.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	if _, err := os.Stat(configPath); err == nil {
		return config.Load(configPath)
	} else if f := cmd.Flag("config"); f != nil && f.Changed {
		return config.Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	src := sourceDir
	if src == "" {
		wd, err := os.Getwd()
		if err != nil {
			return config.Config{}, err
		}
		src = wd
	}
	cfg := config.DefaultConfig(src)
	return cfg, cfg.Validate()
}

func newRunner(cfg config.Config, opts ...experiment.Option) (*experiment.Runner, error) {
	opts = append(opts, experiment.WithLogger(logger))
	if executor != nil {
		opts = append(opts, experiment.WithCommandFactory(func(srcDir, buildDir string) *cmake.Command {
			return cmake.New(srcDir, buildDir,
				cmake.WithThreads(cfg.Threads),
				cmake.WithExecutor(executor),
				cmake.WithLogger(logger))
		}))
	}
	return experiment.NewRunner(cfg, opts...)
}
