package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/neehar-mavuduru/argosbench/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default campaign configuration",
	Long: `Writes the configuration file (argosbench.yaml unless --config is given)
with the default campaign: a Release build of dynamic_mbfo with 5 robots and
5 targets, built under <source>/build/release.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")
}

func runInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}

	src := sourceDir
	if src == "" {
		src = filepath.Dir(configPath)
	}
	src, err := filepath.Abs(src)
	if err != nil {
		return err
	}

	cfg := config.DefaultConfig(src)
	cfg.Experiments = append([]string(nil), config.KnownExperiments...)
	if err := config.Save(configPath, cfg); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", configPath)
	return nil
}
