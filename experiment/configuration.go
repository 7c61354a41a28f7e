// Package experiment expands a campaign into simulation runs and executes
// them through the CMake build of the swarm project.
package experiment

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/neehar-mavuduru/argosbench/cmake"
	"github.com/neehar-mavuduru/argosbench/config"
	"github.com/neehar-mavuduru/argosbench/results"
	"github.com/neehar-mavuduru/argosbench/store"
)

// CMake cache entries read by the simulation project.
const (
	FlagBuildType = "CMAKE_BUILD_TYPE"
	FlagRobots    = "ARGOS_ROBOTS_NUMBER"
	FlagTargets   = "ARGOS_TARGETS_NUMBER"
	FlagLog       = "ARGOS_LOG"
	FlagSeed      = "ARGOS_RANDOM_SEED"
)

// TargetPrefix prefixes the experiment name to form the make target.
const TargetPrefix = "experiment_"

// LogSpec is where a run writes its result log.
type LogSpec struct {
	Path string
	Name string
}

// File returns the full log path.
func (l LogSpec) File() string {
	return filepath.Join(l.Path, l.Name)
}

// Configuration is one simulation run.
type Configuration struct {
	Experiment string
	Robots     int
	Targets    int
	Repetition int
	Seed       int64
	Log        LogSpec
}

// Target returns the make target that builds and runs the experiment.
func (c Configuration) Target() string {
	return TargetPrefix + c.Experiment
}

// Run converts c to a ledger entry.
func (c Configuration) Run(worker int) store.Run {
	return store.Run{
		Experiment: c.Experiment,
		Robots:     c.Robots,
		Targets:    c.Targets,
		Repetition: c.Repetition,
		Seed:       c.Seed,
		LogPath:    c.Log.File(),
		Worker:     worker,
	}
}

// NewConfiguration builds a configuration logging to
// <resultsDir>/<experiment>/<robots>_<targets>[_<rep>].json.
func NewConfiguration(resultsDir, experiment string, robots, targets, rep int, seed int64, repeated bool) Configuration {
	return Configuration{
		Experiment: experiment,
		Robots:     robots,
		Targets:    targets,
		Repetition: rep,
		Seed:       seed,
		Log: LogSpec{
			Path: filepath.Join(resultsDir, experiment),
			Name: results.FileName(robots, targets, rep, repeated),
		},
	}
}

// Expand returns the run matrix ordered by experiment, robots, targets and
// repetition. Repetition r uses seed BaseSeed+r.
func Expand(cfg config.Config) []Configuration {
	repeated := cfg.Repetitions > 1
	plan := make([]Configuration, 0, len(cfg.Experiments)*len(cfg.Robots)*len(cfg.Targets)*cfg.Repetitions)
	for _, exp := range cfg.Experiments {
		for _, robots := range cfg.Robots {
			for _, targets := range cfg.Targets {
				for rep := 0; rep < cfg.Repetitions; rep++ {
					plan = append(plan, NewConfiguration(cfg.ResultsDir, exp, robots, targets, rep, cfg.BaseSeed+int64(rep), repeated))
				}
			}
		}
	}
	return plan
}

// Apply sets the cache entries for c on cmd.
func Apply(cmd *cmake.Command, c Configuration, buildType string) {
	if buildType == "" {
		buildType = "Release"
	}
	cmd.SetFlag(FlagBuildType, buildType)
	cmd.SetFlag(FlagRobots, c.Robots)
	cmd.SetFlag(FlagTargets, c.Targets)
	cmd.SetFlag(FlagLog, c.Log.File())
	cmd.SetFlag(FlagSeed, c.Seed)
}

// LaunchArgs substitutes {experiment}, {robots}, {targets}, {rep}, {seed},
// {log} and {build_dir} in a launch command template.
func LaunchArgs(tmpl []string, c Configuration, buildDir string) []string {
	r := strings.NewReplacer(
		"{experiment}", c.Experiment,
		"{robots}", strconv.Itoa(c.Robots),
		"{targets}", strconv.Itoa(c.Targets),
		"{rep}", strconv.Itoa(c.Repetition),
		"{seed}", strconv.FormatInt(c.Seed, 10),
		"{log}", c.Log.File(),
		"{build_dir}", buildDir,
	)
	out := make([]string, len(tmpl))
	for i, a := range tmpl {
		out[i] = r.Replace(a)
	}
	return out
}
