package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNoAlgorithms is returned when a campaign lists no experiments to run.
var ErrNoAlgorithms = errors.New("at least one experiment is required")

// Known experiment targets of the swarm project.
var KnownExperiments = []string{"mbfo", "dynamic_mbfo", "pso", "cellular_decomposition"}

// Config holds the configuration for an experiment campaign
type Config struct {
	// Source and build layout
	SourceDir string `yaml:"source_dir"` // CMake source directory (required)
	BuildDir  string `yaml:"build_dir"`  // Build directory (default: <source>/build/release)
	BuildType string `yaml:"build_type"` // CMAKE_BUILD_TYPE (default: Release)
	Threads   int    `yaml:"threads"`    // make -j value (default: 4)

	// Build retry
	MaxRetries int      `yaml:"max_retries"` // Extra build attempts after the first (default: 3)
	RetryDelay Duration `yaml:"retry_delay"` // Delay between build attempts (default: 5s)

	// Run matrix
	Experiments []string `yaml:"experiments"`
	Robots      []int    `yaml:"robots"`
	Targets     []int    `yaml:"targets"`
	Repetitions int      `yaml:"repetitions"` // Runs per configuration (default: 1)
	BaseSeed    int64    `yaml:"base_seed"`   // Seed of repetition 0 (default: 1)

	// Execution
	Workers    int      `yaml:"workers"`     // Parallel build dirs (default: 1)
	KeepGoing  bool     `yaml:"keep_going"`  // Continue after a failed run
	Launch     []string `yaml:"launch"`      // Optional command run after the build
	RunTimeout Duration `yaml:"run_timeout"` // Per-run timeout (0 = none)

	// Outputs
	ResultsDir string `yaml:"results_dir"` // default: <build>/results
	PlotsDir   string `yaml:"plots_dir"`   // default: <results>/plots
	PlotDPI    int    `yaml:"plot_dpi"`    // default: 150
	Downsample int    `yaml:"downsample"`  // Keep every n-th step in plots (default: 1)

	Upload *UploadConfig `yaml:"upload,omitempty"` // Optional GCS publishing
}

// UploadConfig holds configuration for publishing results to GCS
type UploadConfig struct {
	Bucket            string   `yaml:"bucket"`              // GCS bucket name (required)
	Prefix            string   `yaml:"prefix"`              // Object prefix (e.g. "argos/2024-06")
	CredentialsFile   string   `yaml:"credentials_file"`    // Optional service account file
	MaxRetries        int      `yaml:"max_retries"`         // default: 3
	RetryDelay        Duration `yaml:"retry_delay"`         // default: 2s
	ChannelBufferSize int      `yaml:"channel_buffer_size"` // default: 100

	// Files of at least ComposeThresholdMB are uploaded as parallel chunks
	// of ChunkSizeMB and composed into the final object.
	ComposeThresholdMB int `yaml:"compose_threshold_mb"` // default: 64
	ChunkSizeMB        int `yaml:"chunk_size_mb"`        // default: 16
}

// DefaultConfig returns a single dynamic_mbfo campaign: a Release build under
// <source>/build/release with five robots and five targets.
func DefaultConfig(sourceDir string) Config {
	buildDir := filepath.Join(sourceDir, "build", "release")
	return Config{
		SourceDir:   sourceDir,
		BuildDir:    buildDir,
		BuildType:   "Release",
		Threads:     4,
		MaxRetries:  3,
		RetryDelay:  Duration(5 * time.Second),
		Experiments: []string{"dynamic_mbfo"},
		Robots:      []int{5},
		Targets:     []int{5},
		Repetitions: 1,
		BaseSeed:    1,
		Workers:     1,
		ResultsDir:  filepath.Join(buildDir, "results"),
		PlotsDir:    filepath.Join(buildDir, "results", "plots"),
		PlotDPI:     150,
		Downsample:  1,
	}
}

// DefaultUploadConfig returns an upload configuration with defaults
func DefaultUploadConfig(bucket string) UploadConfig {
	return UploadConfig{
		Bucket:            bucket,
		MaxRetries:        3,
		RetryDelay:        Duration(2 * time.Second),
		ChannelBufferSize: 100,

		ComposeThresholdMB: 64,
		ChunkSizeMB:        16,
	}
}

// Validate checks if the configuration is valid and applies defaults where needed
func (c *Config) Validate() error {
	if c.SourceDir == "" {
		return fmt.Errorf("source_dir is required")
	}

	if c.BuildDir == "" {
		c.BuildDir = filepath.Join(c.SourceDir, "build", "release")
	}

	if c.BuildType == "" {
		c.BuildType = "Release"
	}

	if c.Threads <= 0 {
		c.Threads = 4
	}

	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}

	if c.RetryDelay < 0 {
		c.RetryDelay = Duration(5 * time.Second)
	}

	if len(c.Experiments) == 0 {
		return ErrNoAlgorithms
	}
	seen := make(map[string]bool, len(c.Experiments))
	for _, e := range c.Experiments {
		if e == "" {
			return fmt.Errorf("empty experiment name")
		}
		if seen[e] {
			return fmt.Errorf("duplicate experiment %q", e)
		}
		seen[e] = true
	}

	if len(c.Robots) == 0 {
		c.Robots = []int{5}
	}
	for _, r := range c.Robots {
		if r <= 0 {
			return fmt.Errorf("robot count must be positive, got %d", r)
		}
	}

	if len(c.Targets) == 0 {
		c.Targets = []int{5}
	}
	for _, t := range c.Targets {
		if t < 0 {
			return fmt.Errorf("target count must not be negative, got %d", t)
		}
	}

	if c.Repetitions <= 0 {
		c.Repetitions = 1
	}

	if c.BaseSeed == 0 {
		c.BaseSeed = 1
	}

	if c.Workers <= 0 {
		c.Workers = 1
	}

	if c.RunTimeout < 0 {
		c.RunTimeout = 0
	}

	if c.ResultsDir == "" {
		c.ResultsDir = filepath.Join(c.BuildDir, "results")
	}

	if c.PlotsDir == "" {
		c.PlotsDir = filepath.Join(c.ResultsDir, "plots")
	}

	if c.PlotDPI <= 0 {
		c.PlotDPI = 150
	}

	if c.Downsample <= 0 {
		c.Downsample = 1
	}

	if c.Upload != nil {
		if err := c.Upload.Validate(); err != nil {
			return fmt.Errorf("upload validation failed: %w", err)
		}
	}

	return nil
}

// Validate checks if the upload configuration is valid
func (u *UploadConfig) Validate() error {
	if u.Bucket == "" {
		return fmt.Errorf("bucket name is required")
	}

	if u.MaxRetries <= 0 {
		u.MaxRetries = 3
	}

	if u.RetryDelay <= 0 {
		u.RetryDelay = Duration(2 * time.Second)
	}

	if u.ChannelBufferSize <= 0 {
		u.ChannelBufferSize = 100
	}

	if u.ComposeThresholdMB <= 0 {
		u.ComposeThresholdMB = 64
	}

	if u.ChunkSizeMB <= 0 {
		u.ChunkSizeMB = 16
	}

	return nil
}

// Load reads a YAML configuration file and validates it. Scalar settings
// missing from the file keep DefaultConfig values; the directory layout is
// derived from source_dir, which defaults to the file's directory. Relative
// directories are resolved against the file's directory.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	base := filepath.Dir(path)
	defaults := DefaultConfig(base)
	cfg := Config{
		BuildType:   defaults.BuildType,
		Threads:     defaults.Threads,
		MaxRetries:  defaults.MaxRetries,
		RetryDelay:  defaults.RetryDelay,
		Repetitions: defaults.Repetitions,
		BaseSeed:    defaults.BaseSeed,
		Workers:     defaults.Workers,
		PlotDPI:     defaults.PlotDPI,
		Downsample:  defaults.Downsample,
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if cfg.SourceDir == "" {
		cfg.SourceDir = base
	}
	cfg.SourceDir = resolve(base, cfg.SourceDir)
	if cfg.BuildDir != "" {
		cfg.BuildDir = resolve(base, cfg.BuildDir)
	}
	if cfg.ResultsDir != "" {
		cfg.ResultsDir = resolve(base, cfg.ResultsDir)
	}
	if cfg.PlotsDir != "" {
		cfg.PlotsDir = resolve(base, cfg.PlotsDir)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func resolve(base, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
