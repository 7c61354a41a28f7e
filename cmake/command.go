// Package cmake drives the CMake/make build of the simulation sources.
package cmake

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/neehar-mavuduru/argosbench/logging"
)

const (
	// DefaultThreads is the make -j value used when none is given.
	DefaultThreads = 4

	// LockFileName is created inside the build directory by Lock.
	LockFileName = ".argosbench.lock"
)

// Command configures and builds one CMake build directory.
// A Command is not safe for concurrent use; give each worker its own.
type Command struct {
	SrcDir   string
	BuildDir string
	Threads  int

	CMakeBin string
	MakeBin  string

	flags    map[string]string
	executor Executor
	logger   *zap.Logger
}

// RetryPolicy controls BuildWithRetry.
type RetryPolicy struct {
	MaxRetries int           // Extra attempts after the first
	RetryDelay time.Duration // Wait between attempts
}

// Option configures a Command.
type Option func(*Command)

// WithThreads sets the make -j value.
func WithThreads(n int) Option {
	return func(c *Command) { c.Threads = n }
}

// WithExecutor replaces the os/exec based executor.
func WithExecutor(e Executor) Option {
	return func(c *Command) { c.executor = e }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Command) { c.logger = l }
}

// WithBinaries overrides the cmake and make executables.
func WithBinaries(cmakeBin, makeBin string) Option {
	return func(c *Command) {
		c.CMakeBin = cmakeBin
		c.MakeBin = makeBin
	}
}

// New creates a Command. An empty buildDir means <srcDir>/build.
func New(srcDir, buildDir string, opts ...Option) *Command {
	if buildDir == "" {
		buildDir = filepath.Join(srcDir, "build")
	}

	c := &Command{
		SrcDir:   srcDir,
		BuildDir: buildDir,
		Threads:  DefaultThreads,
		CMakeBin: "cmake",
		MakeBin:  "make",
		flags:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.logger = logging.OrNop(c.logger)
	if c.executor == nil {
		c.executor = ExecExecutor{Logger: c.logger}
	}
	if c.Threads <= 0 {
		c.Threads = DefaultThreads
	}
	return c
}

// SetFlag sets a -D cache entry. Later calls overwrite earlier ones.
func (c *Command) SetFlag(key string, value any) {
	c.flags[key] = fmt.Sprint(value)
}

// Flag returns the value of a cache entry.
func (c *Command) Flag(key string) (string, bool) {
	v, ok := c.flags[key]
	return v, ok
}

// Args returns the cmake arguments: -D<key>=<value> sorted by key, then the
// source directory.
func (c *Command) Args() []string {
	keys := make([]string, 0, len(c.flags))
	for k := range c.flags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		args = append(args, "-D"+k+"="+c.flags[k])
	}
	return append(args, c.SrcDir)
}

// MakeBuildDir creates the build directory and its parents.
func (c *Command) MakeBuildDir() error {
	if err := os.MkdirAll(c.BuildDir, 0755); err != nil {
		return fmt.Errorf("failed to create build directory: %w", err)
	}
	return nil
}

// Configure runs cmake inside the build directory.
func (c *Command) Configure(ctx context.Context) error {
	if err := c.MakeBuildDir(); err != nil {
		return err
	}
	if err := c.executor.Run(ctx, c.BuildDir, c.CMakeBin, c.Args()...); err != nil {
		return fmt.Errorf("configure failed: %w", err)
	}
	return nil
}

// Build runs make for target inside the build directory.
func (c *Command) Build(ctx context.Context, target string) error {
	args := []string{target, "-j" + strconv.Itoa(c.Threads)}
	if err := c.executor.Run(ctx, c.BuildDir, c.MakeBin, args...); err != nil {
		return fmt.Errorf("build of %s failed: %w", target, err)
	}
	return nil
}

// BuildWithRetry builds target, retrying failed builds according to policy.
// It returns the number of attempts made.
func (c *Command) BuildWithRetry(ctx context.Context, target string, policy RetryPolicy) (int, error) {
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return attempt, fmt.Errorf("build of %s cancelled: %w", target, ctx.Err())
			case <-time.After(policy.RetryDelay):
			}
		}

		err := c.Build(ctx, target)
		if err == nil {
			return attempt + 1, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return attempt + 1, err
		}
		if attempt < policy.MaxRetries {
			c.logger.Warn("build attempt failed, retrying",
				zap.String("target", target),
				zap.Int("attempt", attempt+1),
				zap.Int("of", policy.MaxRetries+1),
				zap.Error(err))
		}
	}

	return policy.MaxRetries + 1, fmt.Errorf("build failed after %d attempts: %w", policy.MaxRetries+1, lastErr)
}

// Exec runs an arbitrary command inside the build directory.
func (c *Command) Exec(ctx context.Context, name string, args ...string) error {
	return c.executor.Run(ctx, c.BuildDir, name, args...)
}
