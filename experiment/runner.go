package experiment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/neehar-mavuduru/argosbench/cmake"
	"github.com/neehar-mavuduru/argosbench/config"
	"github.com/neehar-mavuduru/argosbench/logging"
	"github.com/neehar-mavuduru/argosbench/store"
)

var (
	// ErrMissingLog is returned when a run finished without writing its log.
	ErrMissingLog = errors.New("result log was not written")

	// ErrRunsFailed is returned by Run in keep-going mode when any run failed.
	ErrRunsFailed = errors.New("runs failed")
)

// Ledger records run outcomes. *store.Store implements it.
type Ledger interface {
	Begin(ctx context.Context, r store.Run) (string, error)
	Finish(ctx context.Context, id string, status store.Status, attempts int, runErr error) error
	Completed(ctx context.Context, key string) (bool, error)
}

// CommandFactory creates the build command of one worker.
type CommandFactory func(srcDir, buildDir string) *cmake.Command

// Failure is a run that did not complete.
type Failure struct {
	Configuration Configuration
	Err           error
}

// Summary describes a campaign.
type Summary struct {
	Total     int
	Completed int
	Skipped   int
	Failed    int
	Duration  time.Duration
	Failures  []Failure
}

// Runner executes configurations, one build directory per worker.
type Runner struct {
	cfg        config.Config
	ledger     Ledger
	logger     *zap.Logger
	newCommand CommandFactory
}

// Option configures a Runner.
type Option func(*Runner)

// WithLedger records runs and enables resuming.
func WithLedger(l Ledger) Option {
	return func(r *Runner) { r.ledger = l }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithCommandFactory replaces how worker build commands are created.
func WithCommandFactory(f CommandFactory) Option {
	return func(r *Runner) { r.newCommand = f }
}

// NewRunner validates cfg and creates a Runner.
func NewRunner(cfg config.Config, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Runner{cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrNop(r.logger)
	if r.newCommand == nil {
		r.newCommand = func(srcDir, buildDir string) *cmake.Command {
			return cmake.New(srcDir, buildDir,
				cmake.WithThreads(cfg.Threads),
				cmake.WithLogger(r.logger.With(zap.String("build_dir", buildDir))))
		}
	}
	return r, nil
}

// Config returns the validated configuration.
func (r *Runner) Config() config.Config { return r.cfg }

// Plan expands the configured run matrix.
func (r *Runner) Plan() []Configuration { return Expand(r.cfg) }

// NewCommand returns the build command for the shared build directory.
func (r *Runner) NewCommand() *cmake.Command {
	return r.newCommand(r.cfg.SourceDir, r.cfg.BuildDir)
}

// RunOne configures and builds the experiment target for c, runs the launch
// command if one is configured, and checks that the log was written. It
// returns the number of build attempts.
func (r *Runner) RunOne(ctx context.Context, cmd *cmake.Command, c Configuration) (int, error) {
	if err := os.MkdirAll(c.Log.Path, 0755); err != nil {
		return 0, fmt.Errorf("failed to create log directory: %w", err)
	}

	unlock, err := cmd.Lock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	if r.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.RunTimeout.Std())
		defer cancel()
	}

	// A log left by an earlier run must not satisfy the check below.
	if err := os.Remove(c.Log.File()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("failed to remove previous log: %w", err)
	}

	Apply(cmd, c, r.cfg.BuildType)
	if err := cmd.Configure(ctx); err != nil {
		return 0, err
	}

	attempts, err := cmd.BuildWithRetry(ctx, c.Target(), cmake.RetryPolicy{
		MaxRetries: r.cfg.MaxRetries,
		RetryDelay: r.cfg.RetryDelay.Std(),
	})
	if err != nil {
		return attempts, err
	}

	if len(r.cfg.Launch) > 0 {
		args := LaunchArgs(r.cfg.Launch, c, cmd.BuildDir)
		if err := cmd.Exec(ctx, args[0], args[1:]...); err != nil {
			return attempts, fmt.Errorf("launch failed: %w", err)
		}
	}

	if _, err := os.Stat(c.Log.File()); err != nil {
		return attempts, fmt.Errorf("%w: %s", ErrMissingLog, c.Log.File())
	}
	return attempts, nil
}

type worker struct {
	id  int
	cmd *cmake.Command
}

// Run executes plan with up to Workers runs in parallel. Runs the ledger
// already marks completed, whose log still exists, are skipped. Without
// KeepGoing the first failure cancels the remaining runs.
func (r *Runner) Run(ctx context.Context, plan []Configuration) (Summary, error) {
	start := time.Now()
	summary := Summary{Total: len(plan)}
	if len(plan) == 0 {
		return summary, nil
	}

	n := r.cfg.Workers
	if n > len(plan) {
		n = len(plan)
	}
	pool := make(chan worker, n)
	for i := 0; i < n; i++ {
		buildDir := r.cfg.BuildDir
		if n > 1 {
			buildDir = filepath.Join(r.cfg.BuildDir, fmt.Sprintf("worker-%d", i))
		}
		pool <- worker{id: i, cmd: r.newCommand(r.cfg.SourceDir, buildDir)}
	}

	r.logger.Info("starting campaign",
		zap.Int("runs", len(plan)),
		zap.Int("workers", n),
		zap.Int("max_retries", r.cfg.MaxRetries))

	var mu sync.Mutex
	done := 0
	progress := func() {
		done++
		elapsed := time.Since(start)
		avg := elapsed / time.Duration(done)
		remaining := time.Duration(len(plan)-done) * avg
		r.logger.Info("progress",
			zap.String("complete", fmt.Sprintf("%d/%d", done, len(plan))),
			zap.Duration("elapsed", elapsed.Round(time.Second)),
			zap.Duration("remaining", remaining.Round(time.Second)))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n)

	for i, c := range plan {
		if gctx.Err() != nil {
			break
		}
		i, c := i, c
		g.Go(func() error {
			w := <-pool
			defer func() { pool <- w }()
			if gctx.Err() != nil {
				return nil
			}

			log := r.logger.With(
				zap.String("experiment", c.Experiment),
				zap.Int("robots", c.Robots),
				zap.Int("targets", c.Targets),
				zap.Int("rep", c.Repetition),
				zap.Int("worker", w.id))

			if r.skip(gctx, c) {
				log.Info("already completed, skipping")
				mu.Lock()
				summary.Skipped++
				progress()
				mu.Unlock()
				return nil
			}

			log.Info("running", zap.String("run", fmt.Sprintf("%d/%d", i+1, len(plan))), zap.String("target", c.Target()))
			runStart := time.Now()
			attempts, err := r.record(gctx, w, c)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed++
				summary.Failures = append(summary.Failures, Failure{Configuration: c, Err: err})
				log.Error("run failed", zap.Int("attempts", attempts), zap.Error(err))
				progress()
				if r.cfg.KeepGoing {
					return nil
				}
				return fmt.Errorf("%s (%d robots, %d targets, rep %d): %w", c.Experiment, c.Robots, c.Targets, c.Repetition, err)
			}

			summary.Completed++
			log.Info("run completed",
				zap.Int("attempts", attempts),
				zap.Duration("duration", time.Since(runStart).Round(time.Millisecond)),
				zap.String("log", c.Log.File()))
			progress()
			return nil
		})
	}

	err := g.Wait()
	summary.Duration = time.Since(start)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err == nil && summary.Failed > 0 {
		err = fmt.Errorf("%d of %d %w", summary.Failed, summary.Total, ErrRunsFailed)
	}

	r.logger.Info("campaign finished",
		zap.Int("completed", summary.Completed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Duration("duration", summary.Duration.Round(time.Second)))
	return summary, err
}

// record runs c on worker w, bracketing it with ledger entries.
func (r *Runner) record(ctx context.Context, w worker, c Configuration) (int, error) {
	if r.ledger == nil {
		return r.RunOne(ctx, w.cmd, c)
	}

	id, err := r.ledger.Begin(ctx, c.Run(w.id))
	if err != nil {
		return 0, err
	}

	attempts, runErr := r.RunOne(ctx, w.cmd, c)

	status := store.StatusCompleted
	if runErr != nil {
		status = store.StatusFailed
	}
	if err := r.ledger.Finish(context.WithoutCancel(ctx), id, status, attempts, runErr); err != nil {
		r.logger.Warn("failed to record run outcome", zap.String("id", id), zap.Error(err))
	}
	return attempts, runErr
}

func (r *Runner) skip(ctx context.Context, c Configuration) bool {
	if r.ledger == nil {
		return false
	}
	done, err := r.ledger.Completed(ctx, c.Run(0).Key())
	if err != nil {
		r.logger.Warn("failed to query ledger", zap.Error(err))
		return false
	}
	if !done {
		return false
	}
	_, err = os.Stat(c.Log.File())
	return err == nil
}
