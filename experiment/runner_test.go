package experiment

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/neehar-mavuduru/argosbench/cmake"
	"github.com/neehar-mavuduru/argosbench/config"
	"github.com/neehar-mavuduru/argosbench/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// simExecutor stands in for cmake, make and the simulator: make writes the
// log file configured through -DARGOS_LOG in the same build directory.
type simExecutor struct {
	mu       sync.Mutex
	logs     map[string]string
	failures map[string]int
	silent   map[string]bool
	dirs     map[string]int
	launched [][]string
}

func newSimExecutor() *simExecutor {
	return &simExecutor{
		logs:     make(map[string]string),
		failures: make(map[string]int),
		silent:   make(map[string]bool),
		dirs:     make(map[string]int),
	}
}

func (s *simExecutor) Run(ctx context.Context, dir, name string, args ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch name {
	case "cmake":
		for _, a := range args {
			if strings.HasPrefix(a, "-D"+FlagLog+"=") {
				s.logs[dir] = strings.TrimPrefix(a, "-D"+FlagLog+"=")
			}
		}
	case "make":
		target := args[0]
		s.dirs[dir]++
		if s.failures[target] > 0 {
			s.failures[target]--
			return errors.New("make: *** Error 2")
		}
		if s.silent[target] {
			return nil
		}
		return os.WriteFile(s.logs[dir], []byte(`[{"step":0,"targets_found":0}]`), 0644)
	default:
		s.launched = append(s.launched, append([]string{name}, args...))
	}
	return nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig(dir)
	cfg.BuildDir = filepath.Join(dir, "build")
	cfg.ResultsDir = filepath.Join(dir, "results")
	cfg.PlotsDir = ""
	cfg.Experiments = []string{"mbfo", "pso"}
	cfg.Robots = []int{5}
	cfg.Targets = []int{5}
	cfg.Repetitions = 2
	cfg.RetryDelay = config.Duration(time.Millisecond)
	cfg.MaxRetries = 1
	return cfg
}

func newTestRunner(t *testing.T, cfg config.Config, exec *simExecutor, opts ...Option) *Runner {
	t.Helper()
	factory := func(srcDir, buildDir string) *cmake.Command {
		return cmake.New(srcDir, buildDir, cmake.WithExecutor(exec))
	}
	r, err := NewRunner(cfg, append([]Option{WithCommandFactory(factory)}, opts...)...)
	require.NoError(t, err)
	return r
}

func openLedger(t *testing.T, cfg config.Config) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(cfg.ResultsDir, "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunner_Run(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workers = 2
	exec := newSimExecutor()
	r := newTestRunner(t, cfg, exec)

	summary, err := r.Run(context.Background(), r.Plan())
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 4, summary.Completed)
	assert.Equal(t, 0, summary.Failed)

	for _, name := range []string{"mbfo/5_5_0.json", "mbfo/5_5_1.json", "pso/5_5_0.json", "pso/5_5_1.json"} {
		_, err := os.Stat(filepath.Join(cfg.ResultsDir, name))
		assert.NoError(t, err, name)
	}

	total := 0
	for dir, n := range exec.dirs {
		assert.True(t, strings.HasPrefix(filepath.Base(dir), "worker-"), dir)
		total += n
	}
	assert.Equal(t, 4, total)
}

func TestRunner_RetriesBuild(t *testing.T) {
	cfg := testConfig(t)
	cfg.Experiments = []string{"dynamic_mbfo"}
	cfg.Repetitions = 1
	exec := newSimExecutor()
	exec.failures["experiment_dynamic_mbfo"] = 1
	ledger := openLedger(t, cfg)
	r := newTestRunner(t, cfg, exec, WithLedger(ledger))

	summary, err := r.Run(context.Background(), r.Plan())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed)

	records, err := ledger.List(context.Background(), store.Filter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, store.StatusCompleted, records[0].Status)
	assert.Equal(t, 2, records[0].Attempts)
	assert.Equal(t, filepath.Join(cfg.ResultsDir, "dynamic_mbfo", "5_5.json"), records[0].LogPath)
}

func TestRunner_StopsOnFailure(t *testing.T) {
	cfg := testConfig(t)
	exec := newSimExecutor()
	exec.failures["experiment_mbfo"] = 100
	r := newTestRunner(t, cfg, exec)

	summary, err := r.Run(context.Background(), r.Plan())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mbfo")
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Completed)
	// MaxRetries=1: two attempts for the first run only.
	assert.Equal(t, 2, exec.dirs[cfg.BuildDir])
}

func TestRunner_KeepGoing(t *testing.T) {
	cfg := testConfig(t)
	cfg.KeepGoing = true
	exec := newSimExecutor()
	exec.failures["experiment_mbfo"] = 100
	ledger := openLedger(t, cfg)
	r := newTestRunner(t, cfg, exec, WithLedger(ledger))

	summary, err := r.Run(context.Background(), r.Plan())
	require.ErrorIs(t, err, ErrRunsFailed)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 2, summary.Completed)
	require.Len(t, summary.Failures, 2)
	assert.Equal(t, "mbfo", summary.Failures[0].Configuration.Experiment)

	failed, err := ledger.List(context.Background(), store.Filter{Status: store.StatusFailed})
	require.NoError(t, err)
	assert.Len(t, failed, 2)
}

func TestRunner_Resume(t *testing.T) {
	cfg := testConfig(t)
	exec := newSimExecutor()
	ledger := openLedger(t, cfg)
	r := newTestRunner(t, cfg, exec, WithLedger(ledger))

	_, err := r.Run(context.Background(), r.Plan())
	require.NoError(t, err)

	// Losing a log forces that run again.
	require.NoError(t, os.Remove(filepath.Join(cfg.ResultsDir, "pso", "5_5_1.json")))

	summary, err := r.Run(context.Background(), r.Plan())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Skipped)
	assert.Equal(t, 1, summary.Completed)
}

func TestRunner_MissingLog(t *testing.T) {
	cfg := testConfig(t)
	cfg.Experiments = []string{"pso"}
	cfg.Repetitions = 1
	exec := newSimExecutor()
	exec.silent["experiment_pso"] = true
	r := newTestRunner(t, cfg, exec)

	_, err := r.Run(context.Background(), r.Plan())
	assert.ErrorIs(t, err, ErrMissingLog)
}

func TestRunner_StaleLogIsNotOutput(t *testing.T) {
	cfg := testConfig(t)
	cfg.Experiments = []string{"pso"}
	cfg.Repetitions = 1
	exec := newSimExecutor()
	r := newTestRunner(t, cfg, exec)

	_, err := r.Run(context.Background(), r.Plan())
	require.NoError(t, err)
	logFile := filepath.Join(cfg.ResultsDir, "pso", "5_5.json")
	require.FileExists(t, logFile)

	exec.silent["experiment_pso"] = true
	summary, err := r.Run(context.Background(), r.Plan())
	assert.ErrorIs(t, err, ErrMissingLog)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Completed)
	assert.NoFileExists(t, logFile)
}

func TestRunner_SeedChangeReruns(t *testing.T) {
	cfg := testConfig(t)
	ledger := openLedger(t, cfg)
	r := newTestRunner(t, cfg, newSimExecutor(), WithLedger(ledger))

	_, err := r.Run(context.Background(), r.Plan())
	require.NoError(t, err)

	cfg.BaseSeed = 50
	r = newTestRunner(t, cfg, newSimExecutor(), WithLedger(ledger))
	summary, err := r.Run(context.Background(), r.Plan())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 4, summary.Completed)
}

func TestRunner_Launch(t *testing.T) {
	cfg := testConfig(t)
	cfg.Experiments = []string{"pso"}
	cfg.Repetitions = 1
	cfg.Launch = []string{"argos3", "-c", "{experiment}.argos", "--seed={seed}"}
	exec := newSimExecutor()
	r := newTestRunner(t, cfg, exec)

	_, err := r.Run(context.Background(), r.Plan())
	require.NoError(t, err)
	require.Len(t, exec.launched, 1)
	assert.Equal(t, []string{"argos3", "-c", "pso.argos", "--seed=1"}, exec.launched[0])
}

func TestRunner_Cancelled(t *testing.T) {
	cfg := testConfig(t)
	r := newTestRunner(t, cfg, newSimExecutor())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := r.Run(ctx, r.Plan())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, summary.Completed)
}

func TestRunner_EmptyPlan(t *testing.T) {
	r := newTestRunner(t, testConfig(t), newSimExecutor())
	summary, err := r.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, summary)
}
