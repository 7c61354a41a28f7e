package cmake

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
)

type call struct {
	dir  string
	name string
	args []string
}

// fakeExecutor records calls and fails the first failures calls to make.
type fakeExecutor struct {
	mu       sync.Mutex
	calls    []call
	failures int
}

func (f *fakeExecutor) Run(ctx context.Context, dir, name string, args ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{dir: dir, name: name, args: args})
	if name == "make" && f.failures > 0 {
		f.failures--
		return errors.New("exit status 2")
	}
	return nil
}

func TestCommand_New(t *testing.T) {
	t.Run("DefaultsBuildDir", func(t *testing.T) {
		c := New("/src", "")
		assert.Equal(t, filepath.Join("/src", "build"), c.BuildDir)
		assert.Equal(t, DefaultThreads, c.Threads)
	})

	t.Run("AppliesOptions", func(t *testing.T) {
		c := New("/src", "/build", WithThreads(8), WithBinaries("cmake3", "gmake"))
		assert.Equal(t, "/build", c.BuildDir)
		assert.Equal(t, 8, c.Threads)
		assert.Equal(t, "cmake3", c.CMakeBin)
		assert.Equal(t, "gmake", c.MakeBin)
	})

	t.Run("IgnoresNonPositiveThreads", func(t *testing.T) {
		c := New("/src", "", WithThreads(0))
		assert.Equal(t, DefaultThreads, c.Threads)
	})
}

func TestCommand_Args(t *testing.T) {
	c := New("/src", "/build")
	c.SetFlag("ARGOS_TARGETS_NUMBER", 5)
	c.SetFlag("CMAKE_BUILD_TYPE", "Release")
	c.SetFlag("ARGOS_ROBOTS_NUMBER", 10)
	c.SetFlag("ARGOS_ROBOTS_NUMBER", 20)

	assert.Equal(t, []string{
		"-DARGOS_ROBOTS_NUMBER=20",
		"-DARGOS_TARGETS_NUMBER=5",
		"-DCMAKE_BUILD_TYPE=Release",
		"/src",
	}, c.Args())

	v, ok := c.Flag("ARGOS_ROBOTS_NUMBER")
	assert.True(t, ok)
	assert.Equal(t, "20", v)
}

func TestCommand_Configure(t *testing.T) {
	exec := &fakeExecutor{}
	buildDir := filepath.Join(t.TempDir(), "build", "release")
	c := New("/src", buildDir, WithExecutor(exec))
	c.SetFlag("CMAKE_BUILD_TYPE", "Release")

	require.NoError(t, c.Configure(context.Background()))

	info, err := os.Stat(buildDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	require.Len(t, exec.calls, 1)
	assert.Equal(t, buildDir, exec.calls[0].dir)
	assert.Equal(t, "cmake", exec.calls[0].name)
	assert.Equal(t, []string{"-DCMAKE_BUILD_TYPE=Release", "/src"}, exec.calls[0].args)

	// Existing directory is fine.
	require.NoError(t, c.Configure(context.Background()))
}

func TestCommand_Build(t *testing.T) {
	exec := &fakeExecutor{}
	c := New("/src", t.TempDir(), WithExecutor(exec), WithThreads(6))

	require.NoError(t, c.Build(context.Background(), "experiment_pso"))
	require.Len(t, exec.calls, 1)
	assert.Equal(t, "make", exec.calls[0].name)
	assert.Equal(t, []string{"experiment_pso", "-j6"}, exec.calls[0].args)
}

func TestCommand_BuildWithRetry(t *testing.T) {
	t.Run("SucceedsAfterFailures", func(t *testing.T) {
		exec := &fakeExecutor{failures: 2}
		c := New("/src", t.TempDir(), WithExecutor(exec))

		attempts, err := c.BuildWithRetry(context.Background(), "experiment_mbfo", RetryPolicy{MaxRetries: 3, RetryDelay: time.Millisecond})
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
		assert.Len(t, exec.calls, 3)
	})

	t.Run("GivesUpAfterMaxRetries", func(t *testing.T) {
		exec := &fakeExecutor{failures: 10}
		c := New("/src", t.TempDir(), WithExecutor(exec))

		attempts, err := c.BuildWithRetry(context.Background(), "experiment_mbfo", RetryPolicy{MaxRetries: 2, RetryDelay: time.Millisecond})
		require.Error(t, err)
		assert.Equal(t, 3, attempts)
		assert.Len(t, exec.calls, 3)
		assert.True(t, strings.Contains(err.Error(), "after 3 attempts"))
	})

	t.Run("NoRetries", func(t *testing.T) {
		exec := &fakeExecutor{failures: 1}
		c := New("/src", t.TempDir(), WithExecutor(exec))

		attempts, err := c.BuildWithRetry(context.Background(), "experiment_pso", RetryPolicy{})
		require.Error(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("StopsWhenCancelled", func(t *testing.T) {
		exec := &fakeExecutor{failures: 10}
		c := New("/src", t.TempDir(), WithExecutor(exec))

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		attempts, err := c.BuildWithRetry(ctx, "experiment_pso", RetryPolicy{MaxRetries: 5, RetryDelay: time.Hour})
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, attempts)
	})
}

func TestCommand_Lock(t *testing.T) {
	c := New("/src", filepath.Join(t.TempDir(), "worker-0"))

	unlock, err := c.Lock(context.Background())
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(c.BuildDir, LockFileName))
	require.NoError(t, err)
	unlock()

	unlock, err = c.Lock(context.Background())
	require.NoError(t, err)
	unlock()
}
