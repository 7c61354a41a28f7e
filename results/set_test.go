package results

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestLoadDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "pso", "5_5_0.json"), `[{"step":0,"coverage":1}]`)
	writeFile(t, filepath.Join(root, "pso", "5_5_1.json"), `[{"step":0,"coverage":2}]`)
	writeFile(t, filepath.Join(root, "mbfo", "5_5_0.json"), `[{"step":0,"coverage":3}]`)
	writeFile(t, filepath.Join(root, "mbfo", "10_5_0.json"), `[{"step":0,"coverage":4}]`)
	writeFile(t, filepath.Join(root, "mbfo", "10_5_1.json"), `not json`)
	writeFile(t, filepath.Join(root, "runs.db"), "sqlite")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "plots"), 0755))

	set, err := LoadDir(root, nil)
	require.NoError(t, err)

	assert.Equal(t, 4, set.Len())
	assert.Equal(t, []Group{{5, 5}, {10, 5}}, set.Groups())
	assert.Equal(t, []string{"mbfo", "pso"}, set.Experiments(Group{5, 5}))
	assert.Equal(t, []string{"mbfo"}, set.Experiments(Group{10, 5}))

	reps := set.Logs(Group{5, 5}, "pso")
	require.Len(t, reps, 2)
	assert.Equal(t, 0, reps[0].Repetition)
	assert.Equal(t, 1, reps[1].Repetition)

	assert.Equal(t, []string{filepath.Join(root, "mbfo", "10_5_1.json")}, set.Skipped)
}

func TestLoadDir_Missing(t *testing.T) {
	_, err := LoadDir(filepath.Join(t.TempDir(), "missing"), nil)
	assert.Error(t, err)
}

func TestGroup_String(t *testing.T) {
	assert.Equal(t, "5 robots, 10 targets", Group{5, 10}.String())
}

func TestWatch(t *testing.T) {
	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, root, 50*time.Millisecond, nil, func() { calls.Add(1) })
	}()

	// Give the watcher time to register root.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pso"), 0755))
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(root, "pso", "5_5.json"), `[{"step":0}]`)

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatch_LogInNewDirectory(t *testing.T) {
	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, root, 50*time.Millisecond, nil, func() { calls.Add(1) })
	}()

	time.Sleep(100 * time.Millisecond)
	dir := filepath.Join(root, "mbfo")
	require.NoError(t, os.MkdirAll(dir, 0755))
	writeFile(t, filepath.Join(dir, "5_5.json"), `[{"step":0}]`)

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
