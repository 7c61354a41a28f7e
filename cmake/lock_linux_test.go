//go:build linux

package cmake

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommand_LockExcludes(t *testing.T) {
	dir := t.TempDir()
	first := New("/src", dir)
	second := New("/src", dir)

	unlock, err := first.Lock(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	_, err = second.Lock(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()

	unlock, err = second.Lock(context.Background())
	require.NoError(t, err)
	unlock()
}
