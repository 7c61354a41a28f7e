package cmake

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/neehar-mavuduru/argosbench/logging"
)

// Executor runs an external command inside dir and waits for it to finish.
// A non-zero exit status must be reported as an error.
type Executor interface {
	Run(ctx context.Context, dir, name string, args ...string) error
}

// ExecExecutor runs commands with os/exec. Output is streamed to the logger at
// debug level, one entry per line.
type ExecExecutor struct {
	Logger *zap.Logger
}

// Run implements Executor.
func (e ExecExecutor) Run(ctx context.Context, dir, name string, args ...string) error {
	logger := logging.OrNop(e.Logger)

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out := logging.LineWriter(logger, zap.String("cmd", name))
	cmd.Stdout = out
	cmd.Stderr = out

	logger.Info("exec", zap.String("dir", dir), zap.String("cmd", name), zap.Strings("args", args))
	err := cmd.Run()
	_ = out.Close()
	if err != nil {
		return fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return nil
}
