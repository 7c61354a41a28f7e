//go:build !linux

package cmake

import "context"

// Lock only creates the build directory on non-Linux systems; concurrent
// processes sharing a build directory are not detected.
func (c *Command) Lock(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.MakeBuildDir(); err != nil {
		return nil, err
	}
	return func() {}, nil
}
