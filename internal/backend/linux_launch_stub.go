//go:build !linux

package backend

import (
	"context"
	"fmt"
)

// launchLinux is unreachable on non-Linux builds: Prepare only ever selects
// platform.Linux when platform.Detect() itself reports Linux.
func (r *Recipe) launchLinux(ctx context.Context, argv []string, opts LaunchOptions) (*ChildHandle, error) {
	return nil, fmt.Errorf("backend: linux launch path unavailable on this platform")
}
