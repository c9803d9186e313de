// Package backend exposes the platform sandbox primitives (macOS Seatbelt,
// Linux Landlock+seccomp+bwrap) as a single Prepare/Launch contract, so the
// sandbox lifecycle object never needs to know which OS it is running on.
//
// Prepare resolves policy.Config into Capabilities (the platform-neutral
// path/network/device lists both backends render from) and binds the
// recipe to a pair of proxy ports. On macOS, Launch renders Capabilities
// into an SBPL profile via text/template and runs the command directly
// under sandbox-exec. On Linux, Launch builds a typed bwrap argv and execs
// through this package's own self-apply marker (see selfapply.go), which
// applies Landlock and starts the in-namespace proxy bridge before the
// real command ever runs. Neither path shells out through /bin/sh -c.
package backend

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/leash-sh/leash/internal/platform"
	"github.com/leash-sh/leash/internal/policy"
	"github.com/leash-sh/leash/internal/sandbox"
)

// Recipe is the platform-specific, policy-derived plan for launching a
// child process under the sandbox. It holds everything Launch needs; the
// concrete shape differs by platform and is opaque to callers.
type Recipe struct {
	plat      platform.OS
	cfg       *policy.Config
	caps      Capabilities
	httpPort  int
	socksPort int
	linux     *sandbox.LinuxBridge
	reverse   *sandbox.ReverseBridge
	debug     bool
}

// ChildHandle is a running sandboxed child process.
type ChildHandle struct {
	Cmd     *exec.Cmd
	cleanup func()
}

// Wait blocks until the child exits and returns its error (nil on success),
// then runs any per-launch cleanup (e.g. removing a temp SBPL profile) the
// platform launcher registered. cleanup runs exactly once.
func (h *ChildHandle) Wait() error {
	err := h.Cmd.Wait()
	if h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
	return err
}

// Pid returns the child's process ID.
func (h *ChildHandle) Pid() int {
	if h.Cmd.Process == nil {
		return -1
	}
	return h.Cmd.Process.Pid
}

// Prepare resolves the current platform's backend and renders cfg into a
// Recipe bound to the given proxy ports. It fails closed: an unsupported
// platform, a Linux kernel without Landlock ABI v4 or newer, and a missing
// socat bridge are returned as errors rather than silently degrading.
func Prepare(cfg *policy.Config, httpPort, socksPort int, exposedPorts []int, debug bool) (*Recipe, error) {
	plat := platform.Detect()
	if !platform.IsSupported() {
		return nil, fmt.Errorf("backend: unsupported platform %s", plat)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("backend: resolving cwd: %w", err)
	}

	r := &Recipe{
		plat:      plat,
		cfg:       cfg,
		caps:      ResolveCapabilities(cfg, cwd),
		httpPort:  httpPort,
		socksPort: socksPort,
		debug:     debug,
	}

	if plat == platform.Linux {
		if f := sandbox.DetectLinuxFeatures(); !f.CanUseLandlock() || f.LandlockABI < 4 {
			return nil, fmt.Errorf("backend: landlock ABI v4 or newer is required (kernel reports v%d)", f.LandlockABI)
		}

		bridge, err := sandbox.NewLinuxBridge(httpPort, socksPort, debug)
		if err != nil {
			return nil, fmt.Errorf("backend: linux bridge: %w", err)
		}
		r.linux = bridge

		if len(exposedPorts) > 0 {
			rb, err := sandbox.NewReverseBridge(exposedPorts, debug)
			if err != nil {
				bridge.Cleanup()
				return nil, fmt.Errorf("backend: reverse bridge: %w", err)
			}
			r.reverse = rb
		}
	}

	return r, nil
}

// Close releases any resources Prepare allocated (Linux socat bridges).
func (r *Recipe) Close() {
	if r.reverse != nil {
		r.reverse.Cleanup()
	}
	if r.linux != nil {
		r.linux.Cleanup()
	}
}

// LaunchOptions carries the per-invocation pieces of a Launch call that
// don't belong on the Recipe itself (which is shared across every command
// run inside one sandbox).
type LaunchOptions struct {
	Env    []string
	Cwd    string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Launch wraps argv under the recipe's platform sandbox and starts it.
// ctx cancellation kills the child. Stdin/Stdout/Stderr left nil stay nil on
// the underlying exec.Cmd, so they are connected to the null device.
func (r *Recipe) Launch(ctx context.Context, argv []string, opts LaunchOptions) (*ChildHandle, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("backend: empty argv")
	}

	switch r.plat {
	case platform.MacOS:
		return r.launchMacOS(ctx, argv, opts)
	case platform.Linux:
		return r.launchLinux(ctx, argv, opts)
	default:
		return nil, fmt.Errorf("backend: unsupported platform %s", r.plat)
	}
}
