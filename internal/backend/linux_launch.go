//go:build linux

package backend

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/leash-sh/leash/internal/sandbox"
)

// launchLinux builds a typed bwrap argv from caps and the recipe's proxy
// bridges, then execs through the self-apply marker so Landlock and the
// in-namespace proxy bridge get applied for any binary that imports this
// package, not only one named "leash". No shell is involved anywhere in
// this chain: bwrap execs the marker binary directly, and the marker binary
// syscall.Execs the real command.
func (r *Recipe) launchLinux(ctx context.Context, argv []string, opts LaunchOptions) (*ChildHandle, error) {
	bwrapArgs, seccompFile, err := r.buildBwrapArgs(argv)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, "bwrap", bwrapArgs...)
	cmd.Env = opts.Env
	cmd.Dir = opts.Cwd
	cmd.Stdin = opts.Stdin
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	if seccompFile != nil {
		cmd.ExtraFiles = []*os.File{seccompFile}
	}

	if err := cmd.Start(); err != nil {
		if seccompFile != nil {
			seccompFile.Close()
		}
		return nil, fmt.Errorf("backend: starting bwrap: %w", err)
	}
	if seccompFile != nil {
		seccompFile.Close()
	}

	return &ChildHandle{Cmd: cmd}, nil
}

// buildBwrapArgs renders the recipe's Capabilities into bubblewrap's argv
// form: mount namespace flags, per-path binds, bridge socket binds, and
// (whenever its own executable can be resolved) the self-apply marker
// invocation in front of the real command.
func (r *Recipe) buildBwrapArgs(argv []string) ([]string, *os.File, error) {
	features := sandbox.DetectLinuxFeatures()

	args := []string{"--new-session", "--die-with-parent"}
	if features.CanUnshareNet && r.caps.NetworkRestricted {
		args = append(args, "--unshare-net")
	}
	args = append(args, "--unshare-pid")

	var seccompFile *os.File
	if features.HasSeccomp {
		filter := sandbox.NewSeccompFilter(r.debug)
		if path, err := filter.GenerateBPFFilter(); err == nil {
			if f, openErr := os.Open(path); openErr == nil {
				seccompFile = f
				args = append(args, "--seccomp", "3")
			}
			filter.CleanupFilter(path)
		} else if r.debug {
			fmt.Fprintf(os.Stderr, "[leash:backend] seccomp filter unavailable: %v\n", err)
		}
	}

	args = append(args,
		"--ro-bind", "/", "/",
		"--dev-bind", "/dev", "/dev",
		"--proc", "/proc",
		"--tmpfs", "/tmp",
	)

	for _, p := range r.caps.HiddenPaths {
		if pathExists(p) {
			args = append(args, "--tmpfs", p)
		}
	}
	for _, p := range r.caps.ReadOnlyPaths {
		if pathExists(p) {
			args = append(args, "--ro-bind", p, p)
		}
	}
	for _, p := range r.caps.WritablePaths {
		if pathExists(p) {
			args = append(args, "--bind-try", p, p)
		}
	}

	payload := selfApplyPayload{
		Writable: r.caps.WritablePaths,
		ReadOnly: r.caps.ReadOnlyPaths,
		Debug:    r.debug,
	}

	if r.linux != nil {
		args = append(args,
			"--bind", r.linux.HTTPSocketPath, r.linux.HTTPSocketPath,
			"--bind", r.linux.SOCKSSocketPath, r.linux.SOCKSSocketPath,
		)
		payload.HTTPSocket = r.linux.HTTPSocketPath
		payload.SOCKSSocket = r.linux.SOCKSSocketPath
	}
	if r.reverse != nil {
		for _, sp := range r.reverse.SocketPaths {
			args = append(args, "--bind", sp, sp)
		}
		payload.ReversePorts = r.reverse.Ports
		payload.ReverseSockets = r.reverse.SocketPaths
	}

	selfExe, exeErr := os.Executable()
	useLandlock := exeErr == nil && features.CanUseLandlock()
	payload.UseLandlock = useLandlock

	if exeErr == nil {
		// The self-apply re-exec is always used when we can resolve our own
		// binary, even without Landlock: it is also what starts the
		// in-namespace proxy bridge listeners, which otherwise have no
		// process to launch them once namespace entry is argv-exec'd
		// directly instead of through a shell.
		args = append(args, "--ro-bind", selfExe, selfExe)
		encoded, err := encodeSelfApplyPayload(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("backend: encoding self-apply payload: %w", err)
		}
		args = append(args, "--", selfExe, selfApplyMarker, encoded, "--")
	} else {
		if r.debug {
			fmt.Fprintf(os.Stderr, "[leash:backend] could not resolve own executable, skipping self-apply: %v\n", exeErr)
		}
		args = append(args, "--")
	}

	args = append(args, argv...)
	return args, seccompFile, nil
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
