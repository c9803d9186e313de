package backend

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/leash-sh/leash/internal/sandbox"
)

// launchMacOS renders a Seatbelt profile to a temp file and execs argv
// under it directly via sandbox-exec -f. No shell is involved: argv is
// passed straight to sandbox-exec as discrete arguments, so there is no
// quoting boundary between leash and the sandboxed process.
func (r *Recipe) launchMacOS(ctx context.Context, argv []string, opts LaunchOptions) (*ChildHandle, error) {
	profile, _, err := renderMacOSProfile(r.caps, r.cfg.Security.AllowHardware || r.cfg.Security.AllowGPU, r.httpPort, r.socksPort)
	if err != nil {
		return nil, err
	}

	profilePath, err := writeProfileFile(profile)
	if err != nil {
		return nil, fmt.Errorf("backend: writing macos profile: %w", err)
	}

	sandboxExecArgs := append([]string{"-f", profilePath, "--"}, argv...)
	cmd := exec.CommandContext(ctx, "sandbox-exec", sandboxExecArgs...)
	cmd.Env = append(opts.Env, sandbox.GenerateProxyEnvVars(r.httpPort, r.socksPort)...)
	cmd.Dir = opts.Cwd
	cmd.Stdin = opts.Stdin
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	if err := cmd.Start(); err != nil {
		os.Remove(profilePath)
		return nil, fmt.Errorf("backend: starting sandbox-exec: %w", err)
	}

	return &ChildHandle{Cmd: cmd, cleanup: func() { os.Remove(profilePath) }}, nil
}

func writeProfileFile(profile string) (string, error) {
	f, err := os.CreateTemp("", "leash-profile-*.sb")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.WriteString(profile); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
