// Package leash provides the public API for executing commands inside an
// OS-enforced sandbox: filesystem tiering, a forced network proxy, and an
// optional IPC command surface, composed by the Sandbox lifecycle object.
package leash

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/leash-sh/leash/internal/backend"
	"github.com/leash-sh/leash/internal/ipc"
	"github.com/leash-sh/leash/internal/lifecycle"
	"github.com/leash-sh/leash/internal/policy"
	"github.com/leash-sh/leash/internal/pyenv"
)

// Config is the policy document describing what a sandbox permits.
type Config = policy.Config

// NetworkConfig defines network restrictions.
type NetworkConfig = policy.NetworkConfig

// FilesystemConfig defines filesystem restrictions.
type FilesystemConfig = policy.FilesystemConfig

// Tier is a coarse, named starting point for a Config.
type Tier = policy.Tier

const (
	TierStrict     = policy.TierStrict
	TierDefault    = policy.TierDefault
	TierPermissive = policy.TierPermissive
)

// NetworkPolicy is the authorization capability the network proxy consults.
type NetworkPolicy = policy.NetworkPolicy

// DefaultConfig returns the default configuration with all network blocked.
func DefaultConfig() *Config {
	return policy.Default()
}

// LoadConfig loads configuration from a file.
func LoadConfig(path string) (*Config, error) {
	return policy.Load(path)
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return policy.DefaultConfigPath()
}

// Sandbox is one isolated execution context composing the policy, workdir,
// platform backend, network proxy, and optional IPC router.
type Sandbox = lifecycle.Sandbox

// SandboxOptions configures Sandbox construction.
type SandboxOptions = lifecycle.Options

// NewSandbox constructs and starts a Sandbox: workdir, then IPC listener
// (if enabled), then network proxy, then platform backend. Any failure
// unwinds everything already allocated.
func NewSandbox(cfg *Config, opts SandboxOptions) (*Sandbox, error) {
	return lifecycle.New(cfg, opts)
}

// IPCHandler implements one named IPC command.
type IPCHandler = ipc.Handler

// IPCHandlerFunc adapts a plain function to IPCHandler.
type IPCHandlerFunc = ipc.HandlerFunc

// ChildHandle is a running sandboxed child process.
type ChildHandle = backend.ChildHandle

// PythonEnv describes the interpreter run_python executes scripts with.
type PythonEnv = pyenv.Env

// RunPython is a convenience wrapper that writes source to a temp script
// inside the sandbox's workdir and runs it with env's interpreter,
// returning captured stdout.
func RunPython(ctx context.Context, sb *Sandbox, env PythonEnv, source string) ([]byte, error) {
	scriptPath, err := writeTempScript(sb, source)
	if err != nil {
		return nil, err
	}
	argv, err := env.ScriptArgv(scriptPath)
	if err != nil {
		return nil, err
	}
	return sb.Command(argv[0], argv[1:]...).Output(ctx)
}

// writeTempScript names each script uniquely so concurrent RunPython calls
// against the same sandbox's workdir never clobber one another.
func writeTempScript(sb *Sandbox, source string) (string, error) {
	name := fmt.Sprintf("script-%s.py", uuid.NewString())
	path := filepath.Join(sb.Workdir().Path(), name)
	if err := os.WriteFile(path, []byte(source), 0o600); err != nil {
		return "", fmt.Errorf("leash: writing python script: %w", err)
	}
	return path, nil
}
