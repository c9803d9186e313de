// Package lifecycle composes the policy, workdir, backend, proxy, and IPC
// pieces into the single Sandbox object callers construct and release:
// workdir, then IPC listener, then network proxies, then the platform
// backend recipe, each unwound on failure or on Close.
package lifecycle

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/leash-sh/leash/internal/backend"
	"github.com/leash-sh/leash/internal/ipc"
	"github.com/leash-sh/leash/internal/policy"
	"github.com/leash-sh/leash/internal/proxy"
	"github.com/leash-sh/leash/internal/sandbox"
	"github.com/leash-sh/leash/internal/workdir"
	"golang.org/x/sync/errgroup"
)

// Options configures sandbox construction.
type Options struct {
	Debug        bool
	Monitor      bool
	ExposedPorts []int
	// EnableIPC turns on the host-callable command surface (internal/ipc).
	EnableIPC bool
}

// Sandbox is one isolated execution context: its own workdir, network
// proxy, optional IPC listener, and platform backend recipe. Commands
// launched through it are tracked in a child registry and signaled
// together on release.
type Sandbox struct {
	cfg     *policy.Config
	opts    Options
	workdir *workdir.Dir

	httpProxy  *proxy.HTTPProxy
	socksProxy *proxy.SOCKSProxy
	router     *ipc.Router
	recipe     *backend.Recipe

	children *childRegistry

	mu     sync.Mutex
	closed bool
}

// New constructs a Sandbox following the startup order: workdir, then IPC
// listener, then network proxy, then the platform backend recipe. Any
// failure unwinds everything allocated so far before returning the error.
func New(cfg *policy.Config, opts Options) (sb *Sandbox, err error) {
	if cfg == nil {
		cfg = policy.Default()
	}

	wd, err := workdir.New("")
	if err != nil {
		return nil, fmt.Errorf("sandbox: creating workdir: %w", err)
	}
	defer func() {
		if err != nil {
			_ = wd.Release()
		}
	}()

	sb = &Sandbox{
		cfg:      cfg,
		opts:     opts,
		workdir:  wd,
		children: newChildRegistry(),
	}

	if opts.EnableIPC {
		router := ipc.NewRouter(wd.SocketPath(), opts.Debug)
		if err = router.Start(); err != nil {
			return nil, fmt.Errorf("sandbox: starting ipc router: %w", err)
		}
		sb.router = router
	}
	defer func() {
		if err != nil && sb.router != nil {
			sb.router.Stop()
		}
	}()

	netPolicy := policy.NetworkPolicy(policy.ConfigNetworkPolicy{Cfg: cfg})

	sb.httpProxy = proxy.NewHTTPProxy(netPolicy, opts.Debug, opts.Monitor)
	sb.socksProxy = proxy.NewSOCKSProxy(netPolicy, opts.Debug, opts.Monitor)
	defer func() {
		if err != nil {
			sb.httpProxy.Stop()
			sb.socksProxy.Stop()
		}
	}()

	// The HTTP and SOCKS listeners are independent; bind both concurrently
	// rather than paying each bind's latency in sequence.
	var httpPort, socksPort int
	var g errgroup.Group
	g.Go(func() error {
		p, startErr := sb.httpProxy.Start()
		httpPort = p
		return startErr
	})
	g.Go(func() error {
		p, startErr := sb.socksProxy.Start()
		socksPort = p
		return startErr
	})
	if err = g.Wait(); err != nil {
		return nil, fmt.Errorf("sandbox: starting proxies: %w", err)
	}

	recipe, err := backend.Prepare(cfg, httpPort, socksPort, opts.ExposedPorts, opts.Debug)
	if err != nil {
		return nil, fmt.Errorf("sandbox: preparing backend: %w", err)
	}
	sb.recipe = recipe

	return sb, nil
}

// Workdir returns the sandbox's private scratch directory.
func (sb *Sandbox) Workdir() *workdir.Dir {
	return sb.workdir
}

// IPCSocketPath returns the IPC socket path, or "" if IPC was not enabled.
func (sb *Sandbox) IPCSocketPath() string {
	if sb.router == nil {
		return ""
	}
	return sb.router.SocketPath()
}

// RegisterIPCHandler adds a handler to the sandbox's IPC router. It is a
// no-op if IPC was not enabled.
func (sb *Sandbox) RegisterIPCHandler(h ipc.Handler) {
	if sb.router != nil {
		sb.router.Register(h)
	}
}

// CommandBuilder builds and launches one child process inside the sandbox.
type CommandBuilder struct {
	sb     *Sandbox
	argv   []string
	env    []string
	cwd    string
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// Command starts building a command to run inside the sandbox.
func (sb *Sandbox) Command(program string, args ...string) *CommandBuilder {
	return &CommandBuilder{
		sb:   sb,
		argv: append([]string{program}, args...),
		env:  sb.defaultEnv(),
	}
}

func (sb *Sandbox) defaultEnv() []string {
	env := sandbox.FilterDangerousEnv(os.Environ())
	httpPort, socksPort := 0, 0
	if sb.httpProxy != nil {
		httpPort = sb.httpProxy.Port()
	}
	if sb.socksProxy != nil {
		socksPort = sb.socksProxy.Port()
	}
	env = append(env, sandbox.GenerateProxyEnvVars(httpPort, socksPort)...)
	if sb.router != nil {
		env = append(env, "LEASH_IPC_SOCKET="+sb.router.SocketPath())
	}
	return env
}

// Arg appends one argument.
func (c *CommandBuilder) Arg(a string) *CommandBuilder { c.argv = append(c.argv, a); return c }

// Args appends multiple arguments.
func (c *CommandBuilder) Args(a ...string) *CommandBuilder { c.argv = append(c.argv, a...); return c }

// Env appends an environment variable assignment (KEY=VALUE), overriding
// any value already set for KEY by the sandbox's own defaults.
func (c *CommandBuilder) Env(kv string) *CommandBuilder { c.env = append(c.env, kv); return c }

// Cwd sets the child's working directory.
func (c *CommandBuilder) Cwd(dir string) *CommandBuilder { c.cwd = dir; return c }

// Stdin sets the child's standard input.
func (c *CommandBuilder) Stdin(r io.Reader) *CommandBuilder { c.stdin = r; return c }

// Stdout sets the child's standard output.
func (c *CommandBuilder) Stdout(w io.Writer) *CommandBuilder { c.stdout = w; return c }

// Stderr sets the child's standard error.
func (c *CommandBuilder) Stderr(w io.Writer) *CommandBuilder { c.stderr = w; return c }

// Spawn launches the command and returns immediately with a handle tracked
// in the sandbox's child registry.
func (c *CommandBuilder) Spawn(ctx context.Context) (*backend.ChildHandle, error) {
	if err := sandbox.CheckCommand(strings.Join(c.argv, " "), c.sb.cfg); err != nil {
		return nil, err
	}

	handle, err := c.sb.recipe.Launch(ctx, c.argv, backend.LaunchOptions{
		Env:    c.env,
		Cwd:    c.cwd,
		Stdin:  c.stdin,
		Stdout: c.stdout,
		Stderr: c.stderr,
	})
	if err != nil {
		return nil, err
	}
	c.sb.children.add(handle)
	return handle, nil
}

// Status runs the command to completion and returns its exit error (nil on
// success), following the exec.Cmd convention.
func (c *CommandBuilder) Status(ctx context.Context) error {
	handle, err := c.Spawn(ctx)
	if err != nil {
		return err
	}
	return handle.Wait()
}

// Output runs the command to completion and returns its captured stdout.
func (c *CommandBuilder) Output(ctx context.Context) ([]byte, error) {
	var buf writeBuffer
	c.stdout = &buf
	if err := c.Status(ctx); err != nil {
		return buf.data, err
	}
	return buf.data, nil
}

type writeBuffer struct{ data []byte }

func (b *writeBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

// Close releases the sandbox: it signals tracked children, stops the IPC
// router (draining in-flight connections), stops the network proxies, and
// removes the workdir if it is owned. Calling Close more than once is safe.
func (sb *Sandbox) Close() error {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.closed {
		return nil
	}
	sb.closed = true

	sb.children.signalAll()

	if sb.recipe != nil {
		sb.recipe.Close()
	}
	if sb.router != nil {
		sb.router.Stop()
	}
	if sb.httpProxy != nil {
		sb.httpProxy.Stop()
	}
	if sb.socksProxy != nil {
		sb.socksProxy.Stop()
	}

	return sb.workdir.Release()
}

// childRegistry tracks child processes spawned through one Sandbox so
// Close can signal them all before tearing down shared infrastructure.
type childRegistry struct {
	mu   sync.Mutex
	live []*backend.ChildHandle
}

func newChildRegistry() *childRegistry {
	return &childRegistry{}
}

func (r *childRegistry) add(h *backend.ChildHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live = append(r.live, h)
}

func (r *childRegistry) signalAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.live {
		if h.Cmd.Process != nil {
			_ = h.Cmd.Process.Kill()
		}
	}
}
