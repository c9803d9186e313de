// Package main implements the leash CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/leash-sh/leash/internal/lifecycle"
	"github.com/leash-sh/leash/internal/policy"
	"github.com/leash-sh/leash/internal/sandbox"
	"github.com/leash-sh/leash/internal/templates"
	"github.com/spf13/cobra"
)

// Build-time variables (set via -ldflags)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

var (
	debug         bool
	monitor       bool
	settingsPath  string
	templateName  string
	listTemplates bool
	cmdString     string
	exposePorts   []string
	exitCode      int
	showVersion   bool
	linuxFeatures bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "leash [flags] -- [command...]",
		Short: "Run commands in a sandbox with network and filesystem restrictions",
		Long: `leash is a command-line tool that runs commands in a sandboxed environment
with network and filesystem restrictions.

By default, all network access is blocked. Configure allowed domains in
~/.leash.json or pass a settings file with --settings, or use a built-in
template with --template.

Examples:
  leash curl https://example.com          # Will be blocked (no domains allowed)
  leash -- curl -s https://example.com    # Use -- to separate leash flags from command
  leash -c "echo hello && ls"             # Run with shell expansion
  leash --settings policy.json npm install
  leash -t npm-install npm install        # Use built-in npm-install template
  leash -t git-readonly -- git log        # Use built-in git-readonly template
  leash -p 3000 -c "npm run dev"          # Expose port 3000 for inbound connections
  leash --list-templates                  # Show available built-in templates

Configuration file format (~/.leash.json):
{
  "network": {
    "allowedDomains": ["github.com", "*.npmjs.org"],
    "deniedDomains": []
  },
  "filesystem": {
    "denyRead": [],
    "allowWrite": ["."],
    "denyWrite": []
  },
  "command": {
    "deny": ["git push", "npm publish"]
  }
}`,
		RunE:          runCommand,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
	}

	rootCmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	rootCmd.Flags().BoolVarP(&monitor, "monitor", "m", false, "Monitor and log sandbox violations (macOS: log stream, all: proxy denials)")
	rootCmd.Flags().StringVarP(&settingsPath, "settings", "s", "", "Path to settings file (default: ~/.leash.json)")
	rootCmd.Flags().StringVarP(&templateName, "template", "t", "", "Use built-in template (e.g., git-readonly, npm-install)")
	rootCmd.Flags().BoolVar(&listTemplates, "list-templates", false, "List available templates")
	rootCmd.Flags().StringVarP(&cmdString, "c", "c", "", "Run command string directly (like sh -c)")
	rootCmd.Flags().StringArrayVarP(&exposePorts, "port", "p", nil, "Expose port for inbound connections (can be used multiple times)")
	rootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "Show version information")
	rootCmd.Flags().BoolVar(&linuxFeatures, "linux-features", false, "Show available Linux security features and exit")

	rootCmd.Flags().SetInterspersed(true)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exitCode = 1
	}
	os.Exit(exitCode)
}

func runCommand(cmd *cobra.Command, args []string) error {
	if showVersion {
		fmt.Printf("leash - lightweight, container-free sandbox for running untrusted commands\n")
		fmt.Printf("  Version: %s\n", version)
		fmt.Printf("  Built:   %s\n", buildTime)
		fmt.Printf("  Commit:  %s\n", gitCommit)
		return nil
	}

	if linuxFeatures {
		sandbox.PrintLinuxFeatures()
		return nil
	}

	if listTemplates {
		printTemplates()
		return nil
	}

	var argv []string
	switch {
	case cmdString != "":
		argv = []string{"sh", "-c", cmdString}
	case len(args) > 0:
		argv = args
	default:
		return fmt.Errorf("no command specified. Use -c <command> or provide command arguments")
	}

	if debug {
		fmt.Fprintf(os.Stderr, "[leash] Command: %s\n", sandbox.ShellQuote(argv))
	}

	var ports []int
	for _, p := range exposePorts {
		port, err := strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("invalid port: %s", p)
		}
		ports = append(ports, port)
	}

	if debug && len(ports) > 0 {
		fmt.Fprintf(os.Stderr, "[leash] Exposing ports: %v\n", ports)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	sb, err := lifecycle.New(cfg, lifecycle.Options{
		Debug:        debug,
		Monitor:      monitor,
		ExposedPorts: ports,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize sandbox: %w", err)
	}
	defer sb.Close()

	var logMonitor *sandbox.LogMonitor
	if monitor {
		logMonitor = sandbox.NewLogMonitor(sandbox.GetSessionSuffix())
		if logMonitor != nil {
			if err := logMonitor.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "[leash] Warning: failed to start log monitor: %v\n", err)
			} else {
				defer logMonitor.Stop()
			}
		}
	}

	if debug {
		if stripped := sandbox.GetStrippedEnvVars(os.Environ()); len(stripped) > 0 {
			fmt.Fprintf(os.Stderr, "[leash] Stripped dangerous env vars: %v\n", stripped)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handle, err := sb.Command(argv[0], argv[1:]...).
		Stdin(os.Stdin).
		Stdout(os.Stdout).
		Stderr(os.Stderr).
		Spawn(ctx)
	if err != nil {
		return fmt.Errorf("failed to start command: %w", err)
	}

	var linuxMonitors *sandbox.LinuxMonitors
	if monitor {
		linuxMonitors, _ = sandbox.StartLinuxMonitor(handle.Pid(), sandbox.LinuxSandboxOptions{
			Monitor: true,
			Debug:   debug,
			UseEBPF: true,
		})
		if linuxMonitors != nil {
			defer linuxMonitors.Stop()
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sigCount := 0
		for sig := range sigChan {
			sigCount++
			if handle.Cmd.Process == nil {
				continue
			}
			if sigCount >= 2 {
				_ = handle.Cmd.Process.Kill()
			} else {
				_ = handle.Cmd.Process.Signal(sig)
			}
		}
	}()

	if err := handle.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
			return nil
		}
		return fmt.Errorf("command failed: %w", err)
	}

	return nil
}

// loadConfig resolves the effective policy: template > settings file >
// default config path, expanding any "extends" chain relative to the
// config's own directory.
func loadConfig() (*policy.Config, error) {
	switch {
	case templateName != "":
		cfg, err := templates.Load(templateName)
		if err != nil {
			return nil, fmt.Errorf("failed to load template: %w\nUse --list-templates to see available templates", err)
		}
		if debug {
			fmt.Fprintf(os.Stderr, "[leash] Using template: %s\n", templateName)
		}
		return cfg, nil
	case settingsPath != "":
		cfg, err := policy.Load(settingsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		absPath, _ := filepath.Abs(settingsPath)
		cfg, err = templates.ResolveExtendsWithBaseDir(cfg, filepath.Dir(absPath))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve extends: %w", err)
		}
		return cfg, nil
	default:
		configPath := policy.DefaultConfigPath()
		cfg, err := policy.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		if cfg == nil {
			if debug {
				fmt.Fprintf(os.Stderr, "[leash] No config found at %s, using default (block all network)\n", configPath)
			}
			return policy.Default(), nil
		}
		cfg, err = templates.ResolveExtendsWithBaseDir(cfg, filepath.Dir(configPath))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve extends: %w", err)
		}
		return cfg, nil
	}
}

// printTemplates prints all available templates to stdout.
func printTemplates() {
	fmt.Println("Available templates:")
	fmt.Println()
	for _, t := range templates.List() {
		fmt.Printf("  %-20s %s\n", t.Name, t.Description)
	}
	fmt.Println()
	fmt.Println("Usage: leash -t <template> <command>")
	fmt.Println("Example: leash -t npm-install -- npm install")
}
