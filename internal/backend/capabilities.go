package backend

import (
	"os"
	"path/filepath"
	"slices"

	"github.com/leash-sh/leash/internal/policy"
	"github.com/leash-sh/leash/internal/sandbox"
)

// Capabilities is the fully-resolved, platform-neutral filesystem and
// network surface a Recipe grants a child process. It is the single place
// a Tier and its SecurityToggles get translated into concrete paths and
// flags; internal/sandbox and the platform-specific launch builders never
// see a Config again once Capabilities exists.
type Capabilities struct {
	// WritablePaths may be created, written, or removed.
	WritablePaths []string
	// ReadOnlyPaths are visible but immutable: the mandatory deny-list, the
	// credential paths the security toggles protect, and any
	// filesystem.denyWrite entries.
	ReadOnlyPaths []string
	// HiddenPaths are not visible at all: filesystem.denyRead entries plus
	// GPU/accelerator device nodes unless allowGpu or allowHardware is set.
	HiddenPaths []string

	AllowPty          bool
	NetworkRestricted bool
	HasWildcardNetwork bool

	AllowLocalBinding  bool
	AllowLocalOutbound bool
	AllowUnixSockets   []string
	AllowAllUnixSockets bool
}

// ResolveCapabilities translates cfg's Tier, SecurityToggles, and explicit
// filesystem/network lists into one concrete Capabilities value for cwd.
// The mandatory deny-list (internal/sandbox.DangerousFiles/Directories) is
// always included; a Tier and its toggles only ever add restrictions on top
// of it, never remove from it.
func ResolveCapabilities(cfg *policy.Config, cwd string) Capabilities {
	if cfg == nil {
		cfg = policy.Default()
	}

	writable := expandWritable(cfg, cwd)
	readOnly := expandReadOnly(cfg, cwd)
	hidden := expandHidden(cfg)

	hasWildcard := slices.Contains(cfg.Network.AllowedDomains, "*")

	allowLocalOutbound := cfg.Network.AllowLocalBinding
	if cfg.Network.AllowLocalOutbound != nil {
		allowLocalOutbound = *cfg.Network.AllowLocalOutbound
	}

	return Capabilities{
		WritablePaths:       writable,
		ReadOnlyPaths:       readOnly,
		HiddenPaths:         hidden,
		AllowPty:            cfg.AllowPty,
		NetworkRestricted:   !hasWildcard,
		HasWildcardNetwork:  hasWildcard,
		AllowLocalBinding:   cfg.Network.AllowLocalBinding,
		AllowLocalOutbound:  allowLocalOutbound,
		AllowUnixSockets:    cfg.Network.AllowUnixSockets,
		AllowAllUnixSockets: cfg.Network.AllowAllUnixSockets,
	}
}

func expandWritable(cfg *policy.Config, cwd string) []string {
	var writable []string

	if cfg.Tier != policy.TierStrict || !cfg.Security.ProtectUserHome {
		writable = append(writable, sandbox.GetDefaultWritePaths()...)
	}

	writable = append(writable, sandbox.ExpandGlobPatterns(cfg.Filesystem.AllowWrite)...)
	for _, p := range cfg.Filesystem.AllowWrite {
		n := sandbox.NormalizePath(p)
		if !sandbox.ContainsGlobChars(n) {
			writable = append(writable, n)
		}
	}

	return dedupe(writable)
}

func expandReadOnly(cfg *policy.Config, cwd string) []string {
	allowGitConfig := cfg.Filesystem.AllowGitConfig
	if cfg.Tier == policy.TierStrict {
		allowGitConfig = false
	}

	patterns := sandbox.GetMandatoryDenyPatterns(cwd, allowGitConfig)
	patterns = append(patterns, credentialPaths(cfg)...)
	patterns = append(patterns, cfg.Filesystem.DenyWrite...)

	return dedupe(sandbox.ExpandGlobPatterns(patterns))
}

func expandHidden(cfg *policy.Config) []string {
	var hidden []string
	hidden = append(hidden, cfg.Filesystem.DenyRead...)
	if !cfg.Security.AllowGPU && !cfg.Security.AllowHardware {
		hidden = append(hidden, deviceDenyPaths()...)
	}
	return dedupe(sandbox.ExpandGlobPatterns(hidden))
}

// credentialPaths returns the per-toggle protected-path set layered on top
// of the mandatory deny-list by SecurityToggles.ProtectCredentials and
// ProtectCloudConfig. Tier never implies these: only the two toggles decide,
// whatever the tier. DefaultSecurityToggles turns both on.
func credentialPaths(cfg *policy.Config) []string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return nil
	}

	var paths []string
	if cfg.Security.ProtectCredentials {
		paths = append(paths,
			filepath.Join(home, ".ssh"),
			filepath.Join(home, ".aws"),
			filepath.Join(home, ".netrc"),
			filepath.Join(home, ".docker", "config.json"),
			filepath.Join(home, ".kube", "config"),
		)
	}
	if cfg.Security.ProtectCloudConfig {
		paths = append(paths,
			filepath.Join(home, ".config", "gcloud"),
			filepath.Join(home, ".azure"),
			filepath.Join(home, ".config", "gh"),
		)
	}
	return paths
}

// deviceDenyPaths lists device nodes hidden unless a workload opts into
// hardware access via SecurityToggles.AllowGPU/AllowHardware.
func deviceDenyPaths() []string {
	return []string{
		"/dev/dri",
		"/dev/nvidia*",
		"/dev/nvidiactl",
		"/dev/accel*",
		"/dev/kfd",
	}
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
