// Package templates provides embedded configuration templates for leash.
package templates

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/leash-sh/leash/internal/policy"
	"github.com/tidwall/jsonc"
)

// maxExtendsDepth limits inheritance chain depth to prevent infinite loops.
const maxExtendsDepth = 10

// isPath returns true if the extends value looks like a file path rather than a template name.
// A value is considered a path if it contains a path separator or starts with ".".
func isPath(s string) bool {
	return strings.ContainsAny(s, "/\\") || strings.HasPrefix(s, ".")
}

//go:embed *.json
var templatesFS embed.FS

// Template represents a named configuration template.
type Template struct {
	Name        string
	Description string
}

// AvailableTemplates lists all embedded templates with descriptions.
var templateDescriptions = map[string]string{
	"default-deny":      "No network allowlist; no write access (most restrictive)",
	"disable-telemetry": "Block analytics/error reporting (Sentry, Posthog, Statsig, etc.)",
	"workspace-write":   "Allow writes in the current directory",
	"npm-install":       "Allow npm registry; allow writes to workspace/node_modules/tmp",
	"pip-install":       "Allow PyPI; allow writes to workspace/tmp",
	"local-dev-server":  "Allow binding and localhost outbound; allow writes to workspace/tmp",
	"git-readonly":      "Blocks destructive commands like git push, rm -rf, etc.",
	"code":              "Production-ready config for AI coding agents (Claude Code, Codex, Copilot, etc.)",
	"code-relaxed":      "Like 'code' but allows direct network for apps that ignore HTTP_PROXY (cursor-agent, opencode)",
}

// List returns all available template names sorted alphabetically.
func List() []Template {
	entries, err := templatesFS.ReadDir(".")
	if err != nil {
		return nil
	}

	var templates []Template
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".json")
		desc := templateDescriptions[name]
		if desc == "" {
			desc = "No description available"
		}
		templates = append(templates, Template{Name: name, Description: desc})
	}

	sort.Slice(templates, func(i, j int) bool {
		return templates[i].Name < templates[j].Name
	})

	return templates
}

// Load loads a template by name and returns the parsed policy.
// If the template uses "extends", the inheritance chain is resolved.
func Load(name string) (*policy.Config, error) {
	return resolveRef(name, "", 0, nil)
}

// resolveRef loads a single config source — a template name or a file path —
// and, if it declares "extends", recursively resolves and merges its base.
// It is the one place both Load and ResolveExtendsWithBaseDir walk the
// extends chain, so a name-extends-name chain and a path-extends-path chain
// (or a mix of the two) share the same cycle and depth tracking.
func resolveRef(ref, baseDir string, depth int, seen map[string]bool) (*policy.Config, error) {
	if depth > maxExtendsDepth {
		return nil, fmt.Errorf("extends chain too deep (max %d)", maxExtendsDepth)
	}
	if seen == nil {
		seen = make(map[string]bool)
	}

	data, key, nextBaseDir, err := readConfigSource(ref, baseDir)
	if err != nil {
		return nil, err
	}
	if seen[key] {
		return nil, fmt.Errorf("circular extends detected: %q", ref)
	}
	seen[key] = true

	var cfg policy.Config
	if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %q: %w", ref, err)
	}
	if isPath(ref) {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration in extends file %q: %w", ref, err)
		}
	}

	if cfg.Extends == "" {
		return &cfg, nil
	}

	baseCfg, err := resolveRef(cfg.Extends, nextBaseDir, depth+1, seen)
	if err != nil {
		return nil, fmt.Errorf("failed to load base %q: %w", cfg.Extends, err)
	}
	return policy.Merge(baseCfg, &cfg), nil
}

// readConfigSource reads the raw bytes behind a template name or file path.
// It also returns a cycle-detection key (the resolved path, or "template:name"
// for embedded templates) and the directory subsequent relative extends
// should resolve against.
func readConfigSource(ref, baseDir string) (data []byte, key string, nextBaseDir string, err error) {
	if !isPath(ref) {
		name := strings.TrimSuffix(ref, ".json")
		data, err = templatesFS.ReadFile(name + ".json")
		if err != nil {
			return nil, "", "", fmt.Errorf("template %q not found", name)
		}
		return data, "template:" + name, "", nil
	}

	var resolvedPath string
	switch {
	case filepath.IsAbs(ref):
		resolvedPath = ref
	case baseDir != "":
		resolvedPath = filepath.Join(baseDir, ref)
	default:
		resolvedPath, err = filepath.Abs(ref)
		if err != nil {
			return nil, "", "", fmt.Errorf("failed to resolve path %q: %w", ref, err)
		}
	}
	resolvedPath = filepath.Clean(resolvedPath)

	data, err = os.ReadFile(resolvedPath) //nolint:gosec // user-provided config path - intentional
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", "", fmt.Errorf("extends file not found: %q", ref)
		}
		return nil, "", "", fmt.Errorf("failed to read extends file %q: %w", ref, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, "", "", fmt.Errorf("extends file is empty: %q", ref)
	}

	return data, resolvedPath, filepath.Dir(resolvedPath), nil
}

// Exists checks if a template with the given name exists.
func Exists(name string) bool {
	name = strings.TrimSuffix(name, ".json")
	filename := name + ".json"

	_, err := templatesFS.ReadFile(filename)
	return err == nil
}

// GetPath returns the embedded path for a template (for display purposes).
func GetPath(name string) string {
	name = strings.TrimSuffix(name, ".json")
	return filepath.Join("internal/templates", name+".json")
}

// ResolveExtends resolves the extends field in a config by loading and merging
// the base template or config file. If the config has no extends field, it is returned as-is.
// Relative paths are resolved relative to the current working directory.
// Use ResolveExtendsWithBaseDir if you need to resolve relative to a specific directory.
func ResolveExtends(cfg *policy.Config) (*policy.Config, error) {
	return ResolveExtendsWithBaseDir(cfg, "")
}

// ResolveExtendsWithBaseDir resolves the extends field in a policy.
// The baseDir is used to resolve relative paths in the extends field.
// If baseDir is empty, relative paths will be resolved relative to the current working directory.
//
// The extends field can be:
//   - A template name (e.g., "git-readonly", "npm-install")
//   - An absolute path (e.g., "/path/to/base.json")
//   - A relative path (e.g., "./base.json", "../shared/base.json")
//
// Paths are detected by the presence of "/" or "\" or a leading ".".
func ResolveExtendsWithBaseDir(cfg *policy.Config, baseDir string) (*policy.Config, error) {
	if cfg == nil || cfg.Extends == "" {
		return cfg, nil
	}

	baseCfg, err := resolveRef(cfg.Extends, baseDir, 1, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load base %q: %w", cfg.Extends, err)
	}
	return policy.Merge(baseCfg, cfg), nil
}
