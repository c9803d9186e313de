package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// globMetaChars are the characters that make a path a glob pattern rather
// than a literal path.
const globMetaChars = "*?["

// ContainsGlobChars reports whether pattern contains shell glob metacharacters.
func ContainsGlobChars(pattern string) bool {
	return strings.ContainsAny(pattern, globMetaChars)
}

// RemoveTrailingGlobSuffix strips one trailing "/**" (or "**" for a bare
// pattern) from pattern, leaving the directory prefix it was anchored to.
func RemoveTrailingGlobSuffix(pattern string) string {
	switch {
	case strings.HasSuffix(pattern, "/**"):
		return strings.TrimSuffix(pattern, "/**")
	case pattern == "**":
		return ""
	default:
		return pattern
	}
}

// NormalizePath expands a leading "~" to the user's home directory and
// resolves relative paths against the current working directory. Glob
// patterns (anything containing * or **) are returned unchanged, since
// expanding them would break the pattern.
func NormalizePath(path string) string {
	if ContainsGlobChars(path) {
		return path
	}

	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
		return path
	}

	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}

	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// GenerateProxyEnvVars returns the environment variable assignments a
// sandboxed child needs to route outbound traffic through leash's proxies.
// An httpPort/socksPort of 0 omits the corresponding variables entirely.
func GenerateProxyEnvVars(httpPort, socksPort int) []string {
	env := []string{
		"LEASH_SANDBOX=1",
		"TMPDIR=/tmp/leash",
	}

	if httpPort != 0 {
		httpURL := fmt.Sprintf("http://localhost:%d", httpPort)
		env = append(env,
			"HTTP_PROXY="+httpURL,
			"HTTPS_PROXY="+httpURL,
			"http_proxy="+httpURL,
			"https_proxy="+httpURL,
			"NO_PROXY=localhost,127.0.0.1,::1",
			"no_proxy=localhost,127.0.0.1,::1",
		)
	}

	if socksPort != 0 {
		socksURL := fmt.Sprintf("socks5h://localhost:%d", socksPort)
		env = append(env,
			"ALL_PROXY="+socksURL,
			"all_proxy="+socksURL,
			"FTP_PROXY="+socksURL,
			"GIT_SSH_COMMAND=ssh -o ProxyCommand=none",
		)
	}

	return env
}
