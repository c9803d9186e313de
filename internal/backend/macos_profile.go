package backend

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"github.com/leash-sh/leash/internal/sandbox"
)

//go:embed macos_profile.tmpl
var macosProfileSource string

var macosProfileTemplate = template.Must(template.New("macos_profile").Funcs(template.FuncMap{
	"quote": func(s string) string { return fmt.Sprintf("%q", s) },
}).Parse(macosProfileSource))

// macosProfileData is everything the SBPL template needs. It is built once
// per launch from Capabilities plus the proxy ports, and holds no policy
// types itself — by the time a profile renders, Config has already been
// reduced to plain strings and ints.
type macosProfileData struct {
	LogTag              string
	AllowHardware        bool
	NetworkRestricted    bool
	AllowLocalBinding    bool
	AllowLocalOutbound   bool
	AllowAllUnixSockets  bool
	UnixSocketPaths      []string
	HTTPProxyPort        int
	SOCKSProxyPort       int
	AllowPty             bool
	ReadRules            []string
	WriteRules           []string
}

// renderMacOSProfile builds a complete Seatbelt profile for one launch. The
// returned logTag is embedded in the profile's deny message so a later
// violation log line can be matched back to the command that produced it.
func renderMacOSProfile(caps Capabilities, allowHardware bool, httpPort, socksPort int) (profile, logTag string, err error) {
	logTag = "CMD" + randomLogSuffix()

	data := macosProfileData{
		LogTag:              logTag,
		AllowHardware:       allowHardware,
		NetworkRestricted:   caps.NetworkRestricted,
		AllowLocalBinding:   caps.AllowLocalBinding,
		AllowLocalOutbound:  caps.AllowLocalOutbound,
		AllowAllUnixSockets: caps.AllowAllUnixSockets,
		UnixSocketPaths:     caps.AllowUnixSockets,
		HTTPProxyPort:       httpPort,
		SOCKSProxyPort:      socksPort,
		AllowPty:            caps.AllowPty,
		ReadRules:           buildReadRules(caps.HiddenPaths, logTag),
		WriteRules:          buildWriteRules(caps.WritablePaths, caps.ReadOnlyPaths, logTag),
	}

	var out strings.Builder
	if err := macosProfileTemplate.Execute(&out, data); err != nil {
		return "", "", fmt.Errorf("backend: rendering macos profile: %w", err)
	}
	return out.String(), logTag, nil
}

func randomLogSuffix() string {
	return sandbox.GetSessionSuffix()
}

// buildReadRules renders the (deny file-read* ...) clauses that hide a path
// entirely, plus the matching file-write-unlink guards that stop a sandboxed
// process from renaming a hidden path's ancestor out of the way.
func buildReadRules(hiddenPaths []string, logTag string) []string {
	var rules []string
	for _, p := range hiddenPaths {
		rules = append(rules, matchClause("deny", "file-read*", p, logTag))
	}
	rules = append(rules, unlinkGuards(hiddenPaths, logTag)...)
	return rules
}

// buildWriteRules renders the (allow file-write* ...) clauses for writable
// paths and the (deny file-write* ...) clauses for read-only paths, plus
// unlink guards over the read-only set.
func buildWriteRules(writable, readOnly []string, logTag string) []string {
	var rules []string
	for _, p := range tmpdirParentPaths() {
		rules = append(rules, matchClause("allow", "file-write*", p, logTag))
	}
	for _, p := range writable {
		rules = append(rules, matchClause("allow", "file-write*", p, logTag))
	}
	for _, p := range readOnly {
		rules = append(rules, matchClause("deny", "file-write*", p, logTag))
	}
	rules = append(rules, unlinkGuards(readOnly, logTag)...)
	return rules
}

// matchClause renders one (allow|deny file-read*|file-write* (subpath ...)|(regex ...) (with message ...)) clause.
func matchClause(verb, action, pathPattern, logTag string) string {
	normalized := sandbox.NormalizePath(pathPattern)
	if sandbox.ContainsGlobChars(normalized) {
		return fmt.Sprintf("(%s %s\n  (regex %s)\n  (with message %s))",
			verb, action, quoteSBPL(globToRegex(normalized)), quoteSBPL(logTag))
	}
	return fmt.Sprintf("(%s %s\n  (subpath %s)\n  (with message %s))",
		verb, action, quoteSBPL(normalized), quoteSBPL(logTag))
}

// unlinkGuards blocks renaming a protected path (or one of its ancestor
// directories) out of the way as a way to bypass the rule above it.
func unlinkGuards(paths []string, logTag string) []string {
	var rules []string
	for _, p := range paths {
		normalized := sandbox.NormalizePath(p)
		if sandbox.ContainsGlobChars(normalized) {
			rules = append(rules, fmt.Sprintf("(deny file-write-unlink\n  (regex %s)\n  (with message %s))",
				quoteSBPL(globToRegex(normalized)), quoteSBPL(logTag)))
			prefix := strings.Split(normalized, "*")[0]
			if prefix == "" || prefix == "/" {
				continue
			}
			base := strings.TrimSuffix(prefix, "/")
			if base == prefix {
				base = filepath.Dir(prefix)
			}
			rules = append(rules, literalUnlinkGuard(base, logTag))
			for _, ancestor := range ancestorsOf(base) {
				rules = append(rules, literalUnlinkGuard(ancestor, logTag))
			}
			continue
		}
		rules = append(rules, fmt.Sprintf("(deny file-write-unlink\n  (subpath %s)\n  (with message %s))",
			quoteSBPL(normalized), quoteSBPL(logTag)))
		for _, ancestor := range ancestorsOf(normalized) {
			rules = append(rules, literalUnlinkGuard(ancestor, logTag))
		}
	}
	return rules
}

func literalUnlinkGuard(path, logTag string) string {
	return fmt.Sprintf("(deny file-write-unlink\n  (literal %s)\n  (with message %s))",
		quoteSBPL(path), quoteSBPL(logTag))
}

func ancestorsOf(path string) []string {
	var out []string
	cur := filepath.Dir(path)
	for cur != "/" && cur != "." {
		out = append(out, cur)
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
	}
	return out
}

// globToRegex turns a shell-style glob into the regex syntax SBPL's (regex)
// matcher expects.
func globToRegex(glob string) string {
	escaped := regexp.QuoteMeta(glob)
	escaped = strings.ReplaceAll(escaped, `\*\*/`, "(.*/)?")
	escaped = strings.ReplaceAll(escaped, `\*\*`, ".*")
	escaped = strings.ReplaceAll(escaped, `\*`, "[^/]*")
	escaped = strings.ReplaceAll(escaped, `\?`, "[^/]")
	return "^" + escaped + "$"
}

func quoteSBPL(s string) string { return fmt.Sprintf("%q", s) }

// tmpdirParentPaths returns the macOS per-session TMPDIR parent (both its
// /var and /private/var spellings) so tools that write under $TMPDIR work
// without needing an explicit allowWrite entry.
func tmpdirParentPaths() []string {
	tmpdir := os.Getenv("TMPDIR")
	if tmpdir == "" {
		return nil
	}
	pattern := regexp.MustCompile(`^/(private/)?var/folders/[^/]{2}/[^/]+/T/?$`)
	if !pattern.MatchString(tmpdir) {
		return nil
	}
	parent := strings.TrimSuffix(strings.TrimSuffix(tmpdir, "/"), "/T")
	if strings.HasPrefix(parent, "/private/var/") {
		return []string{parent, strings.Replace(parent, "/private", "", 1)}
	}
	if strings.HasPrefix(parent, "/var/") {
		return []string{parent, "/private" + parent}
	}
	return []string{parent}
}
