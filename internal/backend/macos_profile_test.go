package backend

import (
	"strings"
	"testing"

	"github.com/leash-sh/leash/internal/policy"
)

// TestRenderMacOSProfile_WildcardAllowedDomainsRelaxesNetwork verifies that
// when allowedDomains contains "*", Capabilities reports NetworkRestricted
// false and the rendered profile allows all network operations outright.
func TestRenderMacOSProfile_WildcardAllowedDomainsRelaxesNetwork(t *testing.T) {
	tests := []struct {
		name                  string
		allowedDomains        []string
		wantNetworkRestricted bool
	}{
		{"no domains - network restricted", nil, true},
		{"specific domain - network restricted", []string{"api.openai.com"}, true},
		{"wildcard domain - network unrestricted", []string{"*"}, false},
		{"wildcard with specific domains - network unrestricted", []string{"api.openai.com", "*"}, false},
		{"wildcard subdomain pattern - network restricted", []string{"*.openai.com"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := policy.Default()
			cfg.Network.AllowedDomains = tt.allowedDomains
			cfg.Filesystem.AllowWrite = []string{"/tmp/test"}

			caps := ResolveCapabilities(cfg, "/tmp")
			if caps.NetworkRestricted != tt.wantNetworkRestricted {
				t.Errorf("NetworkRestricted = %v, want %v", caps.NetworkRestricted, tt.wantNetworkRestricted)
			}

			profile, _, err := renderMacOSProfile(caps, false, 8080, 1080)
			if err != nil {
				t.Fatalf("renderMacOSProfile: %v", err)
			}

			if tt.wantNetworkRestricted {
				if strings.Contains(profile, "(allow network*)") {
					t.Errorf("expected restricted network profile to NOT contain blanket '(allow network*)', got:\n%s", profile)
				}
			} else {
				if !strings.Contains(profile, "(allow network*)") {
					t.Errorf("expected unrestricted network profile to contain '(allow network*)', got:\n%s", profile)
				}
			}
		})
	}
}

// TestRenderMacOSProfile_AllowHardwareGatesIOKit verifies the IOKit stanza
// only appears when SecurityToggles.AllowHardware is set.
func TestRenderMacOSProfile_AllowHardwareGatesIOKit(t *testing.T) {
	caps := ResolveCapabilities(policy.Default(), "/tmp")

	withoutHW, _, err := renderMacOSProfile(caps, false, 8080, 1080)
	if err != nil {
		t.Fatalf("renderMacOSProfile: %v", err)
	}
	if strings.Contains(withoutHW, "IOSurfaceRootUserClient") {
		t.Error("expected IOKit stanza to be absent when allowHardware is false")
	}

	withHW, _, err := renderMacOSProfile(caps, true, 8080, 1080)
	if err != nil {
		t.Fatalf("renderMacOSProfile: %v", err)
	}
	if !strings.Contains(withHW, "IOSurfaceRootUserClient") {
		t.Error("expected IOKit stanza to be present when allowHardware is true")
	}
}

// TestRenderMacOSProfile_AllowPtyStanza verifies the pty stanza tracks
// Capabilities.AllowPty.
func TestRenderMacOSProfile_AllowPtyStanza(t *testing.T) {
	cfg := policy.Default()
	cfg.AllowPty = true
	caps := ResolveCapabilities(cfg, "/tmp")

	profile, _, err := renderMacOSProfile(caps, false, 8080, 1080)
	if err != nil {
		t.Fatalf("renderMacOSProfile: %v", err)
	}
	if !strings.Contains(profile, "(allow pseudo-tty)") {
		t.Error("expected pty stanza when AllowPty is true")
	}
}

// TestRenderMacOSProfile_UnlinkGuardsHiddenPaths verifies a hidden path gets
// both a file-read deny and a file-write-unlink guard, so a sandboxed
// process can't rename the path's parent out of the way to bypass the deny.
func TestRenderMacOSProfile_UnlinkGuardsHiddenPaths(t *testing.T) {
	cfg := policy.Default()
	cfg.Filesystem.DenyRead = []string{"/tmp/leash-secret"}
	caps := ResolveCapabilities(cfg, "/tmp")

	profile, _, err := renderMacOSProfile(caps, false, 8080, 1080)
	if err != nil {
		t.Fatalf("renderMacOSProfile: %v", err)
	}
	if !strings.Contains(profile, `(deny file-read*`) {
		t.Error("expected a file-read deny rule for the hidden path")
	}
	if !strings.Contains(profile, "file-write-unlink") {
		t.Error("expected an unlink guard protecting the hidden path's ancestors")
	}
}
