package backend

import (
	"context"
	"os/exec"
	"runtime"
	"testing"

	"github.com/leash-sh/leash/internal/platform"
	"github.com/leash-sh/leash/internal/policy"
)

func TestLaunchRejectsEmptyArgv(t *testing.T) {
	r := &Recipe{}
	if _, err := r.Launch(context.Background(), nil, LaunchOptions{}); err == nil {
		t.Error("Launch(nil argv) error = nil, want error")
	}
}

// TestPrepareFailsClosedRatherThanDegrade checks spec.md §7's fast-fail
// discipline: on a host where the Linux bridge's external dependency
// (socat) is missing, Prepare must return an error, never a Recipe that
// would let a child run without its network bridge installed.
func TestPrepareFailsClosedRatherThanDegrade(t *testing.T) {
	if platform.Detect() != platform.Linux {
		t.Skip("this failure mode is Linux-specific (missing socat)")
	}
	if _, err := exec.LookPath("socat"); err == nil {
		t.Skip("socat is installed; cannot exercise the missing-dependency path")
	}

	cfg := policy.Default()
	recipe, err := Prepare(cfg, 1234, 1235, nil, false)
	if err == nil {
		t.Fatalf("Prepare() with no socat on PATH returned a Recipe (%v) instead of failing closed", recipe)
	}
}

func TestPrepareRejectsUnsupportedPlatform(t *testing.T) {
	if runtime.GOOS == "darwin" || runtime.GOOS == "linux" {
		t.Skip("this host has a supported backend; nothing to assert")
	}
	if _, err := Prepare(policy.Default(), 0, 0, nil, false); err == nil {
		t.Error("Prepare() on an unsupported platform returned nil error, want an error")
	}
}
