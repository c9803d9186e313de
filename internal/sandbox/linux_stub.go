//go:build !linux

package sandbox

import "fmt"

// LinuxSandboxOptions mirrors the real-Linux type so cmd/leash can build
// it unconditionally before checking the platform at runtime.
type LinuxSandboxOptions struct {
	UseLandlock bool
	UseSeccomp  bool
	UseEBPF     bool
	Monitor     bool
	Debug       bool
}

// LinuxMonitors is a stub on non-Linux platforms.
type LinuxMonitors struct{}

// Stop is a no-op on non-Linux platforms.
func (m *LinuxMonitors) Stop() {}

// StartLinuxMonitor always fails on non-Linux platforms.
func StartLinuxMonitor(pid int, opts LinuxSandboxOptions) (*LinuxMonitors, error) {
	return nil, fmt.Errorf("linux violation monitoring unavailable on this platform")
}

// PrintLinuxFeatures reports that Linux sandbox features are unavailable.
func PrintLinuxFeatures() {
	fmt.Println("Linux sandbox features are only available when running on Linux.")
}

// LinuxBridge is a stub on non-Linux platforms: backend.Prepare never
// constructs one outside platform.Linux, but the type must exist so
// internal/backend (which has no platform build tags of its own) compiles
// everywhere.
type LinuxBridge struct {
	HTTPSocketPath  string
	SOCKSSocketPath string
}

// ReverseBridge is a stub on non-Linux platforms, mirroring LinuxBridge.
type ReverseBridge struct {
	Ports       []int
	SocketPaths []string
}

// NewLinuxBridge always fails on non-Linux platforms.
func NewLinuxBridge(httpProxyPort, socksProxyPort int, debug bool) (*LinuxBridge, error) {
	return nil, fmt.Errorf("linux bridge unavailable on this platform")
}

// NewReverseBridge always fails on non-Linux platforms.
func NewReverseBridge(ports []int, debug bool) (*ReverseBridge, error) {
	return nil, fmt.Errorf("reverse bridge unavailable on this platform")
}

// Cleanup is a no-op on non-Linux platforms.
func (b *LinuxBridge) Cleanup() {}

// Cleanup is a no-op on non-Linux platforms.
func (b *ReverseBridge) Cleanup() {}
