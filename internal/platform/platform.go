// Package platform identifies which sandbox backend the host can run.
package platform

import "runtime"

// OS identifies a supported host platform.
type OS string

const (
	MacOS       OS = "darwin"
	Linux       OS = "linux"
	Unsupported OS = "unsupported"
)

// Detect returns the current host's OS classification.
func Detect() OS {
	switch runtime.GOOS {
	case "darwin":
		return MacOS
	case "linux":
		return Linux
	default:
		return Unsupported
	}
}

// IsSupported reports whether the running host has a sandbox backend.
func IsSupported() bool {
	return Detect() != Unsupported
}

func (o OS) String() string {
	return string(o)
}
