package sandbox

// This file holds only the session-suffix generator shared between the
// Seatbelt profile renderer (internal/backend) and the log-stream violation
// monitor (monitor.go); SBPL synthesis itself lives in
// internal/backend/macos_profile.go, driven by Capabilities.

import (
	"crypto/rand"
	"encoding/hex"
)

// sessionSuffix is a unique identifier for this process session.
var sessionSuffix = generateSessionSuffix()

func generateSessionSuffix() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		panic("failed to generate session suffix: " + err.Error())
	}
	return "_" + hex.EncodeToString(bytes)[:9] + "_SBX"
}
