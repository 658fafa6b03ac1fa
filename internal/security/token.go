package security

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
)

const controlTokenPrefix = "sessionswitch-control|"

// ResolveControlToken returns the control endpoint token, deriving a stable
// value from the run identifier when no explicit token is configured.
func ResolveControlToken(runID string) string {
	token := strings.TrimSpace(os.Getenv("SESSIONSWITCH_CONTROL_TOKEN"))
	if token != "" {
		return token
	}
	return DeriveControlToken(runID)
}

// DeriveControlToken hashes the provided seed into a deterministic token.
func DeriveControlToken(seed string) string {
	seed = strings.TrimSpace(seed)
	if seed == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(controlTokenPrefix + seed))
	return hex.EncodeToString(sum[:])
}
