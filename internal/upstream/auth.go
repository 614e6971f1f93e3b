package upstream

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/google/uuid"

	gateway "github.com/tbuijibing/KiroGate/internal"
)

// deriveFingerprint normalizes a credential's machine fingerprint into the
// 64-hex-lowercase form the upstream expects, and reports which agent-mode
// that implies (spec §4.3):
//
//   - a 64-hex value is used as-is, mode "spec".
//   - a 32-hex UUID-shaped value is doubled to reach 64 hex chars, mode
//     "spec".
//   - no fingerprint at all falls back to a SHA-256 over
//     "KotlinNativeAPI/<refreshToken>", mode "vibe".
func deriveFingerprint(cred *gateway.Credential) (fingerprint, mode string) {
	raw := strings.ToLower(strings.ReplaceAll(cred.MachineFingerprint, "-", ""))
	switch {
	case isHex(raw) && len(raw) == 64:
		return raw, "spec"
	case isHex(raw) && len(raw) == 32:
		return raw + raw, "spec"
	}

	sum := sha256.Sum256([]byte("KotlinNativeAPI/" + cred.RefreshToken))
	fallback := hex.EncodeToString(sum[:])
	if raw != "" {
		return fallback, "spec"
	}
	return fallback, "vibe"
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return false
		}
	}
	return true
}

// setAuthHeaders applies the upstream's bearer + invocation-id + agent-mode
// header scheme to an outbound request (spec §4.3).
func setAuthHeaders(r *http.Request, cred *gateway.Credential) {
	r.Header.Set("content-type", "application/json")
	r.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	r.Header.Set("Amz-Sdk-Invocation-Id", uuid.NewString())

	_, mode := deriveFingerprint(cred)
	r.Header.Set("agent-mode", mode)
	if cred.ProfileID != "" {
		r.Header.Set("x-amz-profile-arn", cred.ProfileID)
	}
}
