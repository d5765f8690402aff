package claim

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// NewToken returns an opaque, unguessable capability token. The token, not
// the key, is the credential for heartbeat and release, so a client that
// merely knows the key cannot impersonate the holder.
func NewToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
