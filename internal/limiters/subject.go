package limiters

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Subject normalizes an identifier and digests it for use in key names.
func Subject(identifier string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(identifier))))
	return hex.EncodeToString(sum[:16])
}
