package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainResult separates result digests from any other hash built on the
// same canonical encoding.
const DomainResult = "icm/result/v1"

// Digest returns hex(SHA-256(domain || 0x00 || Marshal(v))).
func Digest(domain string, v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", domain, err)
	}
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
