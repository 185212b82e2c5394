package covert

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/quietlane/stashd/internal/wire"
)

// Mask XORs data against a keystream made by repeating the passphrase's
// raw bytes. Symmetric: the same call encodes and decodes. This is
// obfuscation, not confidentiality, and it is the single keystream
// derivation rule in the system — nothing hashes or stretches the
// passphrase before use.
func Mask(data []byte, passphrase string) []byte {
	if passphrase == "" {
		return data
	}

	key := []byte(passphrase)
	out := make([]byte, len(data))
	for i := range data {
		out[i] = data[i] ^ key[i%len(key)]
	}
	return out
}

// Tag computes the hex-encoded HMAC-SHA256 of data keyed by the
// passphrase. For envelopes the data is always the ciphertext, never the
// plaintext, so verification can run before any decode attempt.
func Tag(data []byte, passphrase string) string {
	mac := hmac.New(sha256.New, []byte(passphrase))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyTag checks a hex-encoded integrity tag in constant time.
func VerifyTag(data []byte, passphrase, tag string) bool {
	expected, err := hex.DecodeString(tag)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(passphrase))
	mac.Write(data)
	return hmac.Equal(mac.Sum(nil), expected)
}

// MaskWithTag encodes data and returns the ciphertext plus its tag.
func MaskWithTag(data []byte, passphrase string) ([]byte, string) {
	masked := Mask(data, passphrase)
	return masked, Tag(masked, passphrase)
}

// UnmaskVerified checks the tag against the ciphertext and only then
// decodes. A mismatch aborts with an integrity-kind error; no partial
// result is ever returned.
func UnmaskVerified(data []byte, passphrase, tag string) ([]byte, error) {
	if !VerifyTag(data, passphrase, tag) {
		return nil, wire.New(wire.KindIntegrity, "integrity tag mismatch")
	}
	return Mask(data, passphrase), nil
}
