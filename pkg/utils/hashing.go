package utils

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// ZeroAddress is never a valid subscriber, provider or backend.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// Keccak256 hashes data with the legacy (pre-NIST) Keccak used for account checksums.
func Keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

// NormalizeAddress validates a 20-byte hex address and returns its EIP-55 checksum form.
func NormalizeAddress(addr string) (string, error) {
	raw := strings.TrimSpace(addr)
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")
	if len(raw) != 40 {
		return "", fmt.Errorf("%w: %q must be 20 bytes of hex", ErrInvalidAddress, addr)
	}
	lower := strings.ToLower(raw)
	if _, err := hex.DecodeString(lower); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}

	hash := Keccak256([]byte(lower))
	out := make([]byte, 0, 42)
	out = append(out, '0', 'x')
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		nibble := hash[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if c >= 'a' && c <= 'f' && nibble&0x0f >= 8 {
			c -= 'a' - 'A'
		}
		out = append(out, c)
	}

	normalized := string(out)
	if normalized == ZeroAddress {
		return "", fmt.Errorf("%w: zero address", ErrInvalidAddress)
	}
	return normalized, nil
}

// MustNormalizeAddress is for constants and tests only.
func MustNormalizeAddress(addr string) string {
	out, err := NormalizeAddress(addr)
	if err != nil {
		panic(err)
	}
	return out
}

// SameAddress compares two addresses ignoring checksum case.
func SameAddress(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}
