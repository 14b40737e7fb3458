package security

import (
	"crypto/aes"
	"crypto/subtle"
	"fmt"

	"github.com/aead/cmac"
)

const (
	// OMACKeySize is the AES-128 key length used for OMAC signing.
	OMACKeySize = 16
	// OMACSize is the full OMAC tag length.
	OMACSize = aes.BlockSize
)

// OMAC computes the AES-128 OMAC1 (CMAC) tag of msg.
func OMAC(key, msg []byte) ([]byte, error) {
	if len(key) != OMACKeySize {
		return nil, fmt.Errorf("omac key must be %d bytes, got %d", OMACKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	mac, err := cmac.New(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create omac: %w", err)
	}
	mac.Write(msg)
	return mac.Sum(nil), nil
}

// VerifyOMAC recomputes the tag of msg and compares it with tag in
// constant time.
func VerifyOMAC(key, msg, tag []byte) (bool, error) {
	want, err := OMAC(key, msg)
	if err != nil {
		return false, err
	}
	return SecureCompare(want, tag), nil
}

// SecureCompare performs constant-time comparison to prevent timing attacks.
// Slices of different length never match.
func SecureCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
