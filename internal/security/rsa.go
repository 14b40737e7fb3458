package security

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// RSAKeyBits is the vendor key size licenses are signed with.
const RSAKeyBits = 2048

var (
	// ErrPEMNotSupported is returned for PEM input when PEM decoding is off.
	ErrPEMNotSupported = errors.New("PEM encoded keys not supported")
	// ErrNotRSAKey is returned when the key material holds another key type.
	ErrNotRSAKey = errors.New("key is not RSA")
)

// ParseRSAPublicKey decodes a vendor public key. DER input may be PKIX or
// PKCS#1; PEM input ("PUBLIC KEY" or "RSA PUBLIC KEY") is accepted only
// when allowPEM is set.
func ParseRSAPublicKey(data []byte, allowPEM bool) (*rsa.PublicKey, error) {
	der := data
	if block, _ := pem.Decode(data); block != nil {
		if !allowPEM {
			return nil, ErrPEMNotSupported
		}
		if block.Type != "PUBLIC KEY" && block.Type != "RSA PUBLIC KEY" {
			return nil, fmt.Errorf("unexpected PEM block %q", block.Type)
		}
		der = block.Bytes
	}

	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		// Fallback for PKCS1
		pkcs1, err2 := x509.ParsePKCS1PublicKey(der)
		if err2 != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}
		pub = pkcs1
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, ErrNotRSAKey
	}
	return rsaPub, nil
}

// ParseRSAPrivateKey decodes a PEM or DER private key (PKCS#1 or PKCS#8).
func ParseRSAPrivateKey(data []byte) (*rsa.PrivateKey, error) {
	der := data
	if block, _ := pem.Decode(data); block != nil {
		der = block.Bytes
	}
	if k, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return k, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	rsaKey, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, ErrNotRSAKey
	}
	return rsaKey, nil
}

// MarshalRSAPublicKeyPEM encodes pub as a PKIX "PUBLIC KEY" PEM block.
func MarshalRSAPublicKeyPEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// MarshalRSAPrivateKeyPEM encodes key as a PKCS#1 PEM block.
func MarshalRSAPrivateKeyPEM(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

// rsaDigest selects the hash and the bytes signed for an Abreast-DM
// digest. Older license formats wrap the digest in SHA-256; newer ones
// sign the raw digest with no DigestInfo prefix.
func rsaDigest(digest [AbreastDMSize]byte, sha256Wrapped bool) (crypto.Hash, []byte) {
	if sha256Wrapped {
		sum := sha256.Sum256(digest[:])
		return crypto.SHA256, sum[:]
	}
	return crypto.Hash(0), digest[:]
}

// VerifyRSA checks a PKCS#1 v1.5 signature over an Abreast-DM digest.
func VerifyRSA(pub *rsa.PublicKey, digest [AbreastDMSize]byte, sig []byte, sha256Wrapped bool) error {
	h, hashed := rsaDigest(digest, sha256Wrapped)
	return rsa.VerifyPKCS1v15(pub, h, hashed, sig)
}

// SignRSA produces the PKCS#1 v1.5 signature VerifyRSA accepts.
func SignRSA(key *rsa.PrivateKey, digest [AbreastDMSize]byte, sha256Wrapped bool) ([]byte, error) {
	h, hashed := rsaDigest(digest, sha256Wrapped)
	return rsa.SignPKCS1v15(rand.Reader, key, h, hashed)
}

// GenerateRSAKey creates a fresh vendor signing key.
func GenerateRSAKey() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, RSAKeyBits)
}
