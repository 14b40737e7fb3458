package license

import (
	"crypto/rsa"
	"fmt"
	"log/slog"
	"time"

	"fitcore/internal/persist"
	"fitcore/internal/security"
)

// Algorithm identifies a signing scheme in a license signature entry.
type Algorithm uint32

const (
	// AlgAES is AES-128 OMAC over the license object.
	AlgAES Algorithm = 1
	// AlgRSA is RSA-2048 PKCS#1 v1.5 over the Abreast-DM digest.
	AlgRSA Algorithm = 2
)

func (a Algorithm) String() string {
	switch a {
	case AlgAES:
		return "aes"
	case AlgRSA:
		return "rsa"
	default:
		return fmt.Sprintf("alg%d", uint32(a))
	}
}

// KeyScope tells what a key may be used for.
type KeyScope uint8

const (
	ScopeSign KeyScope = iota + 1
	ScopeCrypt
)

// MaxKeys is the size of the key table.
const MaxKeys = 3

// Key is vendor key material. AES keys are 16 raw bytes; RSA keys are a
// DER or, with CapPEM, PEM encoded public key.
type Key struct {
	Algorithm Algorithm
	Scope     KeyScope
	Material  []byte
}

// Clock supplies the current unix time.
type Clock interface {
	UnixTime() (uint32, error)
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() (uint32, error)

func (f ClockFunc) UnixTime() (uint32, error) { return f() }

// SystemClock reads the host clock.
type SystemClock struct{}

func (SystemClock) UnixTime() (uint32, error) {
	now := time.Now().Unix()
	if now < 0 || now > 0xFFFFFFFF {
		return 0, fmt.Errorf("system time %d out of range", now)
	}
	return uint32(now), nil
}

// RSAVerifier checks an RSA signature over an Abreast-DM digest.
type RSAVerifier interface {
	VerifyRSA(pub *rsa.PublicKey, digest [security.AbreastDMSize]byte, sig []byte, sha256Wrapped bool) error
}

// RSAVerifierFunc adapts a function to RSAVerifier.
type RSAVerifierFunc func(pub *rsa.PublicKey, digest [security.AbreastDMSize]byte, sig []byte, sha256Wrapped bool) error

func (f RSAVerifierFunc) VerifyRSA(pub *rsa.PublicKey, digest [security.AbreastDMSize]byte, sig []byte, sha256Wrapped bool) error {
	return f(pub, digest, sig, sha256Wrapped)
}

// Options configures a Core.
type Options struct {
	// Keys holds at most MaxKeys entries.
	Keys []Key

	// Capabilities is the set of features this core provides.
	Capabilities Capability

	// Store backs the update counter; required with CapPersistence.
	Store persist.Store

	// Clock is required for time based licenses; defaults to SystemClock
	// when CapClock is set.
	Clock Clock

	// DeviceID supplies raw device id bytes for node locking; defaults to
	// the host device id when CapNodeLock is set.
	DeviceID security.DeviceIDSource

	// RSAVerifier defaults to security.VerifyRSA.
	RSAVerifier RSAVerifier

	// EnforceNodeLock rejects licenses locked to another device. When
	// false the fingerprint is parsed and checked for shape only.
	EnforceNodeLock bool

	// DisableRSACache verifies RSA signatures on every check.
	DisableRSACache bool

	// DisableLocking drops the core locks for single goroutine hosts.
	DisableLocking bool

	Logger  *slog.Logger
	Metrics *Metrics
}

func (o *Options) validate() error {
	if len(o.Keys) > MaxKeys {
		return fmt.Errorf("at most %d keys, got %d", MaxKeys, len(o.Keys))
	}
	if o.Capabilities&^AllCapabilities != 0 {
		return fmt.Errorf("unknown capability bits %s", o.Capabilities&^AllCapabilities)
	}
	for i, k := range o.Keys {
		switch k.Algorithm {
		case AlgAES:
			if !o.Capabilities.Has(CapAES) {
				return fmt.Errorf("key %d: aes key without aes capability", i)
			}
		case AlgRSA:
			if !o.Capabilities.Has(CapRSA) {
				return fmt.Errorf("key %d: rsa key without rsa capability", i)
			}
		default:
			return fmt.Errorf("key %d: unknown algorithm %d", i, k.Algorithm)
		}
		if k.Scope != ScopeSign && k.Scope != ScopeCrypt {
			return fmt.Errorf("key %d: invalid scope %d", i, k.Scope)
		}
		if len(k.Material) == 0 {
			return fmt.Errorf("key %d: empty key material", i)
		}
	}
	if o.Capabilities.Has(CapPEM) && !o.Capabilities.Has(CapRSA) {
		return fmt.Errorf("pem capability requires rsa")
	}
	if o.Capabilities.Has(CapPersistence) && o.Store == nil {
		return fmt.Errorf("persistence capability requires a store")
	}
	return nil
}
