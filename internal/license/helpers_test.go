package license_test

import (
	"context"
	"crypto/rsa"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"fitcore/internal/licgen"
	"fitcore/internal/license"
	"fitcore/internal/security"
	"fitcore/internal/shared/testutil"
	"fitcore/internal/sproto"
)

var fixtures = testutil.NewLicenseFixtures("")

var (
	rsaOnce sync.Once
	rsaPriv *rsa.PrivateKey
	rsaErr  error
)

func rsaKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	rsaOnce.Do(func() { rsaPriv, rsaErr = security.GenerateRSAKey() })
	require.NoError(t, rsaErr)
	return rsaPriv
}

func ptr[T any](v T) *T { return &v }

func generate(t *testing.T, d *licgen.Description, signers ...licgen.Signer) []byte {
	t.Helper()
	if len(signers) == 0 {
		signers = []licgen.Signer{licgen.AESSigner{Key: testutil.FixtureAESKey}}
	}
	buf, err := licgen.Generate(d, signers...)
	require.NoError(t, err)
	return buf
}

func corrupt(t *testing.T, buf []byte) []byte {
	t.Helper()
	out, err := fixtures.Corrupt(buf, "sample")
	require.NoError(t, err)
	return out
}

func aesKeys() []license.Key {
	return []license.Key{{Algorithm: license.AlgAES, Scope: license.ScopeSign, Material: testutil.FixtureAESKey}}
}

func newCore(t *testing.T, opts license.Options) *license.Core {
	t.Helper()
	if opts.Keys == nil {
		opts.Keys = aesKeys()
	}
	if opts.Capabilities == 0 {
		opts.Capabilities = license.CapAES | license.CapClock
	}
	if opts.Logger == nil {
		opts.Logger, _ = testutil.NewTestLogger(t)
	}
	c, err := license.New(opts)
	require.NoError(t, err)
	require.NoError(t, c.Init(context.Background()))
	return c
}

// rsaCore adds the PEM encoded test RSA key to opts.
func rsaCore(t *testing.T, opts license.Options) *license.Core {
	t.Helper()
	pub, err := security.MarshalRSAPublicKeyPEM(&rsaKey(t).PublicKey)
	require.NoError(t, err)
	opts.Keys = append(opts.Keys, license.Key{Algorithm: license.AlgRSA, Scope: license.ScopeSign, Material: pub})
	opts.Capabilities |= license.CapRSA | license.CapPEM
	return newCore(t, opts)
}

// countingVerifier counts RSA primitive invocations.
type countingVerifier struct {
	calls atomic.Int32
}

func (v *countingVerifier) VerifyRSA(pub *rsa.PublicKey, digest [security.AbreastDMSize]byte, sig []byte, wrapped bool) error {
	v.calls.Add(1)
	return security.VerifyRSA(pub, digest, sig, wrapped)
}

func request(tag sproto.Tag, flags sproto.Flags) sproto.Request {
	return sproto.Request{Tag: tag, Type: tag.Type(), Flags: flags}
}
