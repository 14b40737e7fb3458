package license_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fiterrors "fitcore/internal/errors"
	"fitcore/internal/licgen"
	"fitcore/internal/license"
	"fitcore/internal/security"
	"fitcore/internal/shared/testutil"
	"fitcore/internal/sproto"
)

func TestReferenceLicense(t *testing.T) {
	ctx := context.Background()
	core := newCore(t, license.Options{})
	buf := generate(t, fixtures.Perpetual())
	assert.Equal(t, []byte{0, 0, 1, 0}, buf[:4])

	lic := core.NewLicense(buf)
	require.NoError(t, core.CheckValidity(ctx, lic, true))
	assert.True(t, lic.Verified())

	var fc license.FeatureContext
	require.NoError(t, core.FindFeature(ctx, lic, 7, sproto.First, &fc))
	assert.Equal(t, uint32(7), fc.FeatureID)
	assert.Equal(t, uint32(42), fc.ProductID)
	assert.Equal(t, license.LicenseModel{
		Perpetual:        true,
		StartDate:        0,
		EndDate:          0,
		ConcurrencyLimit: 0xFFFFFFFF,
	}, fc.Model)
	assert.Same(t, lic, fc.License())

	require.NoError(t, core.StartConsume(ctx, &fc))
	require.NoError(t, core.EndConsume(ctx, &fc))
}

func TestCorruptedLicense(t *testing.T) {
	ctx := context.Background()
	logger, logs := testutil.NewTestLogger(t)
	core := newCore(t, license.Options{Logger: logger})
	lic := core.NewLicense(corrupt(t, generate(t, fixtures.Perpetual())))

	err := core.CheckValidity(ctx, lic, true)
	assert.ErrorIs(t, err, fiterrors.ErrInvalidSignature)
	assert.False(t, lic.Verified())

	fc := license.FeatureContext{FeatureID: 99}
	err = core.FindFeature(ctx, lic, 7, sproto.First, &fc)
	assert.ErrorIs(t, err, fiterrors.ErrInvalidSignature)
	assert.Equal(t, uint32(99), fc.FeatureID, "context untouched on failure")
	assert.Zero(t, fc.ProductID)

	testutil.AssertLogged(t, logs, slog.LevelWarn, "License signature rejected", "code", "INVALID_SIGNATURE")
	testutil.AssertLogged(t, logs, slog.LevelWarn, "License lookup failed",
		"operation", "license.find_feature", "code", "INVALID_SIGNATURE")
	testutil.AssertNotLogged(t, logs, slog.LevelDebug, "License verified")
}

func TestLookupNotFoundLogsAtDebug(t *testing.T) {
	ctx := context.Background()
	logger, logs := testutil.NewTestLogger(t)
	core := newCore(t, license.Options{Logger: logger})
	lic := core.NewLicense(generate(t, fixtures.Perpetual()))

	var fc license.FeatureContext
	require.ErrorIs(t, core.FindFeature(ctx, lic, 1234, sproto.First, &fc), fiterrors.ErrFeatureNotFound)

	testutil.AssertLogged(t, logs, slog.LevelDebug, "License lookup failed", "code", "FEATURE_NOT_FOUND")
	testutil.AssertNotLogged(t, logs, slog.LevelWarn, "License lookup")
	testutil.AssertNoErrors(t, logs)
}

func TestHeaderVersion(t *testing.T) {
	tests := []struct {
		name     string
		required string
		wantErr  error
	}{
		{"default", "", nil},
		{"same", "1.0", nil},
		{"older", "0.9", nil},
		{"newer minor", "1.1", fiterrors.ErrInvalidVersion},
		{"newer major", "2.0", fiterrors.ErrInvalidVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core := newCore(t, license.Options{})
			d := fixtures.Perpetual()
			d.RequiredCore = tt.required
			err := core.CheckValidity(context.Background(), core.NewLicense(generate(t, d)), false)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestRequirements(t *testing.T) {
	tests := []struct {
		name         string
		lm           uint32
		requirements []string
		caps         license.Capability
		wantCode     fiterrors.Code
	}{
		{"absent before requirements version", license.LMVersionRawRSA, nil, license.CapAES, fiterrors.CodeOK},
		{"absent from requirements version", license.LMVersionRequirements, nil, license.CapAES, fiterrors.CodeInvalidFormat},
		{"legacy aes", license.LMVersionRequirements, []string{"aes"}, license.CapAES, fiterrors.CodeOK},
		{"legacy aes clock", license.LMVersionRequirements, []string{"aes", "clock"}, license.CapAES, fiterrors.CodeRequirementNotSupported},
		{"legacy none", license.LMVersionRequirements, []string{}, license.CapAES, fiterrors.CodeOK},
		{"bitfield persistence", license.LMVersionBitfield, []string{"aes", "persistence"}, license.CapAES, fiterrors.CodeRequirementNotSupported},
		{"bitfield nodelock", license.LMVersionBitfield, []string{"nodelock"}, license.CapAES | license.CapNodeLock, fiterrors.CodeOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core := newCore(t, license.Options{
				Capabilities: tt.caps,
				DeviceID:     security.StaticDeviceID("device-0001"),
			})
			d := fixtures.Perpetual()
			d.Header.LMVersion = tt.lm
			d.Header.Requirements = tt.requirements

			err := core.CheckValidity(context.Background(), core.NewLicense(generate(t, d)), false)
			assert.Equal(t, tt.wantCode, fiterrors.CodeOf(err), "err: %v", err)
		})
	}
}

// A license is accepted exactly when its requirements are a subset of
// the core capabilities.
func TestCapabilityMonotonicity(t *testing.T) {
	caps := license.CapAES | license.CapClock | license.CapNodeLock
	core := newCore(t, license.Options{
		Capabilities: caps,
		DeviceID:     security.StaticDeviceID("device-0001"),
	})
	ctx := context.Background()

	for mask := license.Capability(0); mask < 64; mask++ {
		d := fixtures.Perpetual()
		d.Header.Requirements = nil
		for _, name := range []string{"rsa", "pem", "aes", "clock", "nodelock", "persistence"} {
			c, err := license.ParseCapabilities([]string{name})
			require.NoError(t, err)
			if mask&c != 0 {
				d.Header.Requirements = append(d.Header.Requirements, name)
			}
		}
		if d.Header.Requirements == nil {
			d.Header.Requirements = []string{}
		}

		err := core.CheckValidity(ctx, core.NewLicense(generate(t, d)), false)
		if mask&^caps == 0 {
			assert.NoError(t, err, "requirements %s", mask)
		} else {
			assert.ErrorIs(t, err, fiterrors.ErrRequirementNotSupported, "requirements %s", mask)
		}
	}
}

func TestAlgorithmFallback(t *testing.T) {
	badSig := bytes.Repeat([]byte{0xA5}, security.OMACKeySize)
	good := licgen.AESSigner{Key: testutil.FixtureAESKey}

	tests := []struct {
		name     string
		signers  []licgen.Signer
		wantCode fiterrors.Code
	}{
		{"rsa entry without key", []licgen.Signer{licgen.StaticSigner{Alg: license.AlgRSA, Signature: []byte{1, 2, 3}}, good}, fiterrors.CodeOK},
		{"unknown algorithm", []licgen.Signer{licgen.StaticSigner{Alg: 9, Signature: []byte{1}}, good}, fiterrors.CodeOK},
		{"bad aes then good", []licgen.Signer{licgen.StaticSigner{Alg: license.AlgAES, Signature: badSig}, good}, fiterrors.CodeOK},
		{"bad aes only", []licgen.Signer{licgen.StaticSigner{Alg: license.AlgAES, Signature: badSig}}, fiterrors.CodeInvalidSignature},
		{"no usable key", []licgen.Signer{licgen.StaticSigner{Alg: license.AlgRSA, Signature: []byte{1}}}, fiterrors.CodeKeyNotPresent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core := newCore(t, license.Options{})
			lic := core.NewLicense(generate(t, fixtures.Perpetual(), tt.signers...))
			err := core.CheckValidity(context.Background(), lic, false)
			assert.Equal(t, tt.wantCode, fiterrors.CodeOf(err), "err: %v", err)
		})
	}
}

func TestRSASignatures(t *testing.T) {
	ctx := context.Background()
	key := rsaKey(t)

	t.Run("pem key", func(t *testing.T) {
		core := rsaCore(t, license.Options{})
		d := fixtures.Perpetual()
		d.Header.Requirements = []string{"rsa"}
		assert.NoError(t, core.CheckValidity(ctx, core.NewLicense(generate(t, d, licgen.RSASigner{Key: key})), false))
	})

	t.Run("sha256 wrapped before raw version", func(t *testing.T) {
		core := rsaCore(t, license.Options{})
		d := fixtures.Perpetual()
		d.Header.LMVersion = license.LMVersionRawRSA - 1
		d.Header.Requirements = nil
		assert.NoError(t, core.CheckValidity(ctx, core.NewLicense(generate(t, d, licgen.RSASigner{Key: key})), false))
	})

	t.Run("pem key without pem capability", func(t *testing.T) {
		pub, err := security.MarshalRSAPublicKeyPEM(&key.PublicKey)
		require.NoError(t, err)
		core := newCore(t, license.Options{
			Keys:         []license.Key{{Algorithm: license.AlgRSA, Scope: license.ScopeSign, Material: pub}},
			Capabilities: license.CapRSA,
		})
		d := fixtures.Perpetual()
		d.Header.Requirements = []string{"rsa"}
		err = core.CheckValidity(ctx, core.NewLicense(generate(t, d, licgen.RSASigner{Key: key})), false)
		assert.ErrorIs(t, err, fiterrors.ErrInvalidSigningKey)
	})

	t.Run("crypt scope key is not used for signatures", func(t *testing.T) {
		core := newCore(t, license.Options{
			Keys: []license.Key{{Algorithm: license.AlgAES, Scope: license.ScopeCrypt, Material: testutil.FixtureAESKey}},
		})
		err := core.CheckValidity(ctx, core.NewLicense(generate(t, fixtures.Perpetual())), false)
		assert.ErrorIs(t, err, fiterrors.ErrKeyNotPresent)
	})
}

func TestRSASignatureCache(t *testing.T) {
	ctx := context.Background()
	key := rsaKey(t)
	d := fixtures.Perpetual()
	d.Header.Requirements = []string{"rsa"}
	buf := generate(t, d, licgen.RSASigner{Key: key})

	other := fixtures.Perpetual()
	other.Header.Requirements = []string{"rsa"}
	other.Header.Name = "sample-renewed"
	otherBuf := generate(t, other, licgen.RSASigner{Key: key})

	t.Run("repeat checks hit the cache", func(t *testing.T) {
		v := &countingVerifier{}
		core := rsaCore(t, license.Options{RSAVerifier: v})

		require.NoError(t, core.CheckValidity(ctx, core.NewLicense(buf), false))
		require.NoError(t, core.CheckValidity(ctx, core.NewLicense(buf), false))
		assert.Equal(t, int32(1), v.calls.Load())

		stats := core.SignatureCacheStats()
		assert.True(t, stats.Verified)
		assert.Equal(t, int64(1), stats.Hits)
		assert.Equal(t, int64(1), stats.Misses)
		assert.InDelta(t, 0.5, stats.HitRatio, 1e-9)

		// a verified handle skips the pipeline entirely
		lic := core.NewLicense(buf)
		require.NoError(t, core.CheckValidity(ctx, lic, false))
		require.NoError(t, core.CheckValidity(ctx, lic, false))
		assert.Equal(t, int64(2), core.SignatureCacheStats().Hits)
	})

	t.Run("changed content misses", func(t *testing.T) {
		v := &countingVerifier{}
		core := rsaCore(t, license.Options{RSAVerifier: v})

		require.NoError(t, core.CheckValidity(ctx, core.NewLicense(buf), false))
		require.NoError(t, core.CheckValidity(ctx, core.NewLicense(otherBuf), false))
		require.NoError(t, core.CheckValidity(ctx, core.NewLicense(buf), false))
		assert.Equal(t, int32(3), v.calls.Load())
	})

	t.Run("failure invalidates", func(t *testing.T) {
		v := &countingVerifier{}
		core := rsaCore(t, license.Options{RSAVerifier: v})

		require.NoError(t, core.CheckValidity(ctx, core.NewLicense(buf), false))
		err := core.CheckValidity(ctx, core.NewLicense(corrupt(t, buf)), false)
		assert.ErrorIs(t, err, fiterrors.ErrInvalidSignature)
		assert.False(t, core.SignatureCacheStats().Verified)

		require.NoError(t, core.CheckValidity(ctx, core.NewLicense(buf), false))
		assert.Equal(t, int32(3), v.calls.Load())
	})

	t.Run("reset clears statistics", func(t *testing.T) {
		core := rsaCore(t, license.Options{})
		require.NoError(t, core.CheckValidity(ctx, core.NewLicense(buf), false))
		core.ResetSignatureCache()
		assert.Equal(t, license.CacheStats{}, core.SignatureCacheStats())
	})

	t.Run("disabled cache verifies every time", func(t *testing.T) {
		v := &countingVerifier{}
		core := rsaCore(t, license.Options{RSAVerifier: v, DisableRSACache: true})

		for i := 0; i < 3; i++ {
			require.NoError(t, core.CheckValidity(ctx, core.NewLicense(buf), false))
		}
		assert.Equal(t, int32(3), v.calls.Load())
	})
}

func TestNodeLock(t *testing.T) {
	blob, err := licgen.FingerprintBlob([]byte("device-0001"))
	require.NoError(t, err)
	junk := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, security.FingerprintSize))

	tests := []struct {
		name         string
		fingerprint  string
		requirements []string
		caps         license.Capability
		device       security.StaticDeviceID
		enforce      bool
		wantCode     fiterrors.Code
	}{
		{"matching device", blob, []string{"aes", "nodelock"}, license.CapAES | license.CapNodeLock, security.StaticDeviceID("device-0001"), true, fiterrors.CodeOK},
		{"other device enforced", blob, []string{"aes", "nodelock"}, license.CapAES | license.CapNodeLock, security.StaticDeviceID("device-0002"), true, fiterrors.CodeFingerprintMismatch},
		{"other device not enforced", blob, []string{"aes", "nodelock"}, license.CapAES | license.CapNodeLock, security.StaticDeviceID("device-0002"), false, fiterrors.CodeOK},
		{"core without node lock", blob, []string{"aes"}, license.CapAES, nil, true, fiterrors.CodeNodeLockNotSupported},
		{"malformed blob", junk, []string{"aes", "nodelock"}, license.CapAES | license.CapNodeLock, security.StaticDeviceID("device-0001"), false, fiterrors.CodeInvalidFormat},
		{"device id unusable", blob, []string{"aes", "nodelock"}, license.CapAES | license.CapNodeLock, security.StaticDeviceID{1}, true, fiterrors.CodeDeviceIDUnavailable},
		{"no fingerprint", "", []string{"aes"}, license.CapAES, nil, true, fiterrors.CodeOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := license.Options{Capabilities: tt.caps, EnforceNodeLock: tt.enforce}
			if tt.device != nil {
				opts.DeviceID = tt.device
			}
			core := newCore(t, opts)
			d := fixtures.Perpetual()
			d.Header.Fingerprint = tt.fingerprint
			d.Header.Requirements = tt.requirements

			err := core.CheckValidity(context.Background(), core.NewLicense(generate(t, d)), false)
			assert.Equal(t, tt.wantCode, fiterrors.CodeOf(err), "err: %v", err)
		})
	}
}

func TestFingerprint(t *testing.T) {
	ctx := context.Background()
	want, err := licgen.FingerprintBlob([]byte("device-0001"))
	require.NoError(t, err)

	core := newCore(t, license.Options{
		Capabilities: license.CapAES | license.CapNodeLock,
		DeviceID:     security.StaticDeviceID("device-0001"),
	})

	got, err := core.GetFingerprint(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	small := make([]byte, 8)
	_, err = core.FingerprintTo(ctx, small)
	var tooSmall *fiterrors.BufferTooSmallError
	require.ErrorAs(t, err, &tooSmall)
	assert.Equal(t, len(want), tooSmall.Required)

	buf := make([]byte, tooSmall.Required)
	n, err := core.FingerprintTo(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, want, string(buf[:n]))

	plain := newCore(t, license.Options{})
	_, err = plain.GetFingerprint(ctx)
	assert.Equal(t, fiterrors.CodeNodeLockNotSupported, fiterrors.CodeOf(err))
}

func TestNotInitialized(t *testing.T) {
	ctx := context.Background()
	core, err := license.New(license.Options{Keys: aesKeys(), Capabilities: license.CapAES})
	require.NoError(t, err)
	assert.False(t, core.Initialized())

	lic := core.NewLicense(generate(t, fixtures.Perpetual()))
	var fc license.FeatureContext

	calls := map[string]func() error{
		"CheckValidity": func() error { return core.CheckValidity(ctx, lic, true) },
		"FindItem": func() error {
			_, err := core.FindItem(ctx, lic, nil, sproto.NewScope(), request(sproto.TagLicenseName, sproto.First))
			return err
		},
		"GetLicenseInfo": func() error {
			_, err := core.GetLicenseInfo(ctx, lic, nil, request(sproto.TagLicenseName, 0))
			return err
		},
		"Identity": func() error {
			_, _, _, err := core.Identity(ctx, lic)
			return err
		},
		"FindFeature":          func() error { return core.FindFeature(ctx, lic, 7, sproto.First, &fc) },
		"StartConsume":         func() error { return core.StartConsume(ctx, &fc) },
		"EndConsume":           func() error { return core.EndConsume(ctx, &fc) },
		"PrepareLicenseUpdate": func() error { return core.PrepareLicenseUpdate(ctx, nil, lic) },
		"GetFingerprint": func() error {
			_, err := core.GetFingerprint(ctx)
			return err
		},
		"FingerprintTo": func() error {
			_, err := core.FingerprintTo(ctx, make([]byte, 64))
			return err
		},
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, call(), fiterrors.ErrNotInitialized)
		})
	}

	require.NoError(t, core.Init(ctx))
	require.NoError(t, core.Init(ctx), "init is idempotent")
	assert.NoError(t, core.CheckValidity(ctx, lic, true))
}

func TestOptionsValidation(t *testing.T) {
	aes := license.Key{Algorithm: license.AlgAES, Scope: license.ScopeSign, Material: testutil.FixtureAESKey}
	tests := []struct {
		name string
		opts license.Options
	}{
		{"too many keys", license.Options{Keys: []license.Key{aes, aes, aes, aes}, Capabilities: license.CapAES}},
		{"unknown capability", license.Options{Capabilities: 1 << 40}},
		{"aes key without capability", license.Options{Keys: []license.Key{aes}, Capabilities: license.CapRSA}},
		{"unknown algorithm", license.Options{Keys: []license.Key{{Algorithm: 7, Scope: license.ScopeSign, Material: []byte{1}}}, Capabilities: license.CapAES}},
		{"bad scope", license.Options{Keys: []license.Key{{Algorithm: license.AlgAES, Material: testutil.FixtureAESKey}}, Capabilities: license.CapAES}},
		{"empty material", license.Options{Keys: []license.Key{{Algorithm: license.AlgAES, Scope: license.ScopeSign}}, Capabilities: license.CapAES}},
		{"pem without rsa", license.Options{Capabilities: license.CapPEM}},
		{"persistence without store", license.Options{Capabilities: license.CapPersistence}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := license.New(tt.opts)
			assert.ErrorIs(t, err, fiterrors.ErrInvalidParameter)
		})
	}
}

func TestShortAESKey(t *testing.T) {
	core := newCore(t, license.Options{
		Keys: []license.Key{{Algorithm: license.AlgAES, Scope: license.ScopeSign, Material: []byte("short")}},
	})
	err := core.CheckValidity(context.Background(), core.NewLicense(generate(t, fixtures.Perpetual())), false)
	assert.ErrorIs(t, err, fiterrors.ErrInvalidSigningKey)
}

func TestForeignHandle(t *testing.T) {
	a := newCore(t, license.Options{})
	b := newCore(t, license.Options{})
	lic := a.NewLicense(generate(t, fixtures.Perpetual()))

	assert.ErrorIs(t, b.CheckValidity(context.Background(), lic, false), fiterrors.ErrInvalidParameter)
	assert.ErrorIs(t, b.CheckValidity(context.Background(), nil, false), fiterrors.ErrInvalidParameter)
}
