package security

import (
	"context"
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestOMACVectors(t *testing.T) {
	// RFC 4493 test vectors
	key := "2b7e151628aed2a6abf7158809cf4f3c"
	tests := []struct {
		name string
		msg  string
		tag  string
	}{
		{"empty", "", "bb1d6929e95937287fa37d129b756746"},
		{"one block", "6bc1bee22e409f96e93d7e117393172a", "070a16b46b4d4144f79bdd9dd04a287c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tag, err := OMAC(mustHex(t, key), mustHex(t, tt.msg))
			require.NoError(t, err)
			assert.Equal(t, tt.tag, hex.EncodeToString(tag))

			ok, err := VerifyOMAC(mustHex(t, key), mustHex(t, tt.msg), mustHex(t, tt.tag))
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}

	_, err := OMAC(make([]byte, 15), nil)
	assert.Error(t, err)

	ok, err := VerifyOMAC(mustHex(t, key), []byte("x"), make([]byte, OMACSize))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPadding(t *testing.T) {
	tests := []struct {
		msgLen int
		padLen int
	}{
		{0, 16},
		{7, 16},
		{8, 32},
		{16, 32},
		{23, 32},
		{24, 48},
	}
	for _, tt := range tests {
		p := pad(make([]byte, tt.msgLen))
		require.Len(t, p, tt.padLen, "message length %d", tt.msgLen)
		assert.Equal(t, byte(0x80), p[tt.msgLen])
		assert.Equal(t, byte(tt.msgLen*8), p[len(p)-1])
	}
}

func TestHashesAreDeterministicAndSensitive(t *testing.T) {
	msg := []byte("license body bytes that span more than one AES block")
	changed := append([]byte(nil), msg...)
	changed[20] ^= 0x01

	assert.Equal(t, DaviesMeyer(msg), DaviesMeyer(msg))
	assert.NotEqual(t, DaviesMeyer(msg), DaviesMeyer(changed))
	assert.NotEqual(t, DaviesMeyer(msg), DaviesMeyer(msg[:len(msg)-1]))

	assert.Equal(t, AbreastDM(msg), AbreastDM(msg))
	assert.NotEqual(t, AbreastDM(msg), AbreastDM(changed))

	d := AbreastDM(nil)
	assert.NotEqual(t, d[:DMSize], d[DMSize:])
}

func TestRSASignVerify(t *testing.T) {
	key, err := GenerateRSAKey()
	require.NoError(t, err)
	digest := AbreastDM([]byte("signed part"))

	for _, wrapped := range []bool{true, false} {
		sig, err := SignRSA(key, digest, wrapped)
		require.NoError(t, err)
		assert.NoError(t, VerifyRSA(&key.PublicKey, digest, sig, wrapped))
		assert.Error(t, VerifyRSA(&key.PublicKey, digest, sig, !wrapped))

		other := digest
		other[0] ^= 0xFF
		assert.Error(t, VerifyRSA(&key.PublicKey, other, sig, wrapped))
	}
}

func TestParseRSAKeys(t *testing.T) {
	key, err := GenerateRSAKey()
	require.NoError(t, err)

	pemPub, err := MarshalRSAPublicKeyPEM(&key.PublicKey)
	require.NoError(t, err)

	pub, err := ParseRSAPublicKey(pemPub, true)
	require.NoError(t, err)
	assert.True(t, pub.Equal(&key.PublicKey))

	_, err = ParseRSAPublicKey(pemPub, false)
	assert.ErrorIs(t, err, ErrPEMNotSupported)

	priv, err := ParseRSAPrivateKey(MarshalRSAPrivateKeyPEM(key))
	require.NoError(t, err)
	assert.True(t, priv.Equal(key))

	_, err = ParseRSAPublicKey([]byte("not a key"), true)
	assert.Error(t, err)
}

func TestFingerprintBlob(t *testing.T) {
	fp, err := ComputeFingerprint([]byte("device-0001"))
	require.NoError(t, err)

	blob, err := fp.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, blob, FingerprintSize)
	assert.Equal(t, FingerprintMagic, string(blob[:4]))

	parsed, err := ParseFingerprint(blob)
	require.NoError(t, err)
	assert.True(t, fp.Matches(parsed))

	other, err := ComputeFingerprint([]byte("device-0002"))
	require.NoError(t, err)
	assert.False(t, fp.Matches(other))

	bad := append([]byte(nil), blob...)
	bad[0] = 'x'
	_, err = ParseFingerprint(bad)
	assert.ErrorIs(t, err, ErrFingerprintMagic)

	bad = append([]byte(nil), blob...)
	bad[4] = 9
	_, err = ParseFingerprint(bad)
	assert.ErrorIs(t, err, ErrFingerprintAlgorithm)

	_, err = ParseFingerprint(blob[:10])
	assert.ErrorIs(t, err, ErrFingerprintSize)
}

func TestDeviceIDLength(t *testing.T) {
	tests := []struct {
		name    string
		length  int
		wantErr bool
	}{
		{"too short", 3, true},
		{"minimum", 4, false},
		{"maximum", 64, false},
		{"too long", 65, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ComputeFingerprint(make([]byte, tt.length))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrDeviceIDLength)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHostDeviceID(t *testing.T) {
	src := NewHostDeviceID(nil)
	ctx := context.Background()

	id, err := src.DeviceID(ctx)
	require.NoError(t, err)
	assert.Len(t, id, 32)

	again, err := src.DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	src.ClearCache()
	fresh, err := src.DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, fresh)

	static, err := StaticDeviceID("abcd").DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), static)
}

func testEncryptionConfig() *EncryptionConfig {
	cfg := DefaultEncryptionConfig()
	cfg.SCryptN = 1024
	return cfg
}

func TestKeyFileRoundTrip(t *testing.T) {
	cfg := testEncryptionConfig()
	key := mustHex(t, "2b7e151628aed2a6abf7158809cf4f3c")

	kf, err := EncryptKey(key, 1, []byte("passphrase"), cfg)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "aes.key.json")
	require.NoError(t, WriteKeyFile(path, kf))
	loaded, err := ReadKeyFile(path)
	require.NoError(t, err)

	got, err := DecryptKey(loaded, []byte("passphrase"), cfg)
	require.NoError(t, err)
	assert.Equal(t, key, got)

	_, err = DecryptKey(loaded, []byte("wrong"), cfg)
	assert.Error(t, err)

	relabelled := *loaded
	relabelled.Algorithm = 2
	_, err = DecryptKey(&relabelled, []byte("passphrase"), cfg)
	assert.Error(t, err)

	tampered := *loaded
	tampered.Ciphertext = append([]byte(nil), loaded.Ciphertext...)
	tampered.Ciphertext[0] ^= 1
	_, err = DecryptKey(&tampered, []byte("passphrase"), cfg)
	assert.ErrorContains(t, err, "integrity")
}

func TestValidateEncryptionConfig(t *testing.T) {
	assert.NoError(t, ValidateEncryptionConfig(DefaultEncryptionConfig()))
	assert.Error(t, ValidateEncryptionConfig(testEncryptionConfig()))
	assert.Error(t, ValidateEncryptionConfig(nil))
}
