package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/scrypt"
)

// EncryptionConfig defines key file protection parameters.
type EncryptionConfig struct {
	// SCRYPT parameters
	SCryptN      int // CPU/memory cost parameter
	SCryptR      int // Block size parameter
	SCryptP      int // Parallelization parameter
	SCryptKeyLen int // Key length in bytes (32 for AES-256)

	// AES-GCM parameters
	NonceSize int
}

// KeyFile is the on-disk form of a vendor key protected by a passphrase.
type KeyFile struct {
	Version    uint8  `json:"version"`
	Algorithm  uint32 `json:"algorithm"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
	Integrity  []byte `json:"integrity"`
}

// DefaultEncryptionConfig returns the production scrypt/GCM parameters.
func DefaultEncryptionConfig() *EncryptionConfig {
	return &EncryptionConfig{
		SCryptN:      32768,
		SCryptR:      8,
		SCryptP:      1,
		SCryptKeyLen: 32,
		NonceSize:    12,
	}
}

// ValidateEncryptionConfig validates encryption configuration parameters
func ValidateEncryptionConfig(config *EncryptionConfig) error {
	if config == nil {
		return errors.New("encryption config cannot be nil")
	}
	if config.SCryptN < 32768 {
		return errors.New("SCryptN must be at least 32768")
	}
	if config.SCryptR < 8 {
		return errors.New("SCryptR must be at least 8")
	}
	if config.SCryptP < 1 {
		return errors.New("SCryptP must be at least 1")
	}
	if config.SCryptKeyLen != 32 {
		return errors.New("SCryptKeyLen must be 32 for AES-256")
	}
	if config.NonceSize != 12 {
		return errors.New("NonceSize must be 12 for AES-GCM")
	}
	return nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func newGCM(passphrase, salt []byte, config *EncryptionConfig) (cipher.AEAD, error) {
	key, err := scrypt.Key(passphrase, salt, config.SCryptN, config.SCryptR, config.SCryptP, config.SCryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	defer wipe(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, config.NonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// EncryptKey seals key material for algorithm under passphrase.
func EncryptKey(key []byte, algorithm uint32, passphrase []byte, config *EncryptionConfig) (*KeyFile, error) {
	if len(key) == 0 {
		return nil, errors.New("key cannot be empty")
	}
	if len(passphrase) == 0 {
		return nil, errors.New("passphrase cannot be empty")
	}
	if config == nil {
		config = DefaultEncryptionConfig()
	}

	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	gcm, err := newGCM(passphrase, salt, config)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	kf := &KeyFile{
		Version:   1,
		Algorithm: algorithm,
		Salt:      salt,
		Nonce:     nonce,
	}
	kf.Ciphertext = gcm.Seal(nil, nonce, key, kf.additionalData())
	kf.Integrity = integrityHash(kf)
	return kf, nil
}

// DecryptKey opens a key file. The algorithm id is bound as additional
// data, so a key file cannot be relabelled for another algorithm.
func DecryptKey(kf *KeyFile, passphrase []byte, config *EncryptionConfig) ([]byte, error) {
	if kf == nil {
		return nil, errors.New("key file cannot be nil")
	}
	if kf.Version != 1 {
		return nil, fmt.Errorf("unsupported key file version: %d", kf.Version)
	}
	if config == nil {
		config = DefaultEncryptionConfig()
	}
	if !SecureCompare(kf.Integrity, integrityHash(kf)) {
		return nil, errors.New("integrity verification failed")
	}
	gcm, err := newGCM(passphrase, kf.Salt, config)
	if err != nil {
		return nil, err
	}
	if len(kf.Nonce) != gcm.NonceSize() {
		return nil, errors.New("invalid nonce size")
	}
	key, err := gcm.Open(nil, kf.Nonce, kf.Ciphertext, kf.additionalData())
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return key, nil
}

func (kf *KeyFile) additionalData() []byte {
	return []byte(fmt.Sprintf("fit-key-v%d-alg%d", kf.Version, kf.Algorithm))
}

// integrityHash detects truncated or spliced files before the expensive
// key derivation runs.
func integrityHash(kf *KeyFile) []byte {
	h := sha256.New()
	h.Write([]byte("FIT-KEYFILE-V1"))
	h.Write(kf.Ciphertext)
	h.Write(kf.Salt)
	h.Write(kf.Nonce)
	return h.Sum(nil)
}

// WriteKeyFile stores kf as JSON with owner-only permissions.
func WriteKeyFile(path string, kf *KeyFile) error {
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// ReadKeyFile loads a key file written by WriteKeyFile.
func ReadKeyFile(path string) (*KeyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var kf KeyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("malformed key file: %w", err)
	}
	return &kf, nil
}
