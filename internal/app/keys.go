package app

import (
	"encoding/hex"
	"fmt"
	"os"

	"fitcore/internal/config"
	"fitcore/internal/license"
	"fitcore/internal/security"
)

// loadKeys reads the configured vendor keys. A protected key file wins over
// an inline hex AES key.
func loadKeys(cfg config.KeysConfig, paths *config.Paths) ([]license.Key, error) {
	var keys []license.Key

	switch {
	case paths.AESKeyFile != "":
		kf, err := security.ReadKeyFile(paths.AESKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read aes key file: %w", err)
		}
		if license.Algorithm(kf.Algorithm) != license.AlgAES {
			return nil, fmt.Errorf("key file %s holds a %s key, want aes",
				paths.AESKeyFile, license.Algorithm(kf.Algorithm))
		}
		material, err := security.DecryptKey(kf, []byte(cfg.Passphrase), security.DefaultEncryptionConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt aes key file: %w", err)
		}
		keys = append(keys, license.Key{Algorithm: license.AlgAES, Scope: license.ScopeSign, Material: material})
	case cfg.AESKey != "":
		material, err := hex.DecodeString(cfg.AESKey)
		if err != nil {
			return nil, fmt.Errorf("invalid aes key: %w", err)
		}
		keys = append(keys, license.Key{Algorithm: license.AlgAES, Scope: license.ScopeSign, Material: material})
	}

	if paths.RSAPublicKeyFile != "" {
		material, err := os.ReadFile(paths.RSAPublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read rsa public key: %w", err)
		}
		keys = append(keys, license.Key{Algorithm: license.AlgRSA, Scope: license.ScopeSign, Material: material})
	}
	return keys, nil
}
