package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fitcore/internal/license"
	"fitcore/internal/security"
)

// envPassphrase is read when --passphrase is not given.
const envPassphrase = "FIT_KEYS_PASSPHRASE"

type keyFlags struct {
	aesKey     string
	aesKeyFile string
	passphrase string
	rsaKeyFile string
}

func (k *keyFlags) register(cmd *cobra.Command, rsaUsage string) {
	cmd.Flags().StringVar(&k.aesKey, "aes-key", "", "AES key in hex")
	cmd.Flags().StringVar(&k.aesKeyFile, "aes-key-file", "", "Passphrase protected AES key file")
	cmd.Flags().StringVar(&k.passphrase, "passphrase", "", "Key file passphrase (default $"+envPassphrase+")")
	cmd.Flags().StringVar(&k.rsaKeyFile, "rsa-key", "", rsaUsage)
}

func (k *keyFlags) pass() []byte {
	if k.passphrase != "" {
		return []byte(k.passphrase)
	}
	return []byte(os.Getenv(envPassphrase))
}

// aes returns the AES key material, or nil when none was given.
func (k *keyFlags) aes() ([]byte, error) {
	switch {
	case k.aesKeyFile != "":
		kf, err := security.ReadKeyFile(k.aesKeyFile)
		if err != nil {
			return nil, err
		}
		if license.Algorithm(kf.Algorithm) != license.AlgAES {
			return nil, fmt.Errorf("%s holds a %s key", k.aesKeyFile, license.Algorithm(kf.Algorithm))
		}
		key, err := security.DecryptKey(kf, k.pass(), security.DefaultEncryptionConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt %s: %w", k.aesKeyFile, err)
		}
		return key, nil
	case k.aesKey != "":
		key, err := hex.DecodeString(k.aesKey)
		if err != nil {
			return nil, fmt.Errorf("invalid --aes-key: %w", err)
		}
		return key, nil
	}
	return nil, nil
}

// rsa returns the contents of the RSA key file, or nil when none was given.
func (k *keyFlags) rsa() ([]byte, error) {
	if k.rsaKeyFile == "" {
		return nil, nil
	}
	return os.ReadFile(k.rsaKeyFile)
}
