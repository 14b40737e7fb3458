package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fitcore/internal/license"
	"fitcore/internal/licgen"
	"fitcore/internal/security"
)

var (
	keygenOutput     string
	keygenPassphrase string
	keygenPrintHex   bool
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Create vendor signing keys",
}

var keygenAESCmd = &cobra.Command{
	Use:   "aes",
	Short: "Create an AES key in a passphrase protected key file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		pass := keygenPassphrase
		if pass == "" {
			pass = os.Getenv(envPassphrase)
		}
		if pass == "" {
			return errors.New("a passphrase is required (--passphrase or $" + envPassphrase + ")")
		}

		key, err := licgen.GenerateAESKey()
		if err != nil {
			return err
		}
		kf, err := security.EncryptKey(key, uint32(license.AlgAES), []byte(pass), security.DefaultEncryptionConfig())
		if err != nil {
			return err
		}
		if err := security.WriteKeyFile(keygenOutput, kf); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", keygenOutput)
		if keygenPrintHex {
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(key))
		}
		return nil
	},
}

var keygenRSACmd = &cobra.Command{
	Use:   "rsa",
	Short: "Create an RSA key pair; the public half goes to <out>.pub",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		priv, err := security.GenerateRSAKey()
		if err != nil {
			return err
		}
		pub, err := security.MarshalRSAPublicKeyPEM(&priv.PublicKey)
		if err != nil {
			return err
		}
		if err := os.WriteFile(keygenOutput, security.MarshalRSAPrivateKeyPEM(priv), 0o600); err != nil {
			return err
		}
		if err := os.WriteFile(keygenOutput+".pub", pub, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s.pub\n", keygenOutput, keygenOutput)
		return nil
	},
}

func init() {
	keygenCmd.AddCommand(keygenAESCmd)
	keygenCmd.AddCommand(keygenRSACmd)
	keygenCmd.PersistentFlags().StringVarP(&keygenOutput, "out", "o", "vendor.key", "Output key file")
	keygenAESCmd.Flags().StringVar(&keygenPassphrase, "passphrase", "", "Key file passphrase (default $"+envPassphrase+")")
	keygenAESCmd.Flags().BoolVar(&keygenPrintHex, "print-hex", false, "Also print the raw key in hex")
}
