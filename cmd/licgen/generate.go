package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"fitcore/internal/licgen"
	"fitcore/internal/security"
)

var (
	generateKeys   keyFlags
	generateOutput string
)

var generateCmd = &cobra.Command{
	Use:   "generate <description.yaml>",
	Short: "Sign a license description",
	Long: `Encode the YAML license description and sign it with every key given.
An AES signature is emitted first when both keys are present.`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerate,
}

func init() {
	generateKeys.register(generateCmd, "RSA private key (PEM)")
	generateCmd.Flags().StringVarP(&generateOutput, "out", "o", "license.bin", "Output license file, - for stdout")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	d, err := licgen.LoadDescription(args[0])
	if err != nil {
		return err
	}

	var signers []licgen.Signer
	aesKey, err := generateKeys.aes()
	if err != nil {
		return err
	}
	if aesKey != nil {
		signers = append(signers, licgen.AESSigner{Key: aesKey})
	}
	rsaPEM, err := generateKeys.rsa()
	if err != nil {
		return err
	}
	if rsaPEM != nil {
		priv, err := security.ParseRSAPrivateKey(rsaPEM)
		if err != nil {
			return fmt.Errorf("invalid --rsa-key: %w", err)
		}
		signers = append(signers, licgen.RSASigner{Key: priv})
	}
	if len(signers) == 0 {
		return errors.New("no signing key: use --aes-key, --aes-key-file or --rsa-key")
	}

	buf, err := licgen.Generate(d, signers...)
	if err != nil {
		return err
	}
	logger.Debug("license signed",
		slog.String("name", d.Header.Name),
		slog.Int("signatures", len(signers)),
		slog.Int("size", len(buf)),
	)

	if generateOutput == "-" {
		_, err = cmd.OutOrStdout().Write(buf)
		return err
	}
	if err := os.WriteFile(generateOutput, buf, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", generateOutput, len(buf))
	return nil
}
