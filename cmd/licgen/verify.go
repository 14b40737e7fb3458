package main

import (
	"encoding/json"
	"errors"
	"path/filepath"

	"github.com/spf13/cobra"

	"fitcore/internal/license"
	"fitcore/internal/security"
	"fitcore/internal/services"
)

var (
	verifyKeys     keyFlags
	verifyDeviceID string
)

var verifyCmd = &cobra.Command{
	Use:   "verify <license.bin>",
	Short: "Check a license with the vendor keys and print its contents",
	Long: `Run the same checks the daemon runs when it loads a license and print
the vendors, products and features as JSON. With --device-id the node lock
is enforced against that device.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	verifyKeys.register(verifyCmd, "RSA public key (PEM or DER)")
	verifyCmd.Flags().StringVar(&verifyDeviceID, "device-id", "", "Enforce the node lock against this device id")
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := newLogger()

	caps := license.CapClock
	var keys []license.Key
	aesKey, err := verifyKeys.aes()
	if err != nil {
		return err
	}
	if aesKey != nil {
		caps |= license.CapAES
		keys = append(keys, license.Key{Algorithm: license.AlgAES, Scope: license.ScopeSign, Material: aesKey})
	}
	rsaPub, err := verifyKeys.rsa()
	if err != nil {
		return err
	}
	if rsaPub != nil {
		caps |= license.CapRSA | license.CapPEM
		keys = append(keys, license.Key{Algorithm: license.AlgRSA, Scope: license.ScopeSign, Material: rsaPub})
	}
	if len(keys) == 0 {
		return errors.New("no verification key: use --aes-key, --aes-key-file or --rsa-key")
	}

	opts := license.Options{
		Keys:           keys,
		Capabilities:   caps,
		DisableLocking: true,
		Logger:         logger,
	}
	if verifyDeviceID != "" {
		opts.Capabilities |= license.CapNodeLock
		opts.DeviceID = security.StaticDeviceID(verifyDeviceID)
		opts.EnforceNodeLock = true
	}
	core, err := license.New(opts)
	if err != nil {
		return err
	}
	if err := core.Init(ctx); err != nil {
		return err
	}

	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	svc := services.NewLicenseService(core, services.LicenseServiceConfig{Path: path}, nil, logger)
	if err := svc.Load(ctx); err != nil {
		return err
	}
	info, err := svc.Info(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}
