package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"fitcore/internal/licgen"
	"fitcore/internal/security"
)

var fingerprintHost bool

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint [device-id]",
	Short: "Print the node lock fingerprint blob for a device",
	Long: `Print the base64 fingerprint blob to place in header.fingerprint of a
license description. Pass the device id reported by the target, or --host
to fingerprint this machine.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var id []byte
		switch {
		case fingerprintHost:
			var err error
			if id, err = security.NewHostDeviceID(newLogger()).DeviceID(cmd.Context()); err != nil {
				return err
			}
		case len(args) == 1:
			id = []byte(args[0])
		default:
			return errors.New("give a device id or --host")
		}

		blob, err := licgen.FingerprintBlob(id)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), blob)
		return nil
	},
}

func init() {
	fingerprintCmd.Flags().BoolVar(&fingerprintHost, "host", false, "Fingerprint this machine")
}
