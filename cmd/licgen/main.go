// Command licgen is the vendor tool for sproto licenses. It manages signing
// keys, signs license descriptions and checks finished licenses the way
// the daemon would.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"fitcore/internal/app"
	"fitcore/internal/license"
)

var (
	versionCheck bool
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:           "licgen",
	Short:         "Generate, sign and verify sproto licenses",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		if versionCheck {
			fmt.Fprintf(cmd.OutOrStdout(), "licgen %s (core %s, built %s)\n", app.Version, license.GetVersion(), app.BuildTime)
			return
		}
		cmd.HelpFunc()(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(fingerprintCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.Flags().BoolVarP(&versionCheck, "version", "v", false, "Print the build version and exit")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Log debug output to stderr")
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "licgen:", err)
		os.Exit(1)
	}
}
