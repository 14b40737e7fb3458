// Command licensed serves the license core over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"fitcore/internal/app"
	"fitcore/internal/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("licensed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("licensed", flag.ContinueOnError)
	configFile := fs.String("config", os.Getenv(config.EnvConfigFile), "YAML configuration file")
	baseDir := fs.String("base-dir", "", "Directory relative paths resolve against (default: executable directory)")
	showVersion := fs.Bool("version", false, "Print the build version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Printf("licensed %s (built %s)\n", app.Version, app.BuildTime)
		return nil
	}

	cfg, err := config.LoadFile(*configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{BaseDir: *baseDir})
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return a.Run(ctx)
}
