package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/tensorkit/forge/internal/config"
	"github.com/tensorkit/forge/internal/logger"
)

func main() {
	var cfgPath string
	var verbosity string
	var cfg *config.Config
	var rootLogger *zap.Logger

	app := &cli.App{
		Name:  "forge",
		Usage: "Build GPU kernel extensions across the torch compatibility matrix",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Value:       "forge.yaml",
				Usage:       "Path to the forge config file",
				EnvVars:     []string{"FORGE_CONFIG"},
				Destination: &cfgPath,
			},
			&cli.StringFlag{
				Name:        "verbosity",
				Usage:       "Override the configured log verbosity",
				Destination: &verbosity,
			},
		},
		Before: func(c *cli.Context) error {
			var err error
			cfg, err = config.LoadConfig(cfgPath)
			if errors.Is(err, fs.ErrNotExist) && !c.IsSet("config") {
				cfg, err = config.Default(), nil
			}
			if err != nil {
				return err
			}
			if verbosity != "" {
				cfg.Logger.Verbosity = verbosity
			}
			zapLogger, err := logger.NewConsole(cfg.Logger.Verbosity)
			if err != nil {
				return err
			}
			rootLogger = zapLogger.Named("forge")
			return nil
		},
		Commands: []*cli.Command{
			buildCommand(&cfg, &rootLogger),
			bundleCommand(&cfg, &rootLogger),
			variantsCommand(&cfg),
			checkCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		if rootLogger != nil {
			rootLogger.Error("command failed", zap.Error(err))
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
