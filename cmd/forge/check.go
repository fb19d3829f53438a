package main

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/tensorkit/forge/internal/manifest"
)

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:      "check",
		Usage:     "Validate kernel manifests without building",
		ArgsUsage: "<build.toml> [<build.toml> ...]",
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return fmt.Errorf("usage: forge check <build.toml> [...]")
			}
			// One broken manifest must not hide the others.
			failed := 0
			for _, path := range c.Args().Slice() {
				m, err := manifest.Load(path)
				if err != nil {
					failed++
					var verr *manifest.ValidationError
					if errors.As(err, &verr) {
						fmt.Printf("FAIL %s: %s\n", verr.Path, verr.Reason)
					} else {
						fmt.Printf("FAIL %s: %v\n", path, err)
					}
					continue
				}
				kind := "universal"
				if !m.General.Universal {
					kind = fmt.Sprintf("backends %v", m.Backends())
				}
				fmt.Printf("OK   %s: %s (%s)\n", path, m.General.Name, kind)
			}
			if failed > 0 {
				return cli.Exit(fmt.Sprintf("%d manifest(s) failed validation", failed), 1)
			}
			return nil
		},
	}
}
