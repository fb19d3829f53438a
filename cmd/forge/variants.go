package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"github.com/tensorkit/forge/internal/catalog"
	"github.com/tensorkit/forge/internal/config"
)

func variantsCommand(cfg **config.Config) *cli.Command {
	return &cli.Command{
		Name:  "variants",
		Usage: "Print the supported build matrix",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "target", Usage: "Only list variants for one target system"},
			&cli.BoolFlag{Name: "names", Usage: "Print raw variant names, one per line"},
		},
		Action: func(c *cli.Context) error {
			cat, err := loadCatalog(*cfg)
			if err != nil {
				return err
			}

			variants := cat.Variants()
			if c.IsSet("target") {
				target, err := catalog.ParseTarget(c.String("target"))
				if err != nil {
					return err
				}
				variants = cat.All(target)
			}

			if c.Bool("names") {
				names := make([]string, 0, len(variants))
				for _, v := range variants {
					names = append(names, v.Name())
				}
				sort.Strings(names)
				for _, n := range names {
					fmt.Println(n)
				}
				return nil
			}

			// One row per (torch, backend) bucket.
			buckets := make(map[catalog.Bucket][]catalog.Variant)
			for _, v := range variants {
				buckets[v.Bucket()] = append(buckets[v.Bucket()], v)
			}
			keys := make([]catalog.Bucket, 0, len(buckets))
			for b := range buckets {
				keys = append(keys, b)
			}
			sort.Slice(keys, func(i, j int) bool {
				if keys[i].Torch != keys[j].Torch {
					return keys[i].Torch < keys[j].Torch
				}
				return keys[i].Backend < keys[j].Backend
			})

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Torch", "Backend", "Upstream", "Variants"})
			table.SetBorder(false)
			for _, b := range keys {
				vs := buckets[b]
				upstream := "yes"
				names := make([]string, 0, len(vs))
				for _, v := range vs {
					names = append(names, v.Name())
					if !v.Upstream {
						upstream = "no"
					}
				}
				sort.Strings(names)
				for i, n := range names {
					if i == 0 {
						table.Append([]string{b.Torch, string(b.Backend), upstream, n})
					} else {
						table.Append([]string{"", "", "", n})
					}
				}
			}
			table.Render()
			return nil
		},
	}
}
