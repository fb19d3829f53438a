package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/tensorkit/forge/internal/abicheck"
	"github.com/tensorkit/forge/internal/builder"
	"github.com/tensorkit/forge/internal/bundle"
	"github.com/tensorkit/forge/internal/catalog"
	"github.com/tensorkit/forge/internal/config"
	"github.com/tensorkit/forge/internal/manifest"
	"github.com/tensorkit/forge/internal/toolchain"
)

func loadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	if cfg.Catalog.Path != "" {
		return catalog.Load(cfg.Catalog.Path)
	}
	return catalog.Default()
}

// hostTarget maps the running process to a catalog target system.
func hostTarget() (catalog.Target, error) {
	arch := runtime.GOARCH
	switch arch {
	case "amd64":
		arch = "x86_64"
	case "arm64":
		arch = "aarch64"
	}
	return catalog.ParseTarget(arch + "-" + runtime.GOOS)
}

func buildFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "target", Usage: "Target system (<arch>-<os>); defaults to the build host"},
		&cli.StringFlag{Name: "compat", Usage: "Compatibility mode: native or legacy-glibc"},
		&cli.IntFlag{Name: "jobs", Usage: "Max concurrent variant builds"},
		&cli.IntFlag{Name: "threads", Usage: "Compile threads per variant build"},
		&cli.BoolFlag{Name: "low-memory", Usage: "Serialize builds and use the memory-conserving linker strategy"},
		&cli.BoolFlag{Name: "dev", Usage: "Development build: skip portability fixups"},
		&cli.BoolFlag{Name: "all", Usage: "Also build experimental (non-upstream) variants"},
	}
}

// applyFlags folds command-line overrides into the loaded config.
func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("compat") {
		cfg.Build.Compat = c.String("compat")
	}
	if c.IsSet("jobs") {
		cfg.Build.Jobs = c.Int("jobs")
	}
	if c.IsSet("threads") {
		cfg.Build.Threads = c.Int("threads")
	}
	if c.Bool("low-memory") {
		cfg.Build.LowMemory = true
	}
	if c.Bool("dev") {
		cfg.Build.Dev = true
	}
}

func resolveTarget(c *cli.Context) (catalog.Target, error) {
	if c.IsSet("target") {
		return catalog.ParseTarget(c.String("target"))
	}
	return hostTarget()
}

// runMatrix builds every applicable variant for the kernel directory and
// prints the per-variant summary. Returns the report and the kernel
// manifest.
func runMatrix(c *cli.Context, cfg *config.Config, log *zap.Logger) (*builder.Report, *manifest.Manifest, error) {
	dir := c.Args().First()
	if dir == "" {
		return nil, nil, fmt.Errorf("usage: forge %s <kernel-dir>", c.Command.Name)
	}
	applyFlags(c, cfg)

	mode, err := toolchain.ParseMode(cfg.Build.Compat)
	if err != nil {
		return nil, nil, err
	}
	target, err := resolveTarget(c)
	if err != nil {
		return nil, nil, err
	}

	m, err := manifest.Load(filepath.Join(dir, "build.toml"))
	if err != nil {
		return nil, nil, err
	}
	cat, err := loadCatalog(cfg)
	if err != nil {
		return nil, nil, err
	}
	variants, err := manifest.ApplicableVariants(m, cat, target)
	if err != nil {
		return nil, nil, err
	}
	if len(variants) == 0 {
		return nil, nil, fmt.Errorf("no catalog variants apply to %s on %s", m.General.Name, target)
	}

	figure.NewFigure("forge", "", true).Print()
	fmt.Printf("\nkernel %s: %d variant(s) on %s, mode %s\n\n", m.General.Name, len(variants), target, mode)

	if cfg.Metrics.ListenAddress != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.Metrics.ListenAddress, mux); err != nil {
				log.Warn("metrics listener stopped", zap.Error(err))
			}
		}()
	}

	var opts []toolchain.Option
	if cfg.Build.LowMemory {
		opts = append(opts, toolchain.WithLowMemory())
	}
	resolver := toolchain.NewResolver(toolchain.ExecLocator{}, cfg.Toolchain.Store, cfg.Toolchain.Pins, log, opts...)

	runner := builder.ExecRunner{}
	driver := builder.NewDriver(
		&builder.ExternalCompiler{Tool: "kernel-build", OutRoot: cfg.Build.OutputDir, Runner: runner},
		builder.DefaultPackageSet(cfg.Packages.Prefix),
		resolver,
		&abicheck.CLI{Binary: cfg.AbiCheck.Binary},
		runner,
		log,
		builder.Options{
			Mode:       mode,
			Jobs:       cfg.Build.Jobs,
			Threads:    cfg.Build.Threads,
			CoreBudget: cfg.Build.CoreBudget,
			Dev:        cfg.Build.Dev,
			LowMemory:  cfg.Build.LowMemory,
			MinGlibc:   cfg.AbiCheck.MinGlibc,
		},
	)

	report := driver.BuildAll(c.Context, m, variants, !c.Bool("all"))
	printSummary(report)
	return report, m, nil
}

func printSummary(report *builder.Report) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Variant", "Status", "Duration", "Error"})
	table.SetBorder(false)
	for _, res := range report.Results {
		errMsg := ""
		if res.Err != nil {
			errMsg = res.Err.Error()
		}
		dur := ""
		if res.Status != builder.StatusSkipped {
			dur = res.Duration.Round(10 * time.Millisecond).String()
		}
		table.Append([]string{res.Name, string(res.Status), dur, errMsg})
	}
	table.Render()
}

func buildCommand(cfg **config.Config, log **zap.Logger) *cli.Command {
	return &cli.Command{
		Name:      "build",
		Usage:     "Build a kernel for every applicable variant",
		ArgsUsage: "<kernel-dir>",
		Flags:     buildFlags(),
		Action: func(c *cli.Context) error {
			report, _, err := runMatrix(c, *cfg, *log)
			if err != nil {
				return err
			}
			if !report.Complete() {
				return cli.Exit("required variant builds failed", 1)
			}
			return nil
		},
	}
}

func bundleCommand(cfg **config.Config, log **zap.Logger) *cli.Command {
	return &cli.Command{
		Name:      "bundle",
		Usage:     "Build a kernel and assemble the distributable bundle tree",
		ArgsUsage: "<kernel-dir>",
		Flags:     buildFlags(),
		Action: func(c *cli.Context) error {
			report, m, err := runMatrix(c, *cfg, *log)
			if err != nil {
				return err
			}
			outputs, err := bundle.FromReport(report)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			dst := filepath.Join((*cfg).Build.OutputDir, m.General.Name)
			tree, err := bundle.Assemble(outputs, dst)
			if err != nil {
				return err
			}
			fmt.Printf("bundle assembled at %s (%d variants)\n", tree.Root, len(tree.Variants))
			return nil
		},
	}
}
