package config

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/tensorkit/forge/internal/toolchain"
)

type Config struct {
	Logger struct {
		Verbosity string `yaml:"verbosity"`
	} `yaml:"logger"`
	Build struct {
		OutputDir  string `yaml:"outputDir"`
		Jobs       int    `yaml:"jobs"`
		Threads    int    `yaml:"threads"`
		CoreBudget int    `yaml:"coreBudget"`
		Compat     string `yaml:"compat"`
		LowMemory  bool   `yaml:"lowMemory"`
		Dev        bool   `yaml:"dev"`
	} `yaml:"build"`
	Catalog struct {
		Path string `yaml:"path"` // empty: embedded default
	} `yaml:"catalog"`
	Packages struct {
		Prefix string `yaml:"prefix"`
	} `yaml:"packages"`
	Toolchain struct {
		Store string         `yaml:"store"`
		Pins  toolchain.Pins `yaml:"pins"`
	} `yaml:"toolchain"`
	AbiCheck struct {
		Binary   string `yaml:"binary"`
		MinGlibc string `yaml:"minGlibc"`
	} `yaml:"abiCheck"`
	Metrics struct {
		ListenAddress string `yaml:"listenAddress"` // empty: disabled
	} `yaml:"metrics"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	var cfg Config
	cfg.Logger.Verbosity = "info"
	cfg.Build.OutputDir = "build"
	cfg.Build.Jobs = 2
	cfg.Build.Threads = runtime.NumCPU() / 2
	if cfg.Build.Threads < 1 {
		cfg.Build.Threads = 1
	}
	cfg.Build.CoreBudget = runtime.NumCPU()
	cfg.Build.Compat = string(toolchain.ModeNative)
	cfg.Packages.Prefix = "/opt/forge/pkgs"
	cfg.Toolchain.Store = "/var/lib/forge/toolchains"
	cfg.AbiCheck.Binary = "kernel-abi-check"
	cfg.AbiCheck.MinGlibc = "2.27"
	return &cfg
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := Default()
	err = yaml.Unmarshal(data, config)
	if err != nil {
		return nil, err
	}
	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) validate() error {
	if _, err := toolchain.ParseMode(c.Build.Compat); err != nil {
		return fmt.Errorf("build.compat: %w", err)
	}
	if c.Build.Jobs < 1 || c.Build.Threads < 1 {
		return fmt.Errorf("build.jobs and build.threads must be at least 1")
	}
	return nil
}
