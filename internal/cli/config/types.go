// Package config provides configuration management for the leapsim CLI.
//
// This package extends the shared project configuration from
// internal/config with CLI-specific fields: output mode, verbosity and
// named environments. The shared StoreConfig is re-exported here via a
// type alias for convenience.
package config

import (
	sharedcfg "github.com/leapstack-labs/leapsim/internal/config"
)

// StoreConfig is an alias for the shared store configuration.
// This allows CLI code to use config.StoreConfig without importing
// internal/config.
type StoreConfig = sharedcfg.StoreConfig

// Config holds all CLI configuration options.
type Config struct {
	ProjectRoot  string               `koanf:"-"`
	ProcessesDir string               `koanf:"processes_dir"`
	ScenariosDir string               `koanf:"scenarios_dir"`
	Parallelism  int                  `koanf:"parallelism"`
	Environment  string               `koanf:"environment"`
	Verbose      bool                 `koanf:"verbose"`
	OutputFormat string               `koanf:"output"`
	Store        *StoreConfig         `koanf:"store"`
	Environments map[string]EnvConfig `koanf:"environments"`
}

// EnvConfig holds environment-specific configuration overrides.
type EnvConfig struct {
	ProcessesDir string       `koanf:"processes_dir"`
	Parallelism  int          `koanf:"parallelism"`
	Store        *StoreConfig `koanf:"store"`
}

// Default configuration values - uses shared defaults from internal/config
const (
	DefaultProcessesDir = sharedcfg.DefaultProcessesDir
	DefaultScenariosDir = sharedcfg.DefaultScenariosDir
	DefaultStoreType    = sharedcfg.DefaultStoreType
	DefaultStatePath    = sharedcfg.DefaultStatePath
	DefaultParallelism  = sharedcfg.DefaultParallelism
	DefaultEnv          = "dev"
	DefaultOutput       = "auto" // Auto-detect: TTY=text, non-TTY=markdown
)
