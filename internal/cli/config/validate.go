package config

import (
	"fmt"
	"os"
)

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ProcessesDir == "" {
		return fmt.Errorf("processes_dir is required")
	}
	if c.Parallelism < 1 {
		return fmt.Errorf("parallelism must be at least 1, got %d", c.Parallelism)
	}
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("invalid store configuration in leapsim.yaml: %w", err)
	}
	return nil
}

// ValidateDirectories checks if required directories exist.
func (c *Config) ValidateDirectories() error {
	if _, err := os.Stat(c.ProcessesDir); os.IsNotExist(err) {
		return fmt.Errorf("processes directory does not exist: %s\nHint: Create the directory or use --processes-dir to specify a different path", c.ProcessesDir)
	}
	return nil
}
