// Package config provides shared configuration types for leapsim.
// This package is decoupled from CLI concerns so that project settings can
// be loaded by any tool that opens a leapsim project.
package config

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/leapstack-labs/leapsim/internal/state"
)

// StoreConfig selects the backend that receives run outputs.
type StoreConfig struct {
	Type string `koanf:"type"` // sqlite, postgres, duckdb, memory

	// DSN is a file path for sqlite and duckdb or a full connection
	// string for postgres. When empty for postgres it is assembled from
	// the network fields below.
	DSN string `koanf:"dsn"`

	// Network databases
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Database string `koanf:"database"`

	// Additional driver-specific options, appended as DSN query parameters
	Options map[string]string `koanf:"options"`
}

// MemoryStore keeps outputs in memory only.
const MemoryStore = "memory"

// IsMemory reports whether outputs are kept in memory only.
func (s *StoreConfig) IsMemory() bool {
	return strings.EqualFold(s.Type, MemoryStore)
}

// Validate checks if the store configuration is valid.
func (s *StoreConfig) Validate() error {
	if s.Type == "" {
		return fmt.Errorf("store type is required")
	}
	if s.IsMemory() {
		return nil
	}
	if !slices.Contains(state.Dialects(), strings.ToLower(s.Type)) {
		return &state.UnknownDialectError{
			Type:      s.Type,
			Available: append(state.Dialects(), MemoryStore),
		}
	}
	if strings.EqualFold(s.Type, "postgres") && s.DSN == "" && s.Host == "" {
		return fmt.Errorf("postgres store requires a dsn or a host")
	}
	return nil
}

// ConnectionString returns the DSN passed to the database driver.
func (s *StoreConfig) ConnectionString() string {
	if s.DSN != "" || !strings.EqualFold(s.Type, "postgres") {
		return s.DSN
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   s.Host,
		Path:   "/" + s.Database,
	}
	if s.Port != 0 {
		u.Host += ":" + strconv.Itoa(s.Port)
	}
	if s.User != "" {
		if s.Password != "" {
			u.User = url.UserPassword(s.User, s.Password)
		} else {
			u.User = url.User(s.User)
		}
	}
	if len(s.Options) > 0 {
		q := url.Values{}
		for k, v := range s.Options {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}
