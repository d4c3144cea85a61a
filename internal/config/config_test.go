package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapsim/internal/state"
)

func TestFindProjectRoot(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ConfigFileName), []byte(""), 0o644))

	assert.Equal(t, root, FindProjectRoot(nested))
	assert.Equal(t, "", FindProjectRoot(t.TempDir()))
}

func TestStoreConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		store   StoreConfig
		wantErr string
	}{
		{name: "sqlite", store: StoreConfig{Type: "sqlite", DSN: "x.db"}},
		{name: "duckdb", store: StoreConfig{Type: "duckdb"}},
		{name: "memory", store: StoreConfig{Type: "memory"}},
		{name: "postgres dsn", store: StoreConfig{Type: "postgres", DSN: "postgres://localhost/x"}},
		{name: "postgres host", store: StoreConfig{Type: "postgres", Host: "localhost"}},
		{name: "postgres nothing", store: StoreConfig{Type: "postgres"}, wantErr: "requires a dsn or a host"},
		{name: "empty", store: StoreConfig{}, wantErr: "store type is required"},
		{name: "unknown", store: StoreConfig{Type: "oracle"}, wantErr: `unknown store type "oracle"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.store.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	var unknown *state.UnknownDialectError
	require.ErrorAs(t, (&StoreConfig{Type: "oracle"}).Validate(), &unknown)
	assert.Contains(t, unknown.Available, MemoryStore)
}

func TestStoreConfig_ConnectionString(t *testing.T) {
	s := StoreConfig{
		Type:     "postgres",
		Host:     "db",
		Port:     6543,
		User:     "sim",
		Password: "secret",
		Database: "runs",
		Options:  map[string]string{"sslmode": "disable"},
	}
	assert.Equal(t, "postgres://sim:secret@db:6543/runs?sslmode=disable", s.ConnectionString())

	s.DSN = "postgres://explicit"
	assert.Equal(t, "postgres://explicit", s.ConnectionString())

	assert.Equal(t, "run.duckdb", (&StoreConfig{Type: "duckdb", DSN: "run.duckdb"}).ConnectionString())
}

func TestApplyStoreDefaults(t *testing.T) {
	tests := []struct {
		name string
		in   StoreConfig
		want StoreConfig
	}{
		{name: "empty", in: StoreConfig{}, want: StoreConfig{Type: DefaultStoreType, DSN: DefaultStatePath}},
		{name: "sqlite dsn kept", in: StoreConfig{Type: "sqlite", DSN: "x.db"}, want: StoreConfig{Type: "sqlite", DSN: "x.db"}},
		{name: "postgres port", in: StoreConfig{Type: "postgres", Host: "db"}, want: StoreConfig{Type: "postgres", Host: "db", Port: DefaultPostgresPort}},
		{name: "memory", in: StoreConfig{Type: "memory"}, want: StoreConfig{Type: "memory"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.in
			ApplyStoreDefaults(&s)
			assert.Equal(t, tt.want, s)
		})
	}
}
