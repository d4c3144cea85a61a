// Package state persists simulation runs and their output arrays in a SQL
// database. SQLite, PostgreSQL and DuckDB are supported; all of them store
// array slots as JSON documents keyed by run, array name and clock index.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"  // postgres driver
	_ "github.com/marcboeker/go-duckdb" // duckdb driver
	_ "modernc.org/sqlite"              // sqlite driver

	"github.com/leapstack-labs/leapsim/pkg/output"
)

// Dialect names a supported database.
type Dialect string

// Supported dialects.
const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectDuckDB   Dialect = "duckdb"
)

// Dialects lists the supported dialects.
func Dialects() []string {
	names := []string{string(DialectSQLite), string(DialectPostgres), string(DialectDuckDB)}
	sort.Strings(names)
	return names
}

// ErrNotOpen is returned by a closed store.
var ErrNotOpen = errors.New("database not opened")

// UnknownDialectError is returned for an unsupported store type.
type UnknownDialectError struct {
	Type      string
	Available []string
}

func (e *UnknownDialectError) Error() string {
	return fmt.Sprintf("unknown store type %q (available: %s)", e.Type, strings.Join(e.Available, ", "))
}

// Config holds store configuration.
type Config struct {
	// Type is one of sqlite, postgres or duckdb.
	Type string
	// DSN is a file path for sqlite and duckdb, or a connection string for
	// postgres. ":memory:" opens an in-memory database.
	DSN string
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// Store implements output.Backend on top of database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

var _ output.Backend = (*Store)(nil)

// Open connects to the configured database and applies the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	dialect := Dialect(cfg.Type)
	if dialect == "" {
		dialect = DialectSQLite
	}

	var driver, dsn string
	switch dialect {
	case DialectSQLite:
		driver, dsn = "sqlite", cfg.DSN
		if dsn == "" {
			dsn = ":memory:"
		}
		if err := ensureDir(dsn); err != nil {
			return nil, err
		}
	case DialectDuckDB:
		driver, dsn = "duckdb", cfg.DSN
		if dsn == ":memory:" {
			dsn = ""
		}
		if err := ensureDir(dsn); err != nil {
			return nil, err
		}
	case DialectPostgres:
		driver, dsn = "pgx", cfg.DSN
		if dsn == "" {
			return nil, errors.New("postgres store requires a dsn")
		}
	default:
		return nil, &UnknownDialectError{Type: cfg.Type, Available: Dialects()}
	}

	logger.Debug("opening state store", slog.String("type", string(dialect)))

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// one connection: in-memory databases are per connection and
		// concurrent batch writers would otherwise hit SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", dialect, err)
	}

	s := NewWithDB(db, dialect, logger)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an open connection without applying the schema.
func NewWithDB(db *sql.DB, dialect Dialect, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{db: db, dialect: dialect, logger: logger}
}

// Dialect returns the database dialect.
func (s *Store) Dialect() Dialect { return s.dialect }

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// rebind rewrites ? placeholders for dialects that number them.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, q execer, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.rebind(query), args...)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func ensureDir(path string) error {
	if path == "" || path == ":memory:" || strings.HasPrefix(path, "file:") {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	return nil
}
