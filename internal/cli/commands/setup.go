package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapsim/internal/cli/config"
	"github.com/leapstack-labs/leapsim/internal/cli/output"
	"github.com/leapstack-labs/leapsim/internal/registry"
	"github.com/leapstack-labs/leapsim/internal/scenario"
	starproc "github.com/leapstack-labs/leapsim/internal/starlark"
	"github.com/leapstack-labs/leapsim/internal/state"
	simout "github.com/leapstack-labs/leapsim/pkg/output"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
	Registry *registry.Registry
	Loader   *starproc.Loader
}

// NewCommandContext creates a CommandContext and loads the processes
// directory into a fresh registry.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	cmdCtx := NewCommandContextWithoutRegistry(cmd)
	cmdCtx.Registry = registry.New()
	cmdCtx.Loader = starproc.NewLoader(cmdCtx.Cfg.ProcessesDir, cmdCtx.Logger)

	n, err := cmdCtx.Loader.LoadInto(cmdCtx.Registry)
	if err != nil {
		return nil, fmt.Errorf("failed to load processes: %w", err)
	}
	cmdCtx.Logger.Debug("loaded processes", "dir", cmdCtx.Cfg.ProcessesDir, "count", n)
	return cmdCtx, nil
}

// NewCommandContextWithoutRegistry creates a CommandContext without
// loading processes. Useful for commands that only read the store.
func NewCommandContextWithoutRegistry(cmd *cobra.Command) *CommandContext {
	cfg := getConfig()
	logger := config.GetLogger(cmd.Context())
	r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat))

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Renderer: r,
	}
}

// getConfig returns the current configuration, falling back to defaults
// when no configuration was loaded.
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}
	return &config.Config{
		ProcessesDir: getEnvOrDefault("LEAPSIM_PROCESSES_DIR", config.DefaultProcessesDir),
		ScenariosDir: getEnvOrDefault("LEAPSIM_SCENARIOS_DIR", config.DefaultScenariosDir),
		Parallelism:  config.DefaultParallelism,
		Environment:  getEnvOrDefault("LEAPSIM_ENVIRONMENT", config.DefaultEnv),
		Verbose:      os.Getenv("LEAPSIM_VERBOSE") == "true",
		OutputFormat: os.Getenv("LEAPSIM_OUTPUT"),
		Store:        &config.StoreConfig{Type: "memory"},
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// openBackend opens the configured output backend. The returned store is
// nil for the memory backend.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (simout.Backend, *state.Store, error) {
	if cfg.Store == nil || cfg.Store.IsMemory() {
		return simout.NewMemoryBackend(), nil, nil
	}
	store, err := state.Open(ctx, state.Config{
		Type:   strings.ToLower(cfg.Store.Type),
		DSN:    cfg.Store.ConnectionString(),
		Logger: logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Type, err)
	}
	return store, store, nil
}

// storeLockTimeout bounds the wait for another process writing to the
// same file store.
const storeLockTimeout = 5 * time.Second

// lockStore takes an exclusive lock next to a file store so concurrent
// leapsim processes do not write to it at once. It returns nil for
// non-file stores.
func lockStore(ctx context.Context, cfg *config.Config) (*flock.Flock, error) {
	s := cfg.Store
	if s == nil || s.DSN == "" || s.DSN == ":memory:" {
		return nil, nil
	}
	switch strings.ToLower(s.Type) {
	case "sqlite", "duckdb":
	default:
		return nil, nil
	}

	lockPath := s.DSN + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	lock := flock.New(lockPath)

	ctx, cancel := context.WithTimeout(ctx, storeLockTimeout)
	defer cancel()

	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("failed to lock store: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another run is writing to %s (lock held: %s)", s.DSN, lockPath)
	}
	return lock, nil
}

// openStore opens the configured SQL store for commands that read past
// runs.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*state.Store, error) {
	if cfg.Store == nil || cfg.Store.IsMemory() {
		return nil, fmt.Errorf("the memory store keeps no runs; configure store.type in leapsim.yaml")
	}
	_, store, err := openBackend(ctx, cfg, logger)
	return store, err
}

// resolveScenarioPath finds a scenario file by path or by name in the
// scenarios directory.
func resolveScenarioPath(cfg *config.Config, arg string) (string, error) {
	if _, err := os.Stat(arg); err == nil {
		return arg, nil
	}
	candidates := []string{filepath.Join(cfg.ScenariosDir, arg)}
	if filepath.Ext(arg) == "" {
		candidates = append(candidates,
			filepath.Join(cfg.ScenariosDir, arg+".yaml"),
			filepath.Join(cfg.ScenariosDir, arg+".yml"),
			filepath.Join(cfg.ScenariosDir, arg+".toml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("scenario %q not found (looked in %s)", arg, cfg.ScenariosDir)
}

// loadScenario resolves and parses a scenario file.
func loadScenario(cfg *config.Config, arg string) (*scenario.File, error) {
	path, err := resolveScenarioPath(cfg, arg)
	if err != nil {
		return nil, err
	}
	return scenario.Load(path)
}
