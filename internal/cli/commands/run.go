package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/leapsim/internal/cli/output"
	"github.com/leapstack-labs/leapsim/internal/driver"
	"github.com/leapstack-labs/leapsim/internal/scenario"
	"github.com/leapstack-labs/leapsim/pkg/model"
	simout "github.com/leapstack-labs/leapsim/pkg/output"
)

// watchDebounce delays a re-run after the last file change.
const watchDebounce = 100 * time.Millisecond

// RunOptions holds options for the run command.
type RunOptions struct {
	Set      []string
	Sweep    []string
	Parallel int
	Watch    bool
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Run a simulation scenario",
		Long: `Build the model described by a scenario file and run it.

The scenario is a path to a YAML file or the name of a file in the
scenarios directory. Inputs can be overridden with --set and swept over
several values with --sweep; each sweep combination is a separate run.`,
		Example: `  # Run scenarios/erosion.yaml
  leapsim run erosion

  # Override an input
  leapsim run erosion --set uplift.rate=0.002

  # Sweep an input over three values, two runs at a time
  leapsim run erosion --sweep uplift.rate=0.001,0.002,0.004 --parallel 2

  # Re-run whenever a process or the scenario changes
  leapsim run erosion --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Set, "set", nil, "Override an input (process.variable=value, repeatable)")
	cmd.Flags().StringArrayVar(&opts.Sweep, "sweep", nil, "Sweep an input over values (process.variable=v1,v2,...)")
	cmd.Flags().IntVarP(&opts.Parallel, "parallel", "p", 0, "Maximum number of runs executed at once")
	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "Re-run when processes or the scenario change")

	return cmd
}

func runRun(cmd *cobra.Command, arg string, opts *RunOptions) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	if !opts.Watch {
		return executeRun(ctx, cmdCtx, arg, opts)
	}
	return watchRun(ctx, cmdCtx, arg, opts)
}

// executeRun loads the scenario, builds the model and runs every scenario
// the file expands to.
func executeRun(ctx context.Context, cmdCtx *CommandContext, arg string, opts *RunOptions) error {
	cfg := cmdCtx.Cfg
	r := cmdCtx.Renderer

	file, err := loadScenario(cfg, arg)
	if err != nil {
		return err
	}
	if err := applyOverrides(file, opts); err != nil {
		return err
	}

	m, err := file.BuildModel(cmdCtx.Registry, model.WithLogger(cmdCtx.Logger))
	if err != nil {
		return fmt.Errorf("failed to build model: %w", err)
	}
	scenarios, err := file.Scenarios()
	if err != nil {
		return fmt.Errorf("invalid scenario: %w", err)
	}

	lock, err := lockStore(ctx, cfg)
	if err != nil {
		return err
	}
	if lock != nil {
		defer func() { _ = lock.Unlock() }()
	}

	backend, store, err := openBackend(ctx, cfg, cmdCtx.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()
	if store != nil {
		if version, err := store.MigrationVersion(ctx); err == nil {
			cmdCtx.Logger.Debug("using store", "type", cfg.Store.Type, "schema_version", version)
		}
	}

	parallelism := opts.Parallel
	if parallelism <= 0 {
		parallelism = cfg.Parallelism
	}

	jsonMode := r.EffectiveMode() == output.ModeJSON
	enc := json.NewEncoder(r.Writer())
	if jsonMode {
		_ = enc.Encode(output.RunEvent{
			Event:     "batch_start",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Scenario:  file.Name,
			Total:     len(scenarios),
		})
	} else {
		r.Header(1, fmt.Sprintf("Running %s", scenarioLabel(file)))
		r.Muted(fmt.Sprintf("%d process(es), %d run(s), parallelism %d", len(m.Order()), len(scenarios), parallelism))
		r.Println("")
	}

	start := time.Now()
	drv := driver.New(driver.Config{Backend: backend, Logger: cmdCtx.Logger})
	results, runErr := drv.RunBatch(ctx, m, scenarios, parallelism)

	failed := 0
	for i, res := range results {
		status, errMsg := string(simout.RunStatusFailed), ""
		if res != nil {
			status = string(res.Status)
		}
		if status != string(simout.RunStatusCompleted) {
			failed++
			errMsg = batchError(runErr, scenarios[i].ID)
		}
		if jsonMode {
			ev := output.RunEvent{
				Event:     "run_complete",
				Timestamp: time.Now().UTC().Format(time.RFC3339),
				Scenario:  scenarios[i].ID,
				Status:    status,
				Error:     errMsg,
			}
			if res != nil {
				ev.RunID = res.RunID
				ev.Steps = res.Steps
			}
			_ = enc.Encode(ev)
			continue
		}
		renderResult(r, scenarios[i].ID, res, status, errMsg)
	}

	elapsed := time.Since(start)
	if jsonMode {
		_ = enc.Encode(output.RunEvent{
			Event:     "batch_complete",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Total:     len(scenarios),
			Failed:    failed,
			TotalMS:   elapsed.Milliseconds(),
		})
	} else {
		r.Println("")
		summary := fmt.Sprintf("%d run(s) in %s", len(scenarios), elapsed.Round(time.Millisecond))
		if failed > 0 {
			r.Error(fmt.Sprintf("%s, %d failed", summary, failed))
		} else {
			r.Success(summary)
		}
	}

	if runErr != nil {
		return fmt.Errorf("%d of %d run(s) failed: %w", failed, len(scenarios), runErr)
	}
	return nil
}

func scenarioLabel(f *scenario.File) string {
	if f.Name != "" {
		return f.Name
	}
	return filepath.Base(f.Path())
}

// batchError extracts the message for one scenario from a joined batch
// error.
func batchError(err error, id string) string {
	if err == nil {
		return ""
	}
	prefix := fmt.Sprintf("scenario %q: ", id)
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			if msg, ok := strings.CutPrefix(e.Error(), prefix); ok {
				return msg
			}
		}
	}
	return err.Error()
}

func renderResult(r *output.Renderer, id string, res *driver.Result, status, errMsg string) {
	if res == nil {
		r.StatusLine(id, status, errMsg)
		return
	}
	detail := fmt.Sprintf("%d step(s), %d array(s), %s", res.Steps, len(res.Arrays), res.Duration.Round(time.Millisecond))
	if errMsg != "" {
		detail = errMsg
	}
	r.StatusLine(id, status, detail)
	if r.EffectiveMode() == output.ModeMarkdown {
		r.Println(output.FormatKeyValue("Run", res.RunID))
	} else {
		r.Muted("  run " + res.RunID)
	}
}

// applyOverrides merges --set and --sweep flags into the scenario file.
func applyOverrides(f *scenario.File, opts *RunOptions) error {
	for _, s := range opts.Set {
		key, raw, err := splitAssignment(s, "--set")
		if err != nil {
			return err
		}
		v, err := parseValue(raw)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
		if f.Inputs == nil {
			f.Inputs = map[string]any{}
		}
		f.Inputs[key] = v
	}

	for _, s := range opts.Sweep {
		key, raw, err := splitAssignment(s, "--sweep")
		if err != nil {
			return err
		}
		var values []any
		for _, part := range strings.Split(raw, ",") {
			v, err := parseValue(strings.TrimSpace(part))
			if err != nil {
				return fmt.Errorf("invalid sweep value for %s: %w", key, err)
			}
			values = append(values, v)
		}
		if f.Sweep == nil {
			f.Sweep = map[string][]any{}
		}
		f.Sweep[key] = values
	}
	return nil
}

func splitAssignment(s, flag string) (string, string, error) {
	key, value, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", "", fmt.Errorf("%s expects process.variable=value, got %q", flag, s)
	}
	if _, err := model.ParseVarKey(key); err != nil {
		return "", "", fmt.Errorf("%s: %w", flag, err)
	}
	return key, value, nil
}

// parseValue decodes a flag value as YAML so numbers, booleans and lists
// keep their type.
func parseValue(raw string) (any, error) {
	if raw == "" {
		return "", nil
	}
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return scenario.Normalize(v), nil
}

// watchRun runs the scenario, then re-runs it whenever a process file or
// the scenario file changes, until the context is cancelled.
func watchRun(ctx context.Context, cmdCtx *CommandContext, arg string, opts *RunOptions) error {
	r := cmdCtx.Renderer

	scenarioPath, err := resolveScenarioPath(cmdCtx.Cfg, arg)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if info, err := os.Stat(cmdCtx.Cfg.ProcessesDir); err == nil && info.IsDir() {
		if err := watcher.Add(cmdCtx.Cfg.ProcessesDir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", cmdCtx.Cfg.ProcessesDir, err)
		}
	}
	if err := watcher.Add(filepath.Dir(scenarioPath)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", scenarioPath, err)
	}

	rerun := func() {
		if err := executeRun(ctx, cmdCtx, scenarioPath, opts); err != nil {
			r.Error(err.Error())
		}
		r.Muted("Watching for changes (Ctrl+C to stop)...")
	}
	rerun()

	trigger := make(chan struct{}, 1)
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 {
				continue
			}
			if !isWatched(event.Name, scenarioPath) {
				continue
			}
			cmdCtx.Logger.Debug("change detected", "file", event.Name, "op", event.Op.String())

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(watchDebounce, func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			})

		case <-trigger:
			if _, err := cmdCtx.Loader.LoadInto(cmdCtx.Registry); err != nil {
				r.Error(err.Error())
				continue
			}
			rerun()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			cmdCtx.Logger.Warn("watch error", "error", err)
		}
	}
}

func isWatched(name, scenarioPath string) bool {
	if filepath.Ext(name) == ".star" {
		return true
	}
	return filepath.Clean(name) == filepath.Clean(scenarioPath)
}
