package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapsim/internal/cli/config"
	"github.com/leapstack-labs/leapsim/internal/cli/output"
	clitest "github.com/leapstack-labs/leapsim/internal/cli/testutil"
	"github.com/leapstack-labs/leapsim/internal/scenario"
	"github.com/leapstack-labs/leapsim/internal/testutil"
	"github.com/leapstack-labs/leapsim/pkg/model"
	simout "github.com/leapstack-labs/leapsim/pkg/output"
	"github.com/leapstack-labs/leapsim/pkg/process"
	"github.com/leapstack-labs/leapsim/pkg/variable"
)

func TestNewRunCommand(t *testing.T) {
	cmd := NewRunCommand()

	assert.Equal(t, "run <scenario>", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")
	assert.NotEmpty(t, cmd.Example, "Example should not be empty")

	for _, flag := range []string{"set", "sweep", "parallel", "watch"} {
		assert.NotNil(t, cmd.Flags().Lookup(flag), "flag %q should exist", flag)
	}
}

func TestNewGraphCommand(t *testing.T) {
	cmd := NewGraphCommand()

	assert.Equal(t, "graph <scenario>", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")
}

func TestNewInputsCommand(t *testing.T) {
	cmd := NewInputsCommand()

	assert.Equal(t, "inputs <scenario>", cmd.Use)
	assert.NotNil(t, cmd.Flags().Lookup("all"))
}

func TestNewProcessesCommand(t *testing.T) {
	cmd := NewProcessesCommand()

	assert.Equal(t, "processes", cmd.Use)
	assert.Equal(t, []string{"ls"}, cmd.Aliases)
}

func TestNewRunsCommand(t *testing.T) {
	cmd := NewRunsCommand()

	assert.Equal(t, "runs [run-id]", cmd.Use)
	assert.NotNil(t, cmd.Flags().Lookup("limit"))
}

func TestApplyOverrides(t *testing.T) {
	f := &scenario.File{Inputs: map[string]any{"grid.length": 5.0}}
	err := applyOverrides(f, &RunOptions{
		Set:   []string{"grid.length=20", "grid.name=coarse", "uplift.profile=[1, 2, 3]"},
		Sweep: []string{"uplift.rate=0.5, 1,2"},
	})
	require.NoError(t, err)

	assert.Equal(t, 20.0, f.Inputs["grid.length"])
	assert.Equal(t, "coarse", f.Inputs["grid.name"])
	assert.Equal(t, []float64{1, 2, 3}, f.Inputs["uplift.profile"])
	assert.Equal(t, []any{0.5, 1.0, 2.0}, f.Sweep["uplift.rate"])
}

func TestApplyOverrides_Errors(t *testing.T) {
	tests := []struct {
		name    string
		opts    RunOptions
		wantErr string
	}{
		{name: "missing equals", opts: RunOptions{Set: []string{"grid.length"}}, wantErr: "--set expects"},
		{name: "bad key", opts: RunOptions{Set: []string{"length=1"}}, wantErr: "invalid variable key"},
		{name: "bad yaml", opts: RunOptions{Set: []string{"grid.length=[1"}}, wantErr: "invalid value for grid.length"},
		{name: "sweep missing equals", opts: RunOptions{Sweep: []string{"grid.length"}}, wantErr: "--sweep expects"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := applyOverrides(&scenario.File{}, &tt.opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBatchError(t *testing.T) {
	err := errors.Join(
		fmt.Errorf("scenario %q: %w", "a", errors.New("boom")),
		fmt.Errorf("scenario %q: %w", "b", errors.New("bang")),
	)

	assert.Equal(t, "boom", batchError(err, "a"))
	assert.Equal(t, "bang", batchError(err, "b"))
	assert.Equal(t, "", batchError(nil, "a"))
}

func TestResolveScenarioPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "erosion.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: erosion\n"), 0o644))
	cfg := &config.Config{ScenariosDir: dir}

	got, err := resolveScenarioPath(cfg, "erosion")
	require.NoError(t, err)
	assert.Equal(t, path, got)

	got, err = resolveScenarioPath(cfg, path)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	_, err = resolveScenarioPath(cfg, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `scenario "missing" not found`)
}

func TestOpenBackend(t *testing.T) {
	ctx := context.Background()
	logger := testutil.NewTestLogger(t)

	backend, store, err := openBackend(ctx, &config.Config{Store: &config.StoreConfig{Type: "memory"}}, logger)
	require.NoError(t, err)
	assert.Nil(t, store)
	assert.IsType(t, &simout.MemoryBackend{}, backend)

	dsn := filepath.Join(t.TempDir(), "runs.db")
	backend, store, err = openBackend(ctx, &config.Config{Store: &config.StoreConfig{Type: "sqlite", DSN: dsn}}, logger)
	require.NoError(t, err)
	require.NotNil(t, store)
	assert.NoError(t, backend.Close())

	_, err = openStore(ctx, &config.Config{Store: &config.StoreConfig{Type: "memory"}}, logger)
	assert.Error(t, err)
}

func TestLockStore(t *testing.T) {
	ctx := context.Background()

	lock, err := lockStore(ctx, &config.Config{Store: &config.StoreConfig{Type: "memory"}})
	require.NoError(t, err)
	assert.Nil(t, lock)

	lock, err = lockStore(ctx, &config.Config{Store: &config.StoreConfig{Type: "duckdb", DSN: ":memory:"}})
	require.NoError(t, err)
	assert.Nil(t, lock)

	dsn := filepath.Join(t.TempDir(), "state", "runs.db")
	cfg := &config.Config{Store: &config.StoreConfig{Type: "sqlite", DSN: dsn}}
	lock, err = lockStore(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.FileExists(t, dsn+".lock")
	require.NoError(t, lock.Unlock())

	again, err := lockStore(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.NoError(t, again.Unlock())
}

func TestIsWatched(t *testing.T) {
	assert.True(t, isWatched("/p/processes/grid.star", "/p/scenarios/a.yaml"))
	assert.True(t, isWatched("/p/scenarios/a.yaml", "/p/scenarios/a.yaml"))
	assert.False(t, isWatched("/p/scenarios/b.yaml", "/p/scenarios/a.yaml"))
}

func testModel(t *testing.T) *model.Model {
	t.Helper()
	source := process.Define("source").
		Var("x", variable.WithIntent(variable.IntentOut), variable.WithDefault(0.0)).
		OnRunStep(func(p *process.Process, _ float64) error { return p.Set("x", 1.0) }).
		MustBuild()
	sink := process.Define("sink").
		Foreign("x", "source", "x", variable.IntentIn).
		Var("y", variable.WithIntent(variable.IntentOut), variable.WithDefault(0.0)).
		OnRunStep(func(p *process.Process, _ float64) error { return nil }).
		MustBuild()

	m, err := model.New([]model.Entry{model.Use("sink", sink), model.Use("source", source)})
	require.NoError(t, err)
	return m
}

func TestBuildGraphOutput(t *testing.T) {
	g := buildGraphOutput(testModel(t))

	assert.Equal(t, []string{"source", "sink"}, g.Order)
	assert.Equal(t, 2, g.TotalProcesses)
	assert.Equal(t, 1, g.TotalEdges)
	assert.Equal(t, []string{"source"}, g.Processes[1].DependsOn)
	assert.Equal(t, []string{"sink"}, g.Processes[0].UsedBy)
	assert.Equal(t, []string{}, g.Processes[0].DependsOn)
	require.Len(t, g.Stages, 4)
	assert.Equal(t, []string{"source", "sink"}, g.Stages[1].Processes)
	assert.Equal(t, []string{}, g.Stages[0].Processes)
}

func TestGraphRender(t *testing.T) {
	g := buildGraphOutput(testModel(t))

	t.Run("markdown", func(t *testing.T) {
		tr := clitest.NewTestRenderer(output.ModeMarkdown, false)
		require.NoError(t, graphMarkdown(tr.Renderer, g))

		out := tr.Output()
		clitest.AssertNoANSI(t, out)
		clitest.AssertValidMarkdown(t, out)
		assert.Contains(t, out, "# Process Graph")
		assert.Contains(t, out, "## Execution Order")
		assert.Contains(t, out, "- **Run Step**: source, sink")
	})

	t.Run("text", func(t *testing.T) {
		tr := clitest.NewTestRenderer(output.ModeText, false)
		require.NoError(t, graphText(tr.Renderer, g))

		out := tr.Output()
		assert.Contains(t, out, "Process Graph")
		assert.Contains(t, out, "sink <- source")
		assert.Empty(t, tr.ErrorOutput())
	})
}
