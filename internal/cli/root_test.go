package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapsim/internal/cli/config"
	"github.com/leapstack-labs/leapsim/internal/cli/output"
	"github.com/leapstack-labs/leapsim/internal/cli/testutil"
)

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	config.ResetConfig()

	cmd := NewRootCmd()
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// events decodes JSON lines written by the run command.
func events(t *testing.T, out string) []output.RunEvent {
	t.Helper()
	var evs []output.RunEvent
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var ev output.RunEvent
		require.NoError(t, json.Unmarshal([]byte(line), &ev), line)
		evs = append(evs, ev)
	}
	return evs
}

func TestVersionCommand(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "LeapSim v"+Version)
}

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := NewRootCmd()
	for _, name := range []string{"run", "graph", "inputs", "processes", "runs", "version", "completion"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
	for _, flag := range []string{"config", "project-dir", "processes-dir", "scenarios-dir", "store", "dsn", "env", "verbose", "output"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), "flag %q should exist", flag)
	}
}

func TestRunCommand_Memory(t *testing.T) {
	dir := testutil.SetupTestProject(t, "memory")

	out, _, err := execute(t, "run", "erosion", "--project-dir", dir, "-o", "json")
	require.NoError(t, err)

	evs := events(t, out)
	require.Len(t, evs, 3)
	assert.Equal(t, "batch_start", evs[0].Event)
	assert.Equal(t, 1, evs[0].Total)

	assert.Equal(t, "run_complete", evs[1].Event)
	assert.Equal(t, "erosion", evs[1].Scenario)
	assert.Equal(t, "completed", evs[1].Status)
	assert.Equal(t, 2, evs[1].Steps)
	assert.NotEmpty(t, evs[1].RunID)

	assert.Equal(t, "batch_complete", evs[2].Event)
	assert.Equal(t, 0, evs[2].Failed)
}

func TestRunCommand_Sweep(t *testing.T) {
	dir := testutil.SetupTestProject(t, "memory")

	out, _, err := execute(t, "run", "erosion", "--project-dir", dir, "-o", "json",
		"--sweep", "uplift.rate=0.5,1,2", "--parallel", "2")
	require.NoError(t, err)

	evs := events(t, out)
	require.Len(t, evs, 5)
	assert.Equal(t, 3, evs[0].Total)
	for _, ev := range evs[1:4] {
		assert.Equal(t, "completed", ev.Status)
	}
}

func TestRunCommand_Markdown(t *testing.T) {
	dir := testutil.SetupTestProject(t, "memory")

	out, _, err := execute(t, "run", "erosion", "--project-dir", dir, "-o", "markdown", "--set", "uplift.rate=2")
	require.NoError(t, err)

	testutil.AssertNoANSI(t, out)
	testutil.AssertValidMarkdown(t, out)
	assert.Contains(t, out, "# Running erosion")
	assert.Contains(t, out, "erosion")
	assert.Contains(t, out, "1 run(s)")
}

func TestRunCommand_Errors(t *testing.T) {
	dir := testutil.SetupTestProject(t, "memory")

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "unknown scenario", args: []string{"run", "nope"}, wantErr: `scenario "nope" not found`},
		{name: "bad set", args: []string{"run", "erosion", "--set", "rate"}, wantErr: "--set expects process.variable=value"},
		{name: "bad sweep key", args: []string{"run", "erosion", "--sweep", "rate=1,2"}, wantErr: "--sweep"},
		{name: "no args", args: []string{"run"}, wantErr: "accepts 1 arg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append(tt.args, "--project-dir", dir)
			_, _, err := execute(t, args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRunCommand_MissingInput(t *testing.T) {
	dir := testutil.SetupTestProject(t, "memory")
	bare := strings.Replace(testutil.ErosionScenario, "  grid.spacing: 1.0\n", "", 1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scenarios", "bare.yaml"), []byte(bare), 0o644))

	_, _, err := execute(t, "run", "bare", "--project-dir", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 run(s) failed")
	assert.Contains(t, err.Error(), "missing input(s) grid.spacing")
}

func TestRunsCommand_SQLite(t *testing.T) {
	dir := testutil.SetupTestProject(t, "sqlite")

	out, _, err := execute(t, "run", "erosion", "--project-dir", dir, "-o", "json")
	require.NoError(t, err)
	runID := events(t, out)[1].RunID
	assert.FileExists(t, filepath.Join(dir, ".leapsim", "state.db"))

	out, _, err = execute(t, "runs", "--project-dir", dir, "-o", "json")
	require.NoError(t, err)
	var runs []output.RunInfo
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].ID)
	assert.Equal(t, "completed", runs[0].Status)

	out, _, err = execute(t, "runs", runID, "--project-dir", dir, "-o", "json")
	require.NoError(t, err)
	var run output.RunInfo
	require.NoError(t, json.Unmarshal([]byte(out), &run))
	assert.Equal(t, "erosion", run.Scenario)
	assert.ElementsMatch(t, []string{"grid", "uplift"}, run.Processes)
	assert.ElementsMatch(t, []string{"grid__length", "uplift__elevation", "grid__spacing", "uplift__rate"}, run.Arrays)

	out, _, err = execute(t, "runs", runID, "--array", "uplift__elevation", "--project-dir", dir, "-o", "json")
	require.NoError(t, err)
	var arr struct {
		Clock string `json:"clock"`
		Shape []int  `json:"shape"`
		Slots []any  `json:"slots"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &arr))
	assert.Equal(t, "time", arr.Clock)
	assert.Equal(t, []int{3}, arr.Shape)
	assert.Equal(t, []any{0.0, 5.0, 10.0}, arr.Slots)

	out, _, err = execute(t, "runs", runID, "--array", "grid__spacing", "--project-dir", dir, "-o", "json")
	require.NoError(t, err)
	var input struct {
		Value any    `json:"value"`
		Clock string `json:"clock"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &input))
	assert.Empty(t, input.Clock)
	assert.Equal(t, 1.0, input.Value)

	_, _, err = execute(t, "runs", "--array", "uplift__elevation", "--project-dir", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--array requires a run id")
}

func TestRunsCommand_MemoryStore(t *testing.T) {
	dir := testutil.SetupTestProject(t, "memory")

	_, _, err := execute(t, "runs", "--project-dir", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory store keeps no runs")
}

func TestGraphCommand(t *testing.T) {
	dir := testutil.SetupTestProject(t, "memory")

	out, _, err := execute(t, "graph", "erosion", "--project-dir", dir, "-o", "json")
	require.NoError(t, err)

	var graph output.GraphOutput
	require.NoError(t, json.Unmarshal([]byte(out), &graph))
	assert.ElementsMatch(t, []string{"grid", "uplift"}, graph.Order)
	assert.Equal(t, 2, graph.TotalProcesses)
	assert.Equal(t, 1, graph.TotalInputs)
	require.Len(t, graph.Stages, 4)
	assert.Equal(t, "initialize", graph.Stages[0].Stage)
	assert.Equal(t, []string{"uplift"}, graph.Stages[1].Processes)

	out, _, err = execute(t, "graph", "erosion", "--project-dir", dir, "-o", "markdown")
	require.NoError(t, err)
	testutil.AssertValidMarkdown(t, out)
	assert.Contains(t, out, "# Process Graph")
	assert.Contains(t, out, "uplift")
}

func TestInputsCommand(t *testing.T) {
	dir := testutil.SetupTestProject(t, "memory")

	out, _, err := execute(t, "inputs", "erosion", "--project-dir", dir, "-o", "json")
	require.NoError(t, err)
	var inputs []output.InputInfo
	require.NoError(t, json.Unmarshal([]byte(out), &inputs))
	require.Len(t, inputs, 1)
	assert.Equal(t, "grid.spacing", inputs[0].Key)
	assert.Equal(t, "cell size", inputs[0].Description)

	out, _, err = execute(t, "inputs", "erosion", "--all", "--project-dir", dir, "-o", "json")
	require.NoError(t, err)
	inputs = nil
	require.NoError(t, json.Unmarshal([]byte(out), &inputs))
	keys := make([]string, 0, len(inputs))
	for _, in := range inputs {
		keys = append(keys, in.Key)
	}
	assert.ElementsMatch(t, []string{"grid.spacing", "grid.length", "uplift.rate"}, keys)
}

func TestProcessesCommand(t *testing.T) {
	dir := testutil.SetupTestProject(t, "memory")

	out, _, err := execute(t, "processes", "--project-dir", dir, "-o", "json")
	require.NoError(t, err)

	var procs []output.ProcessInfo
	require.NoError(t, json.Unmarshal([]byte(out), &procs))
	require.Len(t, procs, 2)
	assert.Equal(t, "grid", procs[0].Name)
	assert.False(t, procs[0].TimeDependent)
	assert.Equal(t, filepath.Join("processes", "grid.star"), procs[0].Source)
	assert.Equal(t, "uplift", procs[1].Name)
	assert.Equal(t, []string{"length", "rate", "elevation"}, procs[1].Variables)
}

func TestCompletionCommand(t *testing.T) {
	out, _, err := execute(t, "completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, out, "leapsim")
}
