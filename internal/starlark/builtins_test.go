package starlark

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapsim/internal/testutil"
	"github.com/leapstack-labs/leapsim/pkg/model"
	"github.com/leapstack-labs/leapsim/pkg/process"
	"github.com/leapstack-labs/leapsim/pkg/variable"
)

// loadSource writes src to a temporary .star file and loads it.
func loadSource(t *testing.T, src string) (*LoadedFile, error) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "procs.star")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return NewLoader(dir, testutil.NewTestLogger(t)).LoadFile(path)
}

func TestPredeclared(t *testing.T) {
	l := NewLoader(t.TempDir(), nil)
	predeclared := l.Predeclared()

	for _, name := range []string{"process", "variable", "foreign", "group", "undefined", "diagnostic"} {
		assert.Contains(t, predeclared, name)
	}
}

func TestProcessBuiltin_Variables(t *testing.T) {
	lf, err := loadSource(t, `
process(
    name = "profile",
    vars = {
        "spacing": variable(description = "grid spacing", default = 1.0, attrs = {"units": "m"}),
        "z": variable(dims = ["x"], intent = "inout", groups = ["surface"]),
        "field": variable(dims = [[], "x", ["y", "x"]], optional = True),
        "length": foreign("grid", "length"),
        "flux": foreign("grid", "flux", intent = "out"),
        "total": group("surface"),
        "shape": undefined(description = "filled in later"),
    },
    time_dependent = False,
)
`)
	require.NoError(t, err)
	require.Len(t, lf.Definitions, 1)

	def := lf.Definitions[0]
	assert.Equal(t, "profile", def.Name())
	assert.False(t, def.Meta().TimeDependent)
	assert.ElementsMatch(t, []string{"spacing", "z", "field", "length", "flux", "total", "shape"}, def.VariableNames())

	spacing, ok := def.Variable("spacing")
	require.True(t, ok)
	md := spacing.Metadata()
	assert.Equal(t, variable.KindOwned, md.Kind)
	assert.True(t, md.HasDefault)
	assert.Equal(t, 1.0, md.Default)
	assert.Equal(t, "grid spacing", md.Description)
	assert.Equal(t, map[string]any{"units": "m"}, md.Attrs)

	z, _ := def.Variable("z")
	assert.Equal(t, variable.IntentInOut, z.Intent())
	assert.Equal(t, []variable.Dims{{"x"}}, z.Metadata().Dims)
	assert.Equal(t, []string{"surface"}, z.Metadata().Groups)

	field, _ := def.Variable("field")
	assert.Equal(t, []variable.Dims{{}, {"x"}, {"y", "x"}}, field.Metadata().Dims)
	assert.True(t, field.Metadata().Optional)

	length, _ := def.Variable("length")
	assert.Equal(t, variable.KindForeign, length.Kind())
	assert.Equal(t, "grid", length.Metadata().TargetProcess)
	assert.Equal(t, "length", length.Metadata().TargetVariable)
	assert.Equal(t, variable.IntentIn, length.Intent())

	flux, _ := def.Variable("flux")
	assert.Equal(t, variable.IntentOut, flux.Intent())

	total, _ := def.Variable("total")
	assert.Equal(t, variable.KindGroup, total.Kind())
	assert.Equal(t, "surface", total.Metadata().Group)

	shape, _ := def.Variable("shape")
	assert.Equal(t, variable.KindUndefined, shape.Kind())
}

func TestProcessBuiltin_Errors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{
			name:    "unknown keyword",
			src:     `process(name = "p", vars = {"a": variable(units = "m")})`,
			wantErr: `unexpected keyword argument "units"`,
		},
		{
			name:    "bad intent",
			src:     `process(name = "p", vars = {"a": variable(intent = "sideways")})`,
			wantErr: `unknown intent "sideways"`,
		},
		{
			name:    "bad dims",
			src:     `process(name = "p", vars = {"a": variable(dims = [1, 2])})`,
			wantErr: "invalid dims",
		},
		{
			name:    "not a descriptor",
			src:     `process(name = "p", vars = {"a": 1})`,
			wantErr: "want a variable descriptor",
		},
		{
			name:    "non-string name",
			src:     `process(name = "p", vars = {1: variable()})`,
			wantErr: "variable names must be strings",
		},
		{
			name:    "foreign missing target",
			src:     `process(name = "p", vars = {"a": foreign("grid")})`,
			wantErr: "foreign",
		},
		{
			name:    "positional variable args",
			src:     `process(name = "p", vars = {"a": variable("x")})`,
			wantErr: "unexpected positional arguments",
		},
		{
			name:    "duplicate process",
			src:     "process(name = \"p\")\nprocess(name = \"p\")\n",
			wantErr: `process "p" is defined twice`,
		},
		{
			name:    "syntax error",
			src:     "process(",
			wantErr: "Starlark execution error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadSource(t, tt.src)
			require.Error(t, err)
			var loadErr *LoadError
			require.ErrorAs(t, err, &loadErr)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestProcessBuiltin_Hooks(t *testing.T) {
	lf, err := loadSource(t, `
def _init(p):
    p.set("z", [0.0, 0.0, 0.0])

def _step(p, dt):
    z = p.get("z")
    rate = p.get("rate")
    p.set("z", [v + rate * dt for v in z])

def _finalize(p):
    p.set("count", p.get("count") + 1)

def _mean(p):
    z = p.get("z")
    return _total(z) / len(z)

def _total(xs):
    total = 0.0
    for x in xs:
        total += x
    return total

process(
    name = "uplift",
    vars = {
        "rate": variable(default = 2.0),
        "z": variable(dims = "x", intent = "out"),
        "count": variable(default = 0, intent = "inout"),
    },
    diagnostics = {"mean": diagnostic(_mean, description = "mean elevation")},
    initialize = _init,
    run_step = _step,
    finalize = _finalize,
)
`)
	require.NoError(t, err)
	require.Len(t, lf.Definitions, 1)

	m, err := model.New([]model.Entry{model.Use("uplift", lf.Definitions[0])})
	require.NoError(t, err)

	require.NoError(t, m.ExecuteStage(process.StageInitialize, 0))
	require.NoError(t, m.ExecuteStage(process.StageRunStep, 0.5))
	require.NoError(t, m.ExecuteStage(process.StageRunStep, 0.5))
	require.NoError(t, m.ExecuteStage(process.StageFinalize, 0))

	z, err := m.State(model.VarKey{Process: "uplift", Variable: "z"})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 2, 2}, z)

	mean, err := m.State(model.VarKey{Process: "uplift", Variable: "mean"})
	require.NoError(t, err)
	assert.Equal(t, 2.0, mean)

	count, err := m.State(model.VarKey{Process: "uplift", Variable: "count"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestProcessBuiltin_HookError(t *testing.T) {
	lf, err := loadSource(t, `
def _step(p, dt):
    p.set("missing", 1.0)

process(name = "broken", vars = {"a": variable(default = 1.0)}, run_step = _step)
`)
	require.NoError(t, err)

	m, err := model.New([]model.Entry{model.Use("broken", lf.Definitions[0])})
	require.NoError(t, err)
	err = m.ExecuteStage(process.StageRunStep, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestHandle(t *testing.T) {
	def := process.Define("grid").
		Var("length", variable.WithDefault(10.0)).
		Var("n", variable.WithDefault(int64(3))).
		MustBuild()
	p := def.MustNew("grid")
	h := newHandle(p)

	assert.Equal(t, "<process grid>", h.String())
	assert.Equal(t, []string{"get", "name", "set", "vars"}, h.AttrNames())

	name, err := h.Attr("name")
	require.NoError(t, err)
	assert.Equal(t, `"grid"`, name.String())

	vars, err := h.Attr("vars")
	require.NoError(t, err)
	assert.Equal(t, `["length", "n"]`, vars.String())

	missing, err := h.Attr("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
