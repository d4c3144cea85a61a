package process

import (
	"testing"

	"github.com/leapstack-labs/leapsim/pkg/variable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterDef(t *testing.T) *Definition {
	t.Helper()
	def, err := Define("counter").
		Var("count", variable.WithIntent(variable.IntentInOut), variable.WithDefault(0.0)).
		Var("step", variable.WithDefault(1.0)).
		Diagnostic("double", func(p *Process) (any, error) {
			c, err := p.Float("count")
			return 2 * c, err
		}).
		OnRunStep(func(p *Process, dt float64) error {
			c, err := p.Float("count")
			if err != nil {
				return err
			}
			s, err := p.Float("step")
			if err != nil {
				return err
			}
			return p.Set("count", c+s*dt)
		}).
		Build()
	require.NoError(t, err)
	return def
}

func TestBuild_Validation(t *testing.T) {
	tests := []struct {
		name    string
		builder *Builder
		wantErr string
	}{
		{
			name:    "empty name",
			builder: Define("").Var("x"),
			wantErr: "process name is required",
		},
		{
			name:    "duplicate variable",
			builder: Define("p").Var("x").Var("x"),
			wantErr: `duplicate variable "x"`,
		},
		{
			name:    "invalid default",
			builder: Define("p").Var("x", variable.WithDefault([]float64{1, 2})),
			wantErr: "invalid default",
		},
		{
			name:    "nil diagnostic",
			builder: Define("p").Diagnostic("d", nil),
			wantErr: "compute function is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.builder.Build()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDefinition_VariableOrder(t *testing.T) {
	def := counterDef(t)

	assert.Equal(t, []string{"count", "step", "double"}, def.VariableNames())
	assert.True(t, def.Meta().TimeDependent)

	p := def.MustNew("")
	assert.Equal(t, "counter", p.Name())
	names := make([]string, 0)
	for _, v := range p.Variables() {
		names = append(names, v.Name())
	}
	assert.Equal(t, def.VariableNames(), names)
}

func TestProcess_RunStepAndDiagnostic(t *testing.T) {
	p := counterDef(t).MustNew("c")

	require.NoError(t, p.Run(StageRunStep, 2))
	require.NoError(t, p.Run(StageRunStep, 0.5))

	count, err := p.Get("count")
	require.NoError(t, err)
	assert.Equal(t, 2.5, count)

	double, err := p.Get("double")
	require.NoError(t, err)
	assert.Equal(t, 5.0, double)
}

func TestProcess_MissingHook(t *testing.T) {
	p := counterDef(t).MustNew("c")

	assert.False(t, p.HasHook(StageInitialize))
	assert.ErrorIs(t, p.Run(StageInitialize, 0), ErrNoHook)
}

func TestProcess_NotTimeDependent(t *testing.T) {
	ran := false
	def := Define("static").
		Var("x", variable.WithDefault(1.0)).
		Meta(Meta{TimeDependent: false}).
		OnInitialize(func(*Process) error { return nil }).
		OnRunStep(func(*Process, float64) error { ran = true; return nil }).
		MustBuild()

	p := def.MustNew("s")
	assert.True(t, p.HasHook(StageInitialize))
	assert.False(t, p.HasHook(StageRunStep))
	assert.ErrorIs(t, p.Run(StageRunStep, 1), ErrNoHook)
	assert.False(t, ran)
}

func TestDefinition_InstancesAreIndependent(t *testing.T) {
	def := counterDef(t)
	a := def.MustNew("a")
	b := def.MustNew("b")

	require.NoError(t, a.Set("count", 10.0))

	got, err := b.Get("count")
	require.NoError(t, err)
	assert.Equal(t, 0.0, got)

	// diagnostics are bound to their own instance
	double, err := b.Get("double")
	require.NoError(t, err)
	assert.Equal(t, 0.0, double)
}

func TestDefinition_Overrides(t *testing.T) {
	def := Define("erosion").
		Undefined("flux").
		Var("rate", variable.WithDefault(0.1)).
		MustBuild()

	p, err := def.New("erosion", With(variable.NewForeign("flux", "flow", "discharge", variable.IntentIn)))
	require.NoError(t, err)
	v, ok := p.Var("flux")
	require.True(t, ok)
	assert.Equal(t, variable.KindForeign, v.Kind())

	// the definition keeps its placeholder
	tmpl, ok := def.Variable("flux")
	require.True(t, ok)
	assert.Equal(t, variable.KindUndefined, tmpl.Kind())

	_, err = def.New("erosion", With(variable.NewOwned("unknown")))
	assert.ErrorContains(t, err, "unknown variable")
}

func TestProcess_Clone(t *testing.T) {
	p := counterDef(t).MustNew("c")
	require.NoError(t, p.Set("count", 3.0))

	c := p.Clone()
	require.NoError(t, c.Set("count", 7.0))

	orig, _ := p.Get("count")
	cloned, _ := c.Get("count")
	assert.Equal(t, 3.0, orig)
	assert.Equal(t, 7.0, cloned)

	double, err := c.Get("double")
	require.NoError(t, err)
	assert.Equal(t, 14.0, double)

	renamed := p.Rename("other")
	assert.Equal(t, "other", renamed.Name())
}

func TestStage_String(t *testing.T) {
	names := make([]string, 0, len(Stages))
	for _, s := range Stages {
		names = append(names, s.String())
	}
	assert.Equal(t, []string{"initialize", "run_step", "finalize_step", "finalize"}, names)
}
