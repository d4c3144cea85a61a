// Package process provides process components: reusable units that declare
// a set of variables and the lifecycle hooks run by a model.
//
// A Definition is built once with a Builder and acts as a template. Each
// model gets its own Process instances created from definitions, so
// instances never share mutable state.
package process

import (
	"errors"
	"fmt"

	"github.com/leapstack-labs/leapsim/pkg/variable"
)

// ErrNoHook is returned when running a stage a process does not implement.
var ErrNoHook = errors.New("process has no hook for stage")

// Stage is one lifecycle phase of a simulation.
type Stage int

// Stages in execution order.
const (
	StageInitialize Stage = iota
	StageRunStep
	StageFinalizeStep
	StageFinalize
)

// Stages lists every stage in execution order.
var Stages = []Stage{StageInitialize, StageRunStep, StageFinalizeStep, StageFinalize}

func (s Stage) String() string {
	switch s {
	case StageInitialize:
		return "initialize"
	case StageRunStep:
		return "run_step"
	case StageFinalizeStep:
		return "finalize_step"
	case StageFinalize:
		return "finalize"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// TimeDependent reports whether the stage only applies to time-dependent
// processes.
func (s Stage) TimeDependent() bool {
	return s == StageRunStep || s == StageFinalizeStep
}

// Meta holds static process metadata.
type Meta struct {
	// TimeDependent is false for processes that do not vary over time.
	// Their run_step and finalize_step hooks are never applied.
	TimeDependent bool
}

// Hooks are the lifecycle functions of a process. Any of them may be nil.
type Hooks struct {
	Initialize   func(p *Process) error
	RunStep      func(p *Process, dt float64) error
	FinalizeStep func(p *Process) error
	Finalize     func(p *Process) error
}

// Definition is an immutable process template.
type Definition struct {
	name  string
	vars  []variable.Variable
	index map[string]int
	meta  Meta
	hooks Hooks
}

// Name returns the definition name.
func (d *Definition) Name() string { return d.name }

// Meta returns the process metadata.
func (d *Definition) Meta() Meta { return d.meta }

// VariableNames returns the declared variable names in declaration order.
func (d *Definition) VariableNames() []string {
	names := make([]string, len(d.vars))
	for i, v := range d.vars {
		names[i] = v.Name()
	}
	return names
}

// Variable returns the template descriptor for name.
func (d *Definition) Variable(name string) (variable.Variable, bool) {
	i, ok := d.index[name]
	if !ok {
		return nil, false
	}
	return d.vars[i], true
}

// Override replaces a declared variable, typically an Undefined
// placeholder, when instantiating a definition.
type Override struct {
	Variable variable.Variable
}

// With returns an override for the variable of the same name.
func With(v variable.Variable) Override {
	return Override{Variable: v}
}

// New instantiates the definition under the given name. Every descriptor is
// deep-copied and diagnostics are bound to the new instance.
func (d *Definition) New(name string, overrides ...Override) (*Process, error) {
	if name == "" {
		name = d.name
	}

	replaced := make(map[string]variable.Variable, len(overrides))
	for _, o := range overrides {
		if o.Variable == nil {
			return nil, fmt.Errorf("process %q: nil override", name)
		}
		vname := o.Variable.Name()
		if _, ok := d.index[vname]; !ok {
			return nil, fmt.Errorf("process %q: cannot override unknown variable %q", name, vname)
		}
		if err := variable.Check(o.Variable); err != nil {
			return nil, fmt.Errorf("process %q: override %q: %w", name, vname, err)
		}
		replaced[vname] = o.Variable
	}

	vars := make([]variable.Variable, len(d.vars))
	for i, v := range d.vars {
		if o, ok := replaced[v.Name()]; ok {
			vars[i] = o.Clone()
		} else {
			vars[i] = v.Clone()
		}
	}
	return newProcess(name, d, vars), nil
}

// MustNew is like New but panics on error. It is intended for tests and
// static model declarations.
func (d *Definition) MustNew(name string, overrides ...Override) *Process {
	p, err := d.New(name, overrides...)
	if err != nil {
		panic(err)
	}
	return p
}

// Process is a process instance owned by a single model.
type Process struct {
	name  string
	def   *Definition
	vars  []variable.Variable
	index map[string]int
}

func newProcess(name string, def *Definition, vars []variable.Variable) *Process {
	p := &Process{
		name:  name,
		def:   def,
		vars:  vars,
		index: make(map[string]int, len(vars)),
	}
	for i, v := range vars {
		p.index[v.Name()] = i
		if diag, ok := v.(*variable.Diagnostic); ok {
			diag.BindOwner(p)
		}
	}
	return p
}

// Name returns the instance name.
func (p *Process) Name() string { return p.name }

// Definition returns the template the instance was created from.
func (p *Process) Definition() *Definition { return p.def }

// Meta returns the process metadata.
func (p *Process) Meta() Meta { return p.def.meta }

// Variables returns the descriptors in declaration order.
func (p *Process) Variables() []variable.Variable {
	return append([]variable.Variable(nil), p.vars...)
}

// Var returns the descriptor for name.
func (p *Process) Var(name string) (variable.Variable, bool) {
	i, ok := p.index[name]
	if !ok {
		return nil, false
	}
	return p.vars[i], true
}

// Get reads the state of a variable, whatever kind of descriptor it is.
func (p *Process) Get(name string) (any, error) {
	v, ok := p.Var(name)
	if !ok {
		return nil, fmt.Errorf("process %q has no variable %q", p.name, name)
	}
	return v.State()
}

// Float reads a scalar numeric variable as a float64.
func (p *Process) Float(name string) (float64, error) {
	value, err := p.Get(name)
	if err != nil {
		return 0, err
	}
	f, ok := ToFloat(value)
	if !ok {
		return 0, fmt.Errorf("process %q variable %q: %T is not a number", p.name, name, value)
	}
	return f, nil
}

// Set writes the state of a variable, following foreign references.
func (p *Process) Set(name string, value any) error {
	v, ok := p.Var(name)
	if !ok {
		return fmt.Errorf("process %q has no variable %q", p.name, name)
	}
	return v.SetState(value)
}

// HasHook reports whether the process takes part in stage.
func (p *Process) HasHook(stage Stage) bool {
	if stage.TimeDependent() && !p.def.meta.TimeDependent {
		return false
	}
	h := p.def.hooks
	switch stage {
	case StageInitialize:
		return h.Initialize != nil
	case StageRunStep:
		return h.RunStep != nil
	case StageFinalizeStep:
		return h.FinalizeStep != nil
	case StageFinalize:
		return h.Finalize != nil
	}
	return false
}

// Run runs the hook for stage. dt is only passed to run_step.
func (p *Process) Run(stage Stage, dt float64) error {
	if !p.HasHook(stage) {
		return fmt.Errorf("process %q stage %s: %w", p.name, stage, ErrNoHook)
	}
	h := p.def.hooks
	switch stage {
	case StageInitialize:
		return h.Initialize(p)
	case StageRunStep:
		return h.RunStep(p, dt)
	case StageFinalizeStep:
		return h.FinalizeStep(p)
	default:
		return h.Finalize(p)
	}
}

// Clone returns an unbound copy of the instance with deep-copied state.
func (p *Process) Clone() *Process {
	vars := make([]variable.Variable, len(p.vars))
	for i, v := range p.vars {
		vars[i] = v.Clone()
	}
	return newProcess(p.name, p.def, vars)
}

// Rename returns an unbound clone of the instance under a new name.
func (p *Process) Rename(name string) *Process {
	c := p.Clone()
	c.name = name
	return c
}

// ToFloat converts the numeric types produced by decoders and scripts to
// float64.
func ToFloat(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
