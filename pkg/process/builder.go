package process

import (
	"errors"
	"fmt"

	"github.com/leapstack-labs/leapsim/pkg/variable"
)

// Builder declares a process definition. Descriptors keep the order in
// which they are registered.
//
//	def, err := process.Define("flow").
//		Var("area", variable.WithDims(variable.Dims{"x"})).
//		Foreign("elevation", "topography", "elevation", variable.IntentIn).
//		OnRunStep(func(p *process.Process, dt float64) error { ... }).
//		Build()
type Builder struct {
	name  string
	vars  []variable.Variable
	meta  Meta
	hooks Hooks
	errs  []error
}

// Define starts a new process definition.
func Define(name string) *Builder {
	return &Builder{name: name, meta: Meta{TimeDependent: true}}
}

// Var declares an owned variable.
func (b *Builder) Var(name string, opts ...variable.Option) *Builder {
	return b.Add(variable.NewOwned(name, opts...))
}

// Foreign declares a reference to variable target of process.
func (b *Builder) Foreign(name, process, target string, intent variable.Intent, opts ...variable.Option) *Builder {
	return b.Add(variable.NewForeign(name, process, target, intent, opts...))
}

// Group declares an aggregation over the members of group.
func (b *Builder) Group(name, group string, opts ...variable.Option) *Builder {
	return b.Add(variable.NewGroup(name, group, opts...))
}

// Diagnostic registers fn as an on-demand output. fn receives the process
// instance the diagnostic belongs to.
func (b *Builder) Diagnostic(name string, fn func(p *Process) (any, error), opts ...variable.Option) *Builder {
	var compute variable.ComputeFunc
	if fn != nil {
		compute = func(owner any) (any, error) {
			p, ok := owner.(*Process)
			if !ok {
				return nil, fmt.Errorf("diagnostic %q: owner is %T, not a process", name, owner)
			}
			return fn(p)
		}
	}
	return b.Add(variable.NewDiagnostic(name, compute, opts...))
}

// Undefined declares a placeholder that each model must override.
func (b *Builder) Undefined(name string, opts ...variable.Option) *Builder {
	return b.Add(variable.NewUndefined(name, opts...))
}

// Add registers an existing descriptor.
func (b *Builder) Add(v variable.Variable) *Builder {
	if v == nil {
		b.errs = append(b.errs, errors.New("nil variable"))
		return b
	}
	b.vars = append(b.vars, v)
	return b
}

// Meta sets the process metadata.
func (b *Builder) Meta(meta Meta) *Builder {
	b.meta = meta
	return b
}

// OnInitialize sets the initialize hook.
func (b *Builder) OnInitialize(fn func(p *Process) error) *Builder {
	b.hooks.Initialize = fn
	return b
}

// OnRunStep sets the run_step hook. dt is the master clock step duration.
func (b *Builder) OnRunStep(fn func(p *Process, dt float64) error) *Builder {
	b.hooks.RunStep = fn
	return b
}

// OnFinalizeStep sets the finalize_step hook.
func (b *Builder) OnFinalizeStep(fn func(p *Process) error) *Builder {
	b.hooks.FinalizeStep = fn
	return b
}

// OnFinalize sets the finalize hook.
func (b *Builder) OnFinalize(fn func(p *Process) error) *Builder {
	b.hooks.Finalize = fn
	return b
}

// Build validates the declarations and returns an immutable definition.
func (b *Builder) Build() (*Definition, error) {
	errs := append([]error(nil), b.errs...)
	if b.name == "" {
		errs = append(errs, errors.New("process name is required"))
	}

	index := make(map[string]int, len(b.vars))
	for i, v := range b.vars {
		if _, dup := index[v.Name()]; dup {
			errs = append(errs, fmt.Errorf("duplicate variable %q", v.Name()))
			continue
		}
		index[v.Name()] = i
		if err := variable.Check(v); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid process %q: %w", b.name, errors.Join(errs...))
	}

	vars := make([]variable.Variable, len(b.vars))
	for i, v := range b.vars {
		vars[i] = v.Clone()
	}
	return &Definition{
		name:  b.name,
		vars:  vars,
		index: index,
		meta:  b.meta,
		hooks: b.hooks,
	}, nil
}

// MustBuild is like Build but panics on error.
func (b *Builder) MustBuild() *Definition {
	def, err := b.Build()
	if err != nil {
		panic(err)
	}
	return def
}
