package starlark

import (
	"errors"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"go.starlark.net/starlark"

	"github.com/leapstack-labs/leapsim/pkg/process"
	"github.com/leapstack-labs/leapsim/pkg/variable"
)

// descriptor is the Starlark value returned by variable(), foreign(),
// group(), undefined() and diagnostic(). The variable is created once the
// enclosing process() call names it.
type descriptor struct {
	kind string
	// build creates the variable; diagnostics are added through addTo.
	build func(name string) (variable.Variable, error)
	addTo func(b *process.Builder, name string)
}

var _ starlark.Value = (*descriptor)(nil)

func (d *descriptor) String() string        { return d.kind + "(...)" }
func (d *descriptor) Type() string          { return d.kind }
func (d *descriptor) Freeze()               {}
func (d *descriptor) Truth() starlark.Bool  { return starlark.True }
func (d *descriptor) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: %s", d.kind) }

// varOptions are the keyword arguments shared by the descriptor builtins.
type varOptions struct {
	Dims        any            `mapstructure:"dims"`
	Intent      string         `mapstructure:"intent"`
	Optional    bool           `mapstructure:"optional"`
	Default     any            `mapstructure:"default"`
	Description string         `mapstructure:"description"`
	Attrs       map[string]any `mapstructure:"attrs"`
	Groups      []string       `mapstructure:"groups"`
}

// decodeOptions converts keyword arguments into varOptions. allowed lists
// the keywords the builtin accepts.
func decodeOptions(fn string, kwargs []starlark.Tuple, allowed ...string) (varOptions, bool, error) {
	var opts varOptions
	raw := make(map[string]any, len(kwargs))
	ok := make(map[string]bool, len(allowed))
	for _, k := range allowed {
		ok[k] = true
	}

	for _, kv := range kwargs {
		key := string(kv[0].(starlark.String))
		if !ok[key] {
			return opts, false, fmt.Errorf("%s: unexpected keyword argument %q", fn, key)
		}
		value, err := ToGo(kv[1])
		if err != nil {
			return opts, false, fmt.Errorf("%s: %s: %w", fn, key, err)
		}
		raw[key] = value
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &opts,
		ErrorUnused: true,
	})
	if err != nil {
		return opts, false, err
	}
	if err := dec.Decode(raw); err != nil {
		return opts, false, fmt.Errorf("%s: %w", fn, err)
	}
	_, hasDefault := raw["default"]
	return opts, hasDefault, nil
}

// options converts decoded keyword arguments into variable options.
func (o varOptions) options(hasDefault bool) ([]variable.Option, error) {
	var opts []variable.Option
	if o.Dims != nil {
		dims, err := parseDims(o.Dims)
		if err != nil {
			return nil, err
		}
		opts = append(opts, variable.WithDims(dims...))
	}
	if o.Intent != "" {
		intent, err := variable.ParseIntent(o.Intent)
		if err != nil {
			return nil, err
		}
		opts = append(opts, variable.WithIntent(intent))
	}
	if o.Optional {
		opts = append(opts, variable.Optional())
	}
	if hasDefault {
		opts = append(opts, variable.WithDefault(o.Default))
	}
	if o.Description != "" {
		opts = append(opts, variable.WithDescription(o.Description))
	}
	if len(o.Attrs) > 0 {
		opts = append(opts, variable.WithAttrs(o.Attrs))
	}
	if len(o.Groups) > 0 {
		opts = append(opts, variable.InGroups(o.Groups...))
	}
	return opts, nil
}

// parseDims accepts "x", ["y", "x"], [] (scalar) or a list of those.
func parseDims(v any) ([]variable.Dims, error) {
	switch d := v.(type) {
	case string:
		return []variable.Dims{{d}}, nil
	case []float64:
		if len(d) == 0 {
			return []variable.Dims{{}}, nil
		}
	case []any:
		if len(d) == 0 {
			return []variable.Dims{{}}, nil
		}
		if labels, ok := stringList(d); ok {
			return []variable.Dims{labels}, nil
		}
		var all []variable.Dims
		for _, item := range d {
			switch x := item.(type) {
			case string:
				all = append(all, variable.Dims{x})
			case []float64:
				if len(x) != 0 {
					return nil, fmt.Errorf("invalid dims %v", v)
				}
				all = append(all, variable.Dims{})
			case []any:
				labels, ok := stringList(x)
				if !ok {
					return nil, fmt.Errorf("invalid dims %v", v)
				}
				all = append(all, labels)
			default:
				return nil, fmt.Errorf("invalid dims %v", v)
			}
		}
		return all, nil
	}
	return nil, fmt.Errorf("invalid dims %v", v)
}

func stringList(items []any) (variable.Dims, bool) {
	labels := make(variable.Dims, len(items))
	for i, it := range items {
		s, ok := it.(string)
		if !ok {
			return nil, false
		}
		labels[i] = s
	}
	return labels, true
}

func varBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) > 0 {
		return nil, fmt.Errorf("%s: unexpected positional arguments", b.Name())
	}
	o, hasDefault, err := decodeOptions(b.Name(), kwargs,
		"dims", "intent", "optional", "default", "description", "attrs", "groups")
	if err != nil {
		return nil, err
	}
	opts, err := o.options(hasDefault)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return &descriptor{kind: "variable", build: func(name string) (variable.Variable, error) {
		return variable.NewOwned(name, opts...), nil
	}}, nil
}

func foreignBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var proc, target string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, nil, 2, &proc, &target); err != nil {
		return nil, err
	}
	o, _, err := decodeOptions(b.Name(), kwargs, "intent", "description", "groups")
	if err != nil {
		return nil, err
	}
	intent := variable.IntentIn
	if o.Intent != "" {
		if intent, err = variable.ParseIntent(o.Intent); err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
	}
	o.Intent = ""
	opts, err := o.options(false)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return &descriptor{kind: "foreign", build: func(name string) (variable.Variable, error) {
		return variable.NewForeign(name, proc, target, intent, opts...), nil
	}}, nil
}

func groupBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var group string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, nil, 1, &group); err != nil {
		return nil, err
	}
	o, _, err := decodeOptions(b.Name(), kwargs, "description")
	if err != nil {
		return nil, err
	}
	opts, _ := o.options(false)
	return &descriptor{kind: "group", build: func(name string) (variable.Variable, error) {
		return variable.NewGroup(name, group, opts...), nil
	}}, nil
}

func undefinedBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) > 0 {
		return nil, fmt.Errorf("%s: unexpected positional arguments", b.Name())
	}
	o, _, err := decodeOptions(b.Name(), kwargs, "description")
	if err != nil {
		return nil, err
	}
	opts, _ := o.options(false)
	return &descriptor{kind: "undefined", build: func(name string) (variable.Variable, error) {
		return variable.NewUndefined(name, opts...), nil
	}}, nil
}

// diagnosticBuiltin wraps a function of the process handle. It is called
// on every read of the variable.
func (l *Loader) diagnosticBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var fn starlark.Callable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, nil, 1, &fn); err != nil {
		return nil, err
	}
	o, _, err := decodeOptions(b.Name(), kwargs, "dims", "description", "attrs")
	if err != nil {
		return nil, err
	}
	opts, err := o.options(false)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}

	compute := func(p *process.Process) (any, error) {
		result, err := l.pool.call(p.Name()+"."+fn.Name(), fn, starlark.Tuple{newHandle(p)})
		if err != nil {
			return nil, err
		}
		return ToGo(result)
	}
	return &descriptor{kind: "diagnostic", addTo: func(pb *process.Builder, name string) {
		pb.Diagnostic(name, compute, opts...)
	}}, nil
}

// processBuiltin defines a process and records it for the file being
// loaded.
func (l *Loader) processBuiltin(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var vars, diagnostics *starlark.Dict
	var initialize, runStep, finalizeStep, finalize starlark.Callable
	timeDependent := true
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"name", &name,
		"vars?", &vars,
		"diagnostics?", &diagnostics,
		"time_dependent?", &timeDependent,
		"initialize?", &initialize,
		"run_step?", &runStep,
		"finalize_step?", &finalizeStep,
		"finalize?", &finalize,
	); err != nil {
		return nil, err
	}

	pb := process.Define(name).Meta(process.Meta{TimeDependent: timeDependent})
	for _, dict := range []*starlark.Dict{vars, diagnostics} {
		if dict == nil {
			continue
		}
		for _, item := range dict.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("%s: variable names must be strings, got %s", b.Name(), item[0].Type())
			}
			d, ok := item[1].(*descriptor)
			if !ok {
				return nil, fmt.Errorf("%s: variable %q: want a variable descriptor, got %s", b.Name(), key, item[1].Type())
			}
			if d.addTo != nil {
				d.addTo(pb, string(key))
				continue
			}
			v, err := d.build(string(key))
			if err != nil {
				return nil, fmt.Errorf("%s: variable %q: %w", b.Name(), key, err)
			}
			pb.Add(v)
		}
	}

	if initialize != nil {
		pb.OnInitialize(l.hook(initialize))
	}
	if runStep != nil {
		fn := runStep
		pb.OnRunStep(func(p *process.Process, dt float64) error {
			_, err := l.pool.call(p.Name()+"."+fn.Name(), fn, starlark.Tuple{newHandle(p), starlark.Float(dt)})
			return err
		})
	}
	if finalizeStep != nil {
		pb.OnFinalizeStep(l.hook(finalizeStep))
	}
	if finalize != nil {
		pb.OnFinalize(l.hook(finalize))
	}

	def, err := pb.Build()
	if err != nil {
		return nil, err
	}

	c, ok := thread.Local(collectorKey).(*collector)
	if !ok {
		return nil, errors.New("process() can only be called while loading a file")
	}
	c.defs = append(c.defs, def)
	return starlark.None, nil
}

func (l *Loader) hook(fn starlark.Callable) func(p *process.Process) error {
	return func(p *process.Process) error {
		_, err := l.pool.call(p.Name()+"."+fn.Name(), fn, starlark.Tuple{newHandle(p)})
		return err
	}
}

// Predeclared returns the builtins available to process files.
func (l *Loader) Predeclared() starlark.StringDict {
	return starlark.StringDict{
		"process":    starlark.NewBuiltin("process", l.processBuiltin),
		"variable":   starlark.NewBuiltin("variable", varBuiltin),
		"foreign":    starlark.NewBuiltin("foreign", foreignBuiltin),
		"group":      starlark.NewBuiltin("group", groupBuiltin),
		"undefined":  starlark.NewBuiltin("undefined", undefinedBuiltin),
		"diagnostic": starlark.NewBuiltin("diagnostic", l.diagnosticBuiltin),
	}
}
