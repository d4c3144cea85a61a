package variable

import "fmt"

// ComputeFunc computes a diagnostic value for the process instance that
// owns the diagnostic.
type ComputeFunc func(owner any) (any, error)

// Diagnostic is an output computed on demand from the state of its process.
// The computation runs on every read; results are never cached.
type Diagnostic struct {
	name    string
	compute ComputeFunc
	desc    string
	attrs   map[string]any
	dims    []Dims

	owner any
}

// NewDiagnostic declares a diagnostic computed by fn. Only WithDescription,
// WithAttrs and WithDims apply.
func NewDiagnostic(name string, fn ComputeFunc, opts ...Option) *Diagnostic {
	o := collect(opts)
	return &Diagnostic{
		name:    name,
		compute: fn,
		desc:    o.description,
		attrs:   o.attrs,
		dims:    o.dims,
	}
}

func (v *Diagnostic) Name() string   { return v.name }
func (v *Diagnostic) Kind() Kind     { return KindDiagnostic }
func (v *Diagnostic) Intent() Intent { return IntentOut }

func (v *Diagnostic) Metadata() Metadata {
	return Metadata{
		Name:        v.name,
		Kind:        KindDiagnostic,
		Intent:      IntentOut,
		Dims:        v.dims,
		Description: v.desc,
		Attrs:       copyAttrs(v.attrs),
	}
}

// BindOwner attaches the process instance passed to the computation.
func (v *Diagnostic) BindOwner(owner any) {
	v.owner = owner
}

func (v *Diagnostic) Validate(value any) error {
	ndim, err := NDim(value)
	if err != nil {
		return &ValidationError{Variable: v.name, Reason: err.Error()}
	}
	if _, ok := MatchDims(v.dims, ndim); !ok {
		return &ValidationError{
			Variable: v.name,
			Reason:   fmt.Sprintf("value has %d dimension(s), accepted dimensions are %s", ndim, dimsList(v.dims)),
		}
	}
	return nil
}

func (v *Diagnostic) State() (any, error) {
	if v.owner == nil {
		return nil, fmt.Errorf("diagnostic %q: %w", v.name, ErrNotBound)
	}
	return v.compute(v.owner)
}

func (v *Diagnostic) SetState(any) error {
	return fmt.Errorf("diagnostic %q: set state: %w", v.name, ErrUnsupported)
}

// Bind is a no-op: diagnostics are bound to their owner at instantiation.
func (v *Diagnostic) Bind(Resolver) error { return nil }

func (v *Diagnostic) Clone() Variable {
	c := *v
	c.attrs = copyAttrs(v.attrs)
	c.dims = append([]Dims(nil), v.dims...)
	c.owner = nil
	return &c
}

// Undefined is a placeholder on a reusable process definition. It must be
// replaced by a concrete descriptor when the process is added to a model.
type Undefined struct {
	name string
	desc string
}

// NewUndefined declares a placeholder.
func NewUndefined(name string, opts ...Option) *Undefined {
	o := collect(opts)
	return &Undefined{name: name, desc: o.description}
}

func (v *Undefined) Name() string   { return v.name }
func (v *Undefined) Kind() Kind     { return KindUndefined }
func (v *Undefined) Intent() Intent { return IntentIn }

func (v *Undefined) Metadata() Metadata {
	return Metadata{Name: v.name, Kind: KindUndefined, Intent: IntentIn, Description: v.desc}
}

func (v *Undefined) Validate(any) error {
	return fmt.Errorf("undefined %q: %w", v.name, ErrNotBound)
}

func (v *Undefined) State() (any, error) {
	return nil, fmt.Errorf("undefined %q: %w", v.name, ErrNotBound)
}

func (v *Undefined) SetState(any) error {
	return fmt.Errorf("undefined %q: %w", v.name, ErrNotBound)
}

func (v *Undefined) Bind(Resolver) error {
	return fmt.Errorf("variable %q: %w", v.name, ErrUndefined)
}

func (v *Undefined) Clone() Variable {
	c := *v
	return &c
}
