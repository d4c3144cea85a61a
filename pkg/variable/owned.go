package variable

import (
	"fmt"

	"github.com/mitchellh/copystructure"
)

// Owned is a variable whose state lives in the process that declares it.
type Owned struct {
	name         string
	dims         []Dims
	intent       Intent
	optional     bool
	defaultValue any
	hasDefault   bool
	validators   []Validator
	description  string
	attrs        map[string]any
	groups       []string

	state any
	set   bool
}

// NewOwned declares an owned variable. Without WithDims it accepts scalars
// only; without WithIntent its intent is IntentIn.
func NewOwned(name string, opts ...Option) *Owned {
	o := collect(opts)
	v := &Owned{
		name:         name,
		dims:         o.dims,
		intent:       o.intent,
		optional:     o.optional,
		defaultValue: o.defaultValue,
		hasDefault:   o.hasDefault,
		validators:   o.validators,
		description:  o.description,
		attrs:        o.attrs,
		groups:       o.groups,
	}
	if v.hasDefault {
		v.state = Copy(v.defaultValue)
		v.set = true
	}
	return v
}

func (v *Owned) Name() string   { return v.name }
func (v *Owned) Kind() Kind     { return KindOwned }
func (v *Owned) Intent() Intent { return v.intent }

// Dims returns the accepted dimension labels.
func (v *Owned) Dims() []Dims { return v.dims }

// HasDefault reports whether a default value was declared.
func (v *Owned) HasDefault() bool { return v.hasDefault }

// IsSet reports whether the variable holds a value, either its default or
// one assigned through SetState.
func (v *Owned) IsSet() bool { return v.set }

// Groups returns the groups the variable is a member of.
func (v *Owned) Groups() []string { return v.groups }

func (v *Owned) Metadata() Metadata {
	return Metadata{
		Name:        v.name,
		Kind:        KindOwned,
		Intent:      v.intent,
		Dims:        v.dims,
		Optional:    v.optional,
		Default:     v.defaultValue,
		HasDefault:  v.hasDefault,
		Description: v.description,
		Attrs:       copyAttrs(v.attrs),
		Groups:      append([]string(nil), v.groups...),
	}
}

func (v *Owned) Validate(value any) error {
	if value == nil {
		if v.optional {
			return nil
		}
		return &ValidationError{Variable: v.name, Reason: "value is required"}
	}

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

	for _, validate := range v.validators {
		if err := validate(value); err != nil {
			return &ValidationError{Variable: v.name, Reason: err.Error()}
		}
	}
	return nil
}

func (v *Owned) State() (any, error) {
	return v.state, nil
}

func (v *Owned) SetState(value any) error {
	if err := v.Validate(value); err != nil {
		return err
	}
	v.state = value
	v.set = true
	return nil
}

// Bind is a no-op: owned state needs no resolution.
func (v *Owned) Bind(Resolver) error { return nil }

func (v *Owned) Clone() Variable {
	c := *v
	c.dims = append([]Dims(nil), v.dims...)
	c.validators = append([]Validator(nil), v.validators...)
	c.attrs = copyAttrs(v.attrs)
	c.groups = append([]string(nil), v.groups...)
	c.state = Copy(v.state)
	return &c
}

func dimsList(dims []Dims) string {
	s := ""
	for i, d := range dims {
		if i > 0 {
			s += " or "
		}
		s += d.String()
	}
	return s
}

// Copy returns a deep copy of value. Values that cannot be copied are
// returned as is.
func Copy(value any) any {
	if value == nil {
		return nil
	}
	c, err := copystructure.Copy(value)
	if err != nil {
		return value
	}
	return c
}
