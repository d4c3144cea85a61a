package variable

import "fmt"

// Foreign references a variable declared by another process. Reads and
// writes go to the referenced variable, so every process sharing it sees
// the same state.
type Foreign struct {
	name    string
	process string
	target  string
	intent  Intent
	groups  []string
	desc    string

	ref Variable
}

// NewForeign declares a reference to variable target of process. The
// process is matched against model component names first and process
// definition names second.
func NewForeign(name, process, target string, intent Intent, opts ...Option) *Foreign {
	o := collect(opts)
	return &Foreign{
		name:    name,
		process: process,
		target:  target,
		intent:  intent,
		groups:  o.groups,
		desc:    o.description,
	}
}

func (v *Foreign) Name() string   { return v.name }
func (v *Foreign) Kind() Kind     { return KindForeign }
func (v *Foreign) Intent() Intent { return v.intent }

// Process returns the referenced process identifier.
func (v *Foreign) Process() string { return v.process }

// Target returns the referenced variable name.
func (v *Foreign) Target() string { return v.target }

// Groups returns the groups the reference is a member of.
func (v *Foreign) Groups() []string { return v.groups }

// Ref returns the resolved variable, or nil before binding.
func (v *Foreign) Ref() Variable { return v.ref }

func (v *Foreign) Metadata() Metadata {
	md := Metadata{
		Name:           v.name,
		Kind:           KindForeign,
		Intent:         v.intent,
		Description:    v.desc,
		Groups:         append([]string(nil), v.groups...),
		TargetProcess:  v.process,
		TargetVariable: v.target,
	}
	if v.ref != nil {
		ref := v.ref.Metadata()
		md.Dims = ref.Dims
		md.Attrs = ref.Attrs
		if md.Description == "" {
			md.Description = ref.Description
		}
	}
	return md
}

func (v *Foreign) Validate(value any) error {
	if v.ref == nil {
		return fmt.Errorf("foreign %q: %w", v.name, ErrNotBound)
	}
	return v.ref.Validate(value)
}

func (v *Foreign) State() (any, error) {
	if v.ref == nil {
		return nil, fmt.Errorf("foreign %q: %w", v.name, ErrNotBound)
	}
	return v.ref.State()
}

func (v *Foreign) SetState(value any) error {
	if v.ref == nil {
		return fmt.Errorf("foreign %q: %w", v.name, ErrNotBound)
	}
	return v.ref.SetState(value)
}

func (v *Foreign) Bind(r Resolver) error {
	ref, err := r.ResolveForeign(v)
	if err != nil {
		return err
	}
	v.ref = ref
	return nil
}

func (v *Foreign) Clone() Variable {
	c := *v
	c.groups = append([]string(nil), v.groups...)
	c.ref = nil
	return &c
}
