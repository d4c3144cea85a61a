// Package variable provides the descriptors a process component uses to
// declare its state: owned slots, references to other components'
// variables, group aggregations, computed diagnostics and placeholders that
// must be filled in when a component is added to a model.
//
// Every descriptor implements the Variable interface. State reads and
// writes go through the interface so process code never needs to know
// which kind of binding sits behind a name.
package variable

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by descriptor operations.
var (
	// ErrValidation is returned when a value does not match the accepted
	// dimensions of a variable or when one of its validators fails.
	ErrValidation = errors.New("validation error")

	// ErrNotBound is returned on state access before a foreign, group or
	// diagnostic descriptor has been bound to a model.
	ErrNotBound = errors.New("variable not bound")

	// ErrUnsupported is returned for operations a descriptor kind does not
	// support, such as writing a diagnostic or a group.
	ErrUnsupported = errors.New("unsupported operation")

	// ErrUndefined is returned when binding an undefined placeholder.
	ErrUndefined = errors.New("undefined variable")
)

// Intent tells whether a variable is read by its process, produced by it,
// or both.
type Intent int

// Intent values.
const (
	IntentIn Intent = iota
	IntentOut
	IntentInOut
)

func (i Intent) String() string {
	switch i {
	case IntentIn:
		return "in"
	case IntentOut:
		return "out"
	case IntentInOut:
		return "inout"
	default:
		return fmt.Sprintf("intent(%d)", int(i))
	}
}

// ParseIntent parses "in", "out" or "inout".
func ParseIntent(s string) (Intent, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "in", "input":
		return IntentIn, nil
	case "out", "output":
		return IntentOut, nil
	case "inout", "in-out", "input-output":
		return IntentInOut, nil
	default:
		return IntentIn, fmt.Errorf("unknown intent %q", s)
	}
}

// Reads reports whether the intent reads the variable.
func (i Intent) Reads() bool { return i == IntentIn || i == IntentInOut }

// Writes reports whether the intent writes the variable.
func (i Intent) Writes() bool { return i == IntentOut || i == IntentInOut }

// Kind identifies the descriptor variant.
type Kind int

// Kind values.
const (
	KindOwned Kind = iota
	KindForeign
	KindGroup
	KindDiagnostic
	KindUndefined
)

func (k Kind) String() string {
	switch k {
	case KindOwned:
		return "variable"
	case KindForeign:
		return "foreign"
	case KindGroup:
		return "group"
	case KindDiagnostic:
		return "diagnostic"
	case KindUndefined:
		return "undefined"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Dims is an ordered list of dimension labels. An empty Dims is a scalar.
type Dims []string

// Scalar accepts zero-dimensional values.
var Scalar = Dims{}

func (d Dims) String() string {
	return "(" + strings.Join(d, ", ") + ")"
}

// Validator checks a value and returns a non-nil error when it is not
// acceptable.
type Validator func(value any) error

// Metadata describes a descriptor.
type Metadata struct {
	Name        string
	Kind        Kind
	Intent      Intent
	Dims        []Dims
	Optional    bool
	Default     any
	HasDefault  bool
	Description string
	Attrs       map[string]any
	Groups      []string

	// Set for foreign references.
	TargetProcess  string
	TargetVariable string

	// Set for group aggregations.
	Group string
}

// Variable is the capability set shared by every descriptor kind.
type Variable interface {
	// Name returns the name of the descriptor within its process.
	Name() string
	// Kind returns the descriptor variant.
	Kind() Kind
	// Intent returns the intent the owning process declared.
	Intent() Intent
	// Metadata describes the descriptor.
	Metadata() Metadata
	// Validate checks value against the accepted dimensions and validators.
	Validate(value any) error
	// State returns the current value.
	State() (any, error)
	// SetState validates and stores value.
	SetState(value any) error
	// Bind resolves the descriptor against the components of a model.
	Bind(r Resolver) error
	// Clone returns an unbound copy with independent state.
	Clone() Variable
}

// Resolver resolves references when a model binds its components.
type Resolver interface {
	// ResolveForeign returns the Owned or Diagnostic descriptor a foreign
	// reference points to.
	ResolveForeign(f *Foreign) (Variable, error)
	// GroupMembers returns the descriptors that declared membership in the
	// named group, in model declaration order.
	GroupMembers(group string) ([]Variable, error)
}

// ValidationError reports a rejected value.
type ValidationError struct {
	Variable string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("variable %q: %s", e.Variable, e.Reason)
}

// Unwrap returns ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Check verifies the static declaration of a descriptor: a non-empty name,
// at least one accepted Dims for owned variables and a default value that
// passes validation.
func Check(v Variable) error {
	if v == nil {
		return errors.New("nil variable")
	}
	if v.Name() == "" {
		return fmt.Errorf("%s variable has an empty name", v.Kind())
	}
	switch t := v.(type) {
	case *Owned:
		if len(t.dims) == 0 {
			return fmt.Errorf("variable %q: dims must contain at least one shape", t.name)
		}
		if t.hasDefault {
			if err := t.Validate(t.defaultValue); err != nil {
				return fmt.Errorf("invalid default: %w", err)
			}
		}
	case *Foreign:
		if t.process == "" || t.target == "" {
			return fmt.Errorf("foreign variable %q: target process and variable are required", t.name)
		}
	case *Group:
		if t.group == "" {
			return fmt.Errorf("group variable %q: group name is required", t.name)
		}
	case *Diagnostic:
		if t.compute == nil {
			return fmt.Errorf("diagnostic %q: compute function is required", t.name)
		}
	}
	return nil
}
