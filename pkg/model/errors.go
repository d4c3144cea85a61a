package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapsim/internal/dag"
)

// Construction and per-call errors.
var (
	ErrUnresolvedReference = errors.New("unresolved reference")
	ErrConflictingOutput   = errors.New("conflicting output")
	ErrCycleDetected       = dag.ErrCycleDetected
	ErrUnknownVariable     = errors.New("unknown variable")
	ErrUnknownProcess      = errors.New("unknown process")
	ErrCorruptOrder        = errors.New("execution order does not match the dependency graph")
	ErrMissingInput        = errors.New("missing input")
)

// ReferenceError reports a Foreign, Group or Undefined descriptor that
// cannot be bound within a model.
type ReferenceError struct {
	Process  string
	Variable string
	// Target is "process.variable" for foreign references.
	Target string
	Reason string
}

func (e *ReferenceError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("process %q variable %q: unresolved reference to %q: %s", e.Process, e.Variable, e.Target, e.Reason)
	}
	return fmt.Sprintf("process %q variable %q: %s", e.Process, e.Variable, e.Reason)
}

func (e *ReferenceError) Unwrap() error { return ErrUnresolvedReference }

// ConflictError reports a variable written by more than one process.
type ConflictError struct {
	Key       VarKey
	Providers []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("variable %s is provided by more than one process: %s", e.Key, strings.Join(e.Providers, ", "))
}

func (e *ConflictError) Unwrap() error { return ErrConflictingOutput }

// MissingInputError lists the required inputs that hold no value.
type MissingInputError struct {
	Keys []VarKey
}

func (e *MissingInputError) Error() string {
	names := make([]string, len(e.Keys))
	for i, k := range e.Keys {
		names[i] = k.String()
	}
	return fmt.Sprintf("missing input(s) %s: set them before running", strings.Join(names, ", "))
}

func (e *MissingInputError) Unwrap() error { return ErrMissingInput }
