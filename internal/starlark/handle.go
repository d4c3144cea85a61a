package starlark

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"

	"github.com/leapstack-labs/leapsim/pkg/process"
)

// handle exposes a process instance to hook and diagnostic functions:
//
//	p.name          instance name
//	p.get("x")      current value of variable x
//	p.set("x", v)   validate and write v to x
//	p.vars          variable names in declaration order
type handle struct {
	p *process.Process
}

var (
	_ starlark.Value    = (*handle)(nil)
	_ starlark.HasAttrs = (*handle)(nil)
)

func newHandle(p *process.Process) *handle { return &handle{p: p} }

func (h *handle) String() string        { return fmt.Sprintf("<process %s>", h.p.Name()) }
func (h *handle) Type() string          { return "process" }
func (h *handle) Freeze()               {}
func (h *handle) Truth() starlark.Bool  { return starlark.True }
func (h *handle) Hash() (uint32, error) { return starlark.String(h.p.Name()).Hash() }

var handleAttrs = []string{"get", "name", "set", "vars"}

func (h *handle) AttrNames() []string {
	names := append([]string(nil), handleAttrs...)
	sort.Strings(names)
	return names
}

func (h *handle) Attr(name string) (starlark.Value, error) {
	switch name {
	case "name":
		return starlark.String(h.p.Name()), nil
	case "vars":
		vars := h.p.Variables()
		names := make([]starlark.Value, len(vars))
		for i, v := range vars {
			names[i] = starlark.String(v.Name())
		}
		return starlark.NewList(names), nil
	case "get":
		return starlark.NewBuiltin("get", h.get), nil
	case "set":
		return starlark.NewBuiltin("set", h.set), nil
	}
	return nil, nil
}

func (h *handle) get(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	value, err := h.p.Get(name)
	if err != nil {
		return nil, err
	}
	return GoToStarlark(value)
}

func (h *handle) set(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var value starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &name, &value); err != nil {
		return nil, err
	}
	goValue, err := ToGo(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	if err := h.p.Set(name, goValue); err != nil {
		return nil, err
	}
	return starlark.None, nil
}
