package model

import (
	"errors"
	"fmt"
	"slices"

	"github.com/leapstack-labs/leapsim/internal/dag"
	"github.com/leapstack-labs/leapsim/pkg/process"
	"github.com/leapstack-labs/leapsim/pkg/variable"
)

// target is the root descriptor a foreign reference resolves to.
type target struct {
	key VarKey
	v   variable.Variable
}

// usage collects, for one root variable, which processes write, modify and
// read it. Slices follow model declaration order.
type usage struct {
	owner      string
	ownerReads bool
	defaulted  bool
	providers  []string
	modifiers  []string
	readers    []string
}

// resolver binds the descriptors of one set of process instances. It
// implements variable.Resolver.
type resolver struct {
	procs  []*process.Process
	byName map[string]*process.Process
	byDef  map[string][]*process.Process

	roots  map[*variable.Foreign]target
	groups map[string][]variable.Variable
}

// resolved is what model construction keeps from a resolver run.
type resolved struct {
	graph     *dag.Graph
	order     []string
	providers map[VarKey]string
	inputs    []VarKey
	defaulted []VarKey
}

func newResolver(procs []*process.Process) *resolver {
	r := &resolver{
		procs:  procs,
		byName: make(map[string]*process.Process, len(procs)),
		byDef:  make(map[string][]*process.Process),
		roots:  make(map[*variable.Foreign]target),
		groups: make(map[string][]variable.Variable),
	}
	for _, p := range procs {
		r.byName[p.Name()] = p
		def := p.Definition().Name()
		r.byDef[def] = append(r.byDef[def], p)
	}
	return r
}

func (r *resolver) ResolveForeign(f *variable.Foreign) (variable.Variable, error) {
	t, ok := r.roots[f]
	if !ok {
		return nil, fmt.Errorf("foreign %q: %w", f.Name(), ErrUnresolvedReference)
	}
	return t.v, nil
}

func (r *resolver) GroupMembers(group string) ([]variable.Variable, error) {
	return append([]variable.Variable(nil), r.groups[group]...), nil
}

// component finds a process by instance name, then by a definition name
// used by exactly one instance.
func (r *resolver) component(id string) (*process.Process, string) {
	if p, ok := r.byName[id]; ok {
		return p, ""
	}
	switch candidates := r.byDef[id]; len(candidates) {
	case 0:
		return nil, "no such process"
	case 1:
		return candidates[0], ""
	default:
		names := make([]string, len(candidates))
		for i, c := range candidates {
			names[i] = c.Name()
		}
		return nil, fmt.Sprintf("process definition %q is used by several processes %v", id, names)
	}
}

// root follows a chain of foreign references to the Owned or Diagnostic
// descriptor that holds the state.
func (r *resolver) root(owner string, f *variable.Foreign) (target, error) {
	fail := func(reason string) error {
		return &ReferenceError{
			Process:  owner,
			Variable: f.Name(),
			Target:   f.Process() + "." + f.Target(),
			Reason:   reason,
		}
	}

	seen := make(map[*variable.Foreign]bool)
	cur := f
	for {
		if seen[cur] {
			return target{}, fail("foreign references form a loop")
		}
		seen[cur] = true

		p, reason := r.component(cur.Process())
		if p == nil {
			return target{}, fail(reason)
		}
		v, ok := p.Var(cur.Target())
		if !ok {
			return target{}, fail(fmt.Sprintf("process %q has no variable %q", p.Name(), cur.Target()))
		}

		switch t := v.(type) {
		case *variable.Owned, *variable.Diagnostic:
			return target{key: VarKey{Process: p.Name(), Variable: v.Name()}, v: v}, nil
		case *variable.Foreign:
			cur = t
		default:
			return target{}, fail(fmt.Sprintf("cannot reference a %s variable", v.Kind()))
		}
	}
}

// resolve binds every descriptor, checks providers and builds the process
// dependency graph and its execution order.
func (r *resolver) resolve() (*resolved, error) {
	var errs []error

	for _, p := range r.procs {
		for _, v := range p.Variables() {
			switch t := v.(type) {
			case *variable.Undefined:
				errs = append(errs, &ReferenceError{
					Process:  p.Name(),
					Variable: v.Name(),
					Reason:   "undefined variable must be overridden in the model",
				})
			case *variable.Foreign:
				root, err := r.root(p.Name(), t)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				r.roots[t] = root
			}
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	for _, p := range r.procs {
		for _, v := range p.Variables() {
			switch t := v.(type) {
			case *variable.Owned:
				for _, g := range t.Groups() {
					r.groups[g] = append(r.groups[g], v)
				}
			case *variable.Foreign:
				for _, g := range t.Groups() {
					r.groups[g] = append(r.groups[g], v)
				}
			}
		}
	}

	for _, p := range r.procs {
		for _, v := range p.Variables() {
			if err := v.Bind(r); err != nil {
				return nil, fmt.Errorf("failed to bind %s.%s: %w", p.Name(), v.Name(), err)
			}
		}
	}

	uses, keys := r.usages()

	providers := make(map[VarKey]string)
	for _, key := range keys {
		u := uses[key]
		if len(u.providers) > 1 {
			errs = append(errs, &ConflictError{Key: key, Providers: u.providers})
			continue
		}
		if len(u.providers) == 1 {
			providers[key] = u.providers[0]
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	graph := dag.NewGraph()
	for _, p := range r.procs {
		graph.AddNode(p.Name(), p)
	}
	for _, key := range keys {
		addEdges(graph, uses[key])
	}

	order, err := graph.TopologicalSort()
	if err != nil {
		return nil, err
	}

	res := &resolved{graph: graph, order: order, providers: providers}
	for _, key := range keys {
		u := uses[key]
		if !u.ownerReads || len(u.providers) > 0 {
			continue
		}
		if u.defaulted {
			res.defaulted = append(res.defaulted, key)
		} else {
			res.inputs = append(res.inputs, key)
		}
	}
	return res, nil
}

// usages indexes every root variable of the model. keys lists them in
// declaration order.
func (r *resolver) usages() (map[VarKey]*usage, []VarKey) {
	uses := make(map[VarKey]*usage)
	var keys []VarKey
	use := func(key VarKey) *usage {
		u, ok := uses[key]
		if !ok {
			u = &usage{owner: key.Process}
			uses[key] = u
			keys = append(keys, key)
		}
		return u
	}
	keyOf := func(v variable.Variable, owner string) (VarKey, bool) {
		switch t := v.(type) {
		case *variable.Foreign:
			root, ok := r.roots[t]
			return root.key, ok
		case *variable.Owned, *variable.Diagnostic:
			return VarKey{Process: owner, Variable: v.Name()}, true
		}
		return VarKey{}, false
	}

	for _, p := range r.procs {
		name := p.Name()
		for _, v := range p.Variables() {
			switch t := v.(type) {
			case *variable.Owned:
				u := use(VarKey{Process: name, Variable: t.Name()})
				switch t.Intent() {
				case variable.IntentOut:
					u.providers = append(u.providers, name)
				case variable.IntentInOut:
					u.modifiers = append(u.modifiers, name)
					u.ownerReads = true
				default:
					u.ownerReads = true
				}
				u.defaulted = t.HasDefault()
			case *variable.Diagnostic:
				u := use(VarKey{Process: name, Variable: t.Name()})
				u.providers = append(u.providers, name)
			case *variable.Foreign:
				u := use(r.roots[t].key)
				switch t.Intent() {
				case variable.IntentOut:
					u.providers = append(u.providers, name)
				case variable.IntentInOut:
					u.modifiers = append(u.modifiers, name)
				default:
					u.readers = append(u.readers, name)
				}
			case *variable.Group:
				for _, member := range t.Members() {
					owner := ""
					if o, ok := member.(*variable.Owned); ok {
						owner = r.ownerOf(o)
					}
					if key, ok := keyOf(member, owner); ok {
						u := use(key)
						u.readers = append(u.readers, name)
					}
				}
			}
		}
	}

	// An owned input written by a foreign output is read by its owner.
	for _, key := range keys {
		u := uses[key]
		if len(u.providers) == 1 && u.providers[0] != u.owner && u.ownerReads && !slices.Contains(u.modifiers, u.owner) {
			u.readers = append(u.readers, u.owner)
		}
	}
	return uses, keys
}

func (r *resolver) ownerOf(v *variable.Owned) string {
	for _, p := range r.procs {
		if pv, ok := p.Var(v.Name()); ok && pv == variable.Variable(v) {
			return p.Name()
		}
	}
	return ""
}

// addEdges links the writers of one variable to each other and to its
// readers: provider before modifiers, modifiers in declaration order, and
// all of them before every reader.
func addEdges(g *dag.Graph, u *usage) {
	link := func(from, to string) {
		if from != to {
			_ = g.AddEdge(from, to)
		}
	}

	writers := append([]string(nil), u.providers...)
	for _, m := range u.modifiers {
		for _, w := range writers {
			link(w, m)
		}
		writers = append(writers, m)
	}
	for _, reader := range u.readers {
		for _, w := range writers {
			link(w, reader)
		}
	}
}
