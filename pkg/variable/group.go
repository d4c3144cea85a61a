package variable

import "fmt"

// Group collects the states of every variable in a model that declared
// membership in a named group. It is read-only.
type Group struct {
	name    string
	group   string
	desc    string
	members []Variable
	bound   bool
}

// NewGroup declares an aggregation over the members of group.
func NewGroup(name, group string, opts ...Option) *Group {
	o := collect(opts)
	return &Group{name: name, group: group, desc: o.description}
}

func (v *Group) Name() string   { return v.name }
func (v *Group) Kind() Kind     { return KindGroup }
func (v *Group) Intent() Intent { return IntentIn }

// Group returns the name of the aggregated group.
func (v *Group) Group() string { return v.group }

// Members returns the bound members.
func (v *Group) Members() []Variable { return v.members }

func (v *Group) Metadata() Metadata {
	return Metadata{
		Name:        v.name,
		Kind:        KindGroup,
		Intent:      IntentIn,
		Description: v.desc,
		Group:       v.group,
	}
}

func (v *Group) Validate(any) error {
	return fmt.Errorf("group %q: validate: %w", v.name, ErrUnsupported)
}

// State returns one entry per member, in model declaration order.
func (v *Group) State() (any, error) {
	if !v.bound {
		return nil, fmt.Errorf("group %q: %w", v.name, ErrNotBound)
	}
	values := make([]any, 0, len(v.members))
	for _, m := range v.members {
		s, err := m.State()
		if err != nil {
			return nil, fmt.Errorf("group %q member %q: %w", v.name, m.Name(), err)
		}
		values = append(values, s)
	}
	return values, nil
}

func (v *Group) SetState(any) error {
	return fmt.Errorf("group %q: set state: %w", v.name, ErrUnsupported)
}

func (v *Group) Bind(r Resolver) error {
	members, err := r.GroupMembers(v.group)
	if err != nil {
		return err
	}
	v.members = members
	v.bound = true
	return nil
}

func (v *Group) Clone() Variable {
	return &Group{name: v.name, group: v.group, desc: v.desc}
}
