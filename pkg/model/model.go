// Package model binds process instances into a simulation model.
//
// Construction resolves every foreign and group reference, checks that
// each variable has at most one provider, builds the process dependency
// graph and computes a deterministic execution order. Any of these
// failures aborts construction, so a *Model is always ready to run.
// The structure of a Model never changes: With and Without return new
// models.
package model

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapsim/internal/dag"
	"github.com/leapstack-labs/leapsim/pkg/process"
	"github.com/leapstack-labs/leapsim/pkg/variable"
)

// VarKey identifies a variable within a model.
type VarKey struct {
	Process  string
	Variable string
}

func (k VarKey) String() string {
	return k.Process + "." + k.Variable
}

// ParseVarKey parses "process.variable".
func ParseVarKey(s string) (VarKey, error) {
	proc, name, ok := strings.Cut(s, ".")
	if !ok || proc == "" || name == "" {
		return VarKey{}, fmt.Errorf("invalid variable key %q: expected process.variable", s)
	}
	return VarKey{Process: proc, Variable: name}, nil
}

// Entry is one process of a model under construction.
type Entry struct {
	name string
	proc *process.Process
	err  error
}

// Use instantiates def under name. An empty name uses the definition name.
func Use(name string, def *process.Definition, overrides ...process.Override) Entry {
	if def == nil {
		return Entry{name: name, err: fmt.Errorf("process %q: nil definition", name)}
	}
	p, err := def.New(name, overrides...)
	if err != nil {
		return Entry{name: name, err: err}
	}
	return Entry{name: p.Name(), proc: p}
}

// Instance adds a copy of an existing process instance. The model never
// shares state with p; use Model.Process to reach the copy.
func Instance(p *process.Process) Entry {
	if p == nil {
		return Entry{err: errors.New("nil process")}
	}
	return Entry{name: p.Name(), proc: p.Clone()}
}

// Name returns the process name of the entry.
func (e Entry) Name() string { return e.name }

// Option configures a Model.
type Option func(*Model)

// WithLogger sets the structured logger. Models log to a discard handler
// by default.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Model) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Model is an ordered, immutable set of bound process instances.
type Model struct {
	processes []*process.Process
	index     map[string]int

	graph     *dag.Graph
	order     []string
	levels    [][]string
	providers map[VarKey]string
	inputs    []VarKey
	defaulted []VarKey

	logger *slog.Logger
}

// New builds a model from entries, in declaration order.
func New(entries []Entry, opts ...Option) (*Model, error) {
	var errs []error
	procs := make([]*process.Process, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.err != nil {
			errs = append(errs, e.err)
			continue
		}
		if seen[e.name] {
			errs = append(errs, fmt.Errorf("duplicate process name %q", e.name))
			continue
		}
		seen[e.name] = true
		procs = append(procs, e.proc)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid model: %w", errors.Join(errs...))
	}

	m := &Model{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.build(procs); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Model) build(procs []*process.Process) error {
	m.processes = procs
	m.index = make(map[string]int, len(procs))
	for i, p := range procs {
		m.index[p.Name()] = i
	}

	res, err := newResolver(procs).resolve()
	if err != nil {
		return fmt.Errorf("failed to build model: %w", err)
	}
	levels, err := res.graph.ExecutionLevels()
	if err != nil {
		return fmt.Errorf("failed to build model: %w", err)
	}

	m.graph = res.graph
	m.order = res.order
	m.levels = levels
	m.providers = res.providers
	m.inputs = res.inputs
	m.defaulted = res.defaulted

	m.logger.Debug("model built",
		"processes", len(procs),
		"edges", m.graph.EdgeCount(),
		"order", m.order,
		"inputs", len(m.inputs))
	return nil
}

// Order returns process names in execution order. Every stage uses this
// order.
func (m *Model) Order() []string {
	return append([]string(nil), m.order...)
}

// StageOrder returns the processes that run during stage, in execution
// order.
func (m *Model) StageOrder(stage process.Stage) []string {
	var names []string
	for _, name := range m.order {
		if m.processes[m.index[name]].HasHook(stage) {
			names = append(names, name)
		}
	}
	return names
}

// Levels groups processes so each level only depends on earlier levels.
func (m *Model) Levels() [][]string {
	levels := make([][]string, len(m.levels))
	for i, l := range m.levels {
		levels[i] = append([]string(nil), l...)
	}
	return levels
}

// Dependencies returns the processes name directly depends on.
func (m *Model) Dependencies(name string) []string {
	return m.graph.Parents(name)
}

// Dependents returns the processes that directly depend on name.
func (m *Model) Dependents(name string) []string {
	return m.graph.Children(name)
}

// Processes returns the process instances in declaration order.
func (m *Model) Processes() []*process.Process {
	return append([]*process.Process(nil), m.processes...)
}

// Names returns process names in declaration order.
func (m *Model) Names() []string {
	names := make([]string, len(m.processes))
	for i, p := range m.processes {
		names[i] = p.Name()
	}
	return names
}

// Process returns the instance named name.
func (m *Model) Process(name string) (*process.Process, bool) {
	i, ok := m.index[name]
	if !ok {
		return nil, false
	}
	return m.processes[i], true
}

// Lookup returns the descriptor for key.
func (m *Model) Lookup(key VarKey) (variable.Variable, bool) {
	p, ok := m.Process(key.Process)
	if !ok {
		return nil, false
	}
	return p.Var(key.Variable)
}

// Keys returns every variable of the model in declaration order.
func (m *Model) Keys() []VarKey {
	var keys []VarKey
	for _, p := range m.processes {
		for _, v := range p.Variables() {
			keys = append(keys, VarKey{Process: p.Name(), Variable: v.Name()})
		}
	}
	return keys
}

// Provider returns the process that writes the variable held at key, if
// any. key must name an Owned or Diagnostic variable.
func (m *Model) Provider(key VarKey) (string, bool) {
	p, ok := m.providers[key]
	return p, ok
}

// InputVars returns the owned inputs that have no provider and no default.
// They must be set with UpdateVars before running.
func (m *Model) InputVars() []VarKey {
	return append([]VarKey(nil), m.inputs...)
}

// MissingInputs returns the InputVars that are not optional and still
// hold no value.
func (m *Model) MissingInputs() []VarKey {
	var missing []VarKey
	for _, key := range m.inputs {
		v, ok := m.Lookup(key)
		if !ok {
			missing = append(missing, key)
			continue
		}
		o, ok := v.(*variable.Owned)
		if !ok || o.Metadata().Optional || o.IsSet() {
			continue
		}
		missing = append(missing, key)
	}
	return missing
}

// CheckInputs returns a *MissingInputError when MissingInputs is not empty.
func (m *Model) CheckInputs() error {
	if missing := m.MissingInputs(); len(missing) > 0 {
		return &MissingInputError{Keys: missing}
	}
	return nil
}

// DefaultedInputVars returns the owned inputs that have no provider but
// fall back to a default value.
func (m *Model) DefaultedInputVars() []VarKey {
	return append([]VarKey(nil), m.defaulted...)
}

// State reads the current value of a variable.
func (m *Model) State(key VarKey) (any, error) {
	v, ok := m.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrUnknownVariable)
	}
	return v.State()
}

// UpdateVars validates every value and then writes them all. If any key is
// unknown or any value is invalid nothing is written.
func (m *Model) UpdateVars(values map[VarKey]any) error {
	keys := make([]VarKey, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Process != keys[j].Process {
			return keys[i].Process < keys[j].Process
		}
		return keys[i].Variable < keys[j].Variable
	})

	targets := make([]variable.Variable, len(keys))
	for i, key := range keys {
		v, ok := m.Lookup(key)
		if !ok {
			return fmt.Errorf("%s: %w", key, ErrUnknownVariable)
		}
		if kind := writableKind(v); kind != variable.KindOwned {
			return fmt.Errorf("%s: cannot set a %s variable: %w", key, kind, variable.ErrUnsupported)
		}
		if err := v.Validate(values[key]); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		targets[i] = v
	}

	for i, key := range keys {
		if err := targets[i].SetState(variable.Copy(values[key])); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	m.logger.Debug("variables updated", "count", len(keys))
	return nil
}

// writableKind returns the kind of the variable a write to v lands on.
// Foreign references are followed to their root.
func writableKind(v variable.Variable) variable.Kind {
	if f, ok := v.(*variable.Foreign); ok && f.Ref() != nil {
		return writableKind(f.Ref())
	}
	return v.Kind()
}

// ExecuteStage runs the stage hook of every process in execution order.
// Processes without the hook, or not time-dependent for run_step and
// finalize_step, are skipped. The first failing hook aborts the stage and
// leaves the model state undefined for the current run.
func (m *Model) ExecuteStage(stage process.Stage, dt float64) error {
	if err := m.checkOrder(); err != nil {
		return err
	}
	m.logger.Debug("executing stage", "stage", stage.String(), "dt", dt)
	for _, name := range m.order {
		p := m.processes[m.index[name]]
		if !p.HasHook(stage) {
			continue
		}
		if err := p.Run(stage, dt); err != nil {
			return fmt.Errorf("stage %s: process %q: %w", stage, name, err)
		}
	}
	return nil
}

// checkOrder verifies the cached order against the graph.
func (m *Model) checkOrder() error {
	if len(m.order) != len(m.processes) {
		return fmt.Errorf("%w: %d processes, %d ordered", ErrCorruptOrder, len(m.processes), len(m.order))
	}
	pos := make(map[string]int, len(m.order))
	for i, name := range m.order {
		pos[name] = i
	}
	for _, parent := range m.order {
		for _, child := range m.graph.Children(parent) {
			if pos[parent] >= pos[child] {
				return fmt.Errorf("%w: %s runs after %s", ErrCorruptOrder, parent, child)
			}
		}
	}
	return nil
}

// Clone returns a structurally identical model whose processes hold deep
// copies of the current state.
func (m *Model) Clone() *Model {
	procs := make([]*process.Process, len(m.processes))
	for i, p := range m.processes {
		procs[i] = p.Clone()
	}
	c := &Model{logger: m.logger}
	if err := c.build(procs); err != nil {
		// m was built from the same structure.
		panic(fmt.Sprintf("model: clone failed: %v", err))
	}
	return c
}

// With returns a new model where entries replace processes of the same
// name and other entries are appended. The receiver is unchanged.
func (m *Model) With(entries ...Entry) (*Model, error) {
	next := make([]Entry, 0, len(m.processes)+len(entries))
	pos := make(map[string]int, len(m.processes))
	for _, p := range m.processes {
		pos[p.Name()] = len(next)
		next = append(next, Entry{name: p.Name(), proc: p.Clone()})
	}
	for _, e := range entries {
		if i, ok := pos[e.name]; ok && e.err == nil {
			next[i] = e
			continue
		}
		next = append(next, e)
	}
	return New(next, WithLogger(m.logger))
}

// Without returns a new model without the named processes.
func (m *Model) Without(names ...string) (*Model, error) {
	drop := make(map[string]bool, len(names))
	for _, name := range names {
		if _, ok := m.index[name]; !ok {
			return nil, fmt.Errorf("%q: %w", name, ErrUnknownProcess)
		}
		drop[name] = true
	}

	var next []Entry
	for _, p := range m.processes {
		if !drop[p.Name()] {
			next = append(next, Entry{name: p.Name(), proc: p.Clone()})
		}
	}
	return New(next, WithLogger(m.logger))
}
