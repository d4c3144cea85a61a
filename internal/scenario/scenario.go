// Package scenario loads scenario files: YAML or TOML documents that
// compose a model from registered processes and describe the clocks, inputs,
// forcing and outputs of its runs.
//
// Numbers in scenario files are float64. Lists of numbers become []float64
// and rectangular nested lists become [][]float64.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/leapsim/internal/driver"
	"github.com/leapstack-labs/leapsim/internal/registry"
	"github.com/leapstack-labs/leapsim/pkg/model"
	"github.com/leapstack-labs/leapsim/pkg/output"
	"github.com/leapstack-labs/leapsim/pkg/process"
	"github.com/leapstack-labs/leapsim/pkg/variable"
)

// FinalClockName names the end-of-run clock in the outputs section.
const FinalClockName = "final"

// File is a parsed scenario file.
type File struct {
	Name        string              `yaml:"name" toml:"name"`
	Description string              `yaml:"description" toml:"description"`
	Model       []ProcessEntry      `yaml:"model" toml:"model"`
	Clocks      []ClockSpec         `yaml:"clocks" toml:"clocks"`
	MasterClock string              `yaml:"master_clock" toml:"master_clock"`
	Inputs      map[string]any      `yaml:"inputs" toml:"inputs"`
	Forcing     map[string][]any    `yaml:"forcing" toml:"forcing"`
	Outputs     map[string][]string `yaml:"outputs" toml:"outputs"`
	// Sweep runs one scenario per combination of the listed input values.
	Sweep map[string][]any `yaml:"sweep" toml:"sweep"`

	path string
}

// ProcessEntry adds a registered process to the model.
type ProcessEntry struct {
	// Name is the instance name; defaults to the process name.
	Name      string                  `yaml:"name" toml:"name"`
	Process   string                  `yaml:"process" toml:"process"`
	Overrides map[string]OverrideSpec `yaml:"overrides" toml:"overrides"`
}

// OverrideSpec replaces a variable of a process, typically an undefined
// one. Foreign and Group are exclusive; without either the override is an
// owned variable.
type OverrideSpec struct {
	Foreign     string     `yaml:"foreign" toml:"foreign"`
	Group       string     `yaml:"group" toml:"group"`
	Intent      string     `yaml:"intent" toml:"intent"`
	Dims        [][]string `yaml:"dims" toml:"dims"`
	Default     any        `yaml:"default" toml:"default"`
	Description string     `yaml:"description" toml:"description"`
	Groups      []string   `yaml:"groups" toml:"groups"`
}

// ClockSpec defines a clock by explicit coordinates or by a range.
type ClockSpec struct {
	Name   string    `yaml:"name" toml:"name"`
	Coords []float64 `yaml:"coords" toml:"coords"`
	Start  *float64  `yaml:"start" toml:"start"`
	Stop   *float64  `yaml:"stop" toml:"stop"`
	Step   *float64  `yaml:"step" toml:"step"`
}

// Load reads and parses a scenario file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	parse := Parse
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		parse = ParseTOML
	}
	f, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.path = path
	return f, nil
}

// Parse parses scenario YAML. Unknown fields are rejected.
func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty scenario")
		}
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if len(f.Model) == 0 {
		return nil, errors.New("scenario has no model")
	}
	return &f, nil
}

// ParseTOML parses a scenario in TOML. Unknown fields are rejected.
func ParseTOML(data []byte) (*File, error) {
	var f File
	md, err := toml.Decode(string(data), &f)
	if err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("invalid scenario: unknown fields %s", strings.Join(keys, ", "))
	}
	if len(f.Model) == 0 {
		return nil, errors.New("scenario has no model")
	}
	return &f, nil
}

// Path returns the file the scenario was loaded from, if any.
func (f *File) Path() string { return f.path }

// BuildModel resolves the processes of the scenario in reg and builds the
// model.
func (f *File) BuildModel(reg *registry.Registry, opts ...model.Option) (*model.Model, error) {
	names := make([]string, len(f.Model))
	for i, e := range f.Model {
		names[i] = e.Process
	}
	if _, missing := reg.ResolveAll(names); len(missing) > 0 {
		return nil, fmt.Errorf("unknown process(es): %s", strings.Join(missing, ", "))
	}

	entries := make([]model.Entry, 0, len(f.Model))
	for _, e := range f.Model {
		def, _ := reg.Resolve(e.Process)

		varNames := make([]string, 0, len(e.Overrides))
		for name := range e.Overrides {
			varNames = append(varNames, name)
		}
		sort.Strings(varNames)

		overrides := make([]process.Override, 0, len(varNames))
		for _, name := range varNames {
			v, err := e.Overrides[name].variable(name)
			if err != nil {
				return nil, fmt.Errorf("process %q: override %q: %w", e.instanceName(), name, err)
			}
			overrides = append(overrides, process.With(v))
		}
		entries = append(entries, model.Use(e.Name, def, overrides...))
	}
	return model.New(entries, opts...)
}

func (e ProcessEntry) instanceName() string {
	if e.Name != "" {
		return e.Name
	}
	return e.Process
}

func (o OverrideSpec) variable(name string) (variable.Variable, error) {
	if o.Foreign != "" && o.Group != "" {
		return nil, errors.New("foreign and group are exclusive")
	}

	intent := variable.IntentIn
	if o.Intent != "" {
		var err error
		if intent, err = variable.ParseIntent(o.Intent); err != nil {
			return nil, err
		}
	}

	var opts []variable.Option
	if o.Description != "" {
		opts = append(opts, variable.WithDescription(o.Description))
	}
	if len(o.Groups) > 0 {
		opts = append(opts, variable.InGroups(o.Groups...))
	}

	switch {
	case o.Foreign != "":
		key, err := model.ParseVarKey(o.Foreign)
		if err != nil {
			return nil, err
		}
		return variable.NewForeign(name, key.Process, key.Variable, intent, opts...), nil
	case o.Group != "":
		return variable.NewGroup(name, o.Group, opts...), nil
	}

	opts = append(opts, variable.WithIntent(intent))
	if len(o.Dims) > 0 {
		dims := make([]variable.Dims, len(o.Dims))
		for i, d := range o.Dims {
			dims[i] = variable.Dims(d)
		}
		opts = append(opts, variable.WithDims(dims...))
	}
	if o.Default != nil {
		opts = append(opts, variable.WithDefault(Normalize(o.Default)))
	}
	v := variable.NewOwned(name, opts...)
	if err := variable.Check(v); err != nil {
		return nil, err
	}
	return v, nil
}

// Scenario converts the file into a driver scenario. Sweeps are ignored;
// see Scenarios.
func (f *File) Scenario() (*driver.Scenario, error) {
	sc := &driver.Scenario{
		ID:          f.Name,
		MasterClock: f.MasterClock,
		Inputs:      make(map[model.VarKey]any, len(f.Inputs)),
		Forcing:     make(map[model.VarKey][]any, len(f.Forcing)),
	}
	if sc.ID == "" {
		sc.ID = "default"
	}

	for _, spec := range f.Clocks {
		clock, err := spec.clock()
		if err != nil {
			return nil, err
		}
		sc.Clocks = append(sc.Clocks, clock)
	}
	if sc.MasterClock == "" && len(sc.Clocks) == 1 {
		sc.MasterClock = sc.Clocks[0].Name
	}

	for name, value := range f.Inputs {
		key, err := model.ParseVarKey(name)
		if err != nil {
			return nil, fmt.Errorf("input: %w", err)
		}
		sc.Inputs[key] = Normalize(value)
	}

	for name, series := range f.Forcing {
		key, err := model.ParseVarKey(name)
		if err != nil {
			return nil, fmt.Errorf("forcing: %w", err)
		}
		values := make([]any, len(series))
		for i, v := range series {
			values[i] = Normalize(v)
		}
		sc.Forcing[key] = values
	}

	clocks := make([]string, 0, len(f.Outputs))
	for clock := range f.Outputs {
		clocks = append(clocks, clock)
	}
	sort.Strings(clocks)
	for _, clock := range clocks {
		target := clock
		if clock == FinalClockName {
			target = output.FinalClock
		}
		for _, name := range f.Outputs[clock] {
			key, err := model.ParseVarKey(name)
			if err != nil {
				return nil, fmt.Errorf("output: %w", err)
			}
			sc.Outputs = append(sc.Outputs, output.Request{Key: key, Clock: target})
		}
	}
	return sc, nil
}

// Scenarios returns the base scenario expanded over every sweep
// combination, in lexical order of the swept keys.
func (f *File) Scenarios() ([]*driver.Scenario, error) {
	base, err := f.Scenario()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(f.Sweep))
	for name := range f.Sweep {
		names = append(names, name)
	}
	sort.Strings(names)

	scenarios := []*driver.Scenario{base}
	for _, name := range names {
		key, err := model.ParseVarKey(name)
		if err != nil {
			return nil, fmt.Errorf("sweep: %w", err)
		}
		var next []*driver.Scenario
		for _, sc := range scenarios {
			next = append(next, Sweep(sc, key, f.Sweep[name])...)
		}
		scenarios = next
	}
	return scenarios, nil
}

// Sweep returns one copy of base per value, each with the value as input
// for key.
func Sweep(base *driver.Scenario, key model.VarKey, values []any) []*driver.Scenario {
	scenarios := make([]*driver.Scenario, 0, len(values))
	for _, v := range values {
		v = Normalize(v)
		sc := base.Clone()
		sc.Inputs[key] = v
		delete(sc.Forcing, key)
		sc.ID = fmt.Sprintf("%s[%s=%v]", base.ID, key, v)
		scenarios = append(scenarios, sc)
	}
	return scenarios
}

func (c ClockSpec) clock() (driver.Clock, error) {
	if c.Name == "" {
		return driver.Clock{}, errors.New("clock without a name")
	}
	hasRange := c.Start != nil || c.Stop != nil || c.Step != nil
	switch {
	case hasRange && len(c.Coords) > 0:
		return driver.Clock{}, fmt.Errorf("clock %q: coords and range are exclusive", c.Name)
	case !hasRange:
		return driver.Clock{Name: c.Name, Coords: c.Coords}, nil
	case c.Start == nil || c.Stop == nil || c.Step == nil:
		return driver.Clock{}, fmt.Errorf("clock %q: range needs start, stop and step", c.Name)
	case *c.Step <= 0 || *c.Stop < *c.Start:
		return driver.Clock{}, fmt.Errorf("clock %q: invalid range", c.Name)
	}

	n := int(math.Floor((*c.Stop-*c.Start)/(*c.Step)+1e-9)) + 1
	coords := make([]float64, n)
	for i := range coords {
		coords[i] = *c.Start + float64(i)*(*c.Step)
	}
	return driver.Clock{Name: c.Name, Coords: coords}, nil
}

// Normalize converts decoded YAML values into the types processes
// expect: numbers become float64 and numeric lists become float slices.
func Normalize(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case uint64:
		return float64(x)
	case float32:
		return float64(x)
	case []float64:
		return x
	case []any:
		items := make([]any, len(x))
		for i := range x {
			items[i] = Normalize(x[i])
		}
		return pack(items)
	default:
		return v
	}
}

func pack(items []any) any {
	if len(items) == 0 {
		return []float64{}
	}

	switch items[0].(type) {
	case float64:
		out := make([]float64, len(items))
		for i, it := range items {
			f, ok := it.(float64)
			if !ok {
				return items
			}
			out[i] = f
		}
		return out
	case []float64:
		out := make([][]float64, len(items))
		width := len(items[0].([]float64))
		for i, it := range items {
			row, ok := it.([]float64)
			if !ok || len(row) != width {
				return items
			}
			out[i] = row
		}
		return out
	}
	return items
}
