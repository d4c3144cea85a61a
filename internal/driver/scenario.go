package driver

import (
	"errors"
	"fmt"
	"sort"

	"github.com/leapstack-labs/leapsim/pkg/model"
	"github.com/leapstack-labs/leapsim/pkg/output"
)

// Clock is a named time axis. Coords are the simulated times of its steps.
type Clock struct {
	Name   string
	Coords []float64
}

// Scenario is the input dataset of one run.
type Scenario struct {
	// ID names the scenario in run records.
	ID string
	// Clocks lists every clock; one of them is the master clock that drives
	// the time steps.
	Clocks      []Clock
	MasterClock string
	// Inputs are written once before initialize.
	Inputs map[model.VarKey]any
	// Forcing holds one value per master clock coordinate. The value at
	// coordinate i is written before the step starting at that coordinate.
	Forcing map[model.VarKey][]any
	// Outputs lists the variables to record and their clocks.
	Outputs []output.Request
}

// Validate checks the clocks and forcing of the scenario.
func (s *Scenario) Validate() error {
	var errs []error

	master, ok := s.clock(s.MasterClock)
	switch {
	case s.MasterClock == "":
		errs = append(errs, errors.New("no master clock"))
	case !ok:
		errs = append(errs, fmt.Errorf("master clock %q is not defined", s.MasterClock))
	case len(master.Coords) < 2:
		errs = append(errs, fmt.Errorf("master clock %q needs at least 2 coordinates, got %d", master.Name, len(master.Coords)))
	default:
		for i := 1; i < len(master.Coords); i++ {
			if master.Coords[i] <= master.Coords[i-1] {
				errs = append(errs, fmt.Errorf("master clock %q coordinates must be strictly increasing", master.Name))
				break
			}
		}
	}

	seen := make(map[string]bool, len(s.Clocks))
	for _, c := range s.Clocks {
		if c.Name == "" {
			errs = append(errs, errors.New("clock without a name"))
			continue
		}
		if seen[c.Name] {
			errs = append(errs, fmt.Errorf("clock %q is defined twice", c.Name))
			continue
		}
		seen[c.Name] = true
		if !ok || c.Name == master.Name {
			continue
		}
		if len(c.Coords) == 0 {
			errs = append(errs, fmt.Errorf("clock %q has no coordinates", c.Name))
		}
		for _, x := range c.Coords {
			if indexOf(master.Coords, x) < 0 {
				errs = append(errs, fmt.Errorf("clock %q coordinate %v is not on master clock %q", c.Name, x, master.Name))
				break
			}
		}
	}

	if ok {
		for _, key := range sortedKeys(s.Forcing) {
			if n := len(s.Forcing[key]); n != len(master.Coords) {
				errs = append(errs, fmt.Errorf("forcing %s has %d values, master clock %q has %d coordinates",
					key, n, master.Name, len(master.Coords)))
			}
		}
	}

	for _, req := range s.Outputs {
		if req.Clock != output.FinalClock && !seen[req.Clock] {
			errs = append(errs, fmt.Errorf("output %s uses undefined clock %q", req.Key, req.Clock))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid scenario %q: %w", s.ID, errors.Join(errs...))
	}
	return nil
}

// Steps returns the number of time steps of the master clock.
func (s *Scenario) Steps() int {
	master, ok := s.clock(s.MasterClock)
	if !ok || len(master.Coords) == 0 {
		return 0
	}
	return len(master.Coords) - 1
}

func (s *Scenario) clock(name string) (Clock, bool) {
	for _, c := range s.Clocks {
		if c.Name == name {
			return c, true
		}
	}
	return Clock{}, false
}

func (s *Scenario) clockSizes() map[string]int {
	sizes := make(map[string]int, len(s.Clocks))
	for _, c := range s.Clocks {
		sizes[c.Name] = len(c.Coords)
	}
	return sizes
}

// due returns the clocks that have a coordinate at master coordinate t.
func (s *Scenario) due(t float64) []string {
	var clocks []string
	for _, c := range s.Clocks {
		if c.Name == s.MasterClock || indexOf(c.Coords, t) >= 0 {
			clocks = append(clocks, c.Name)
		}
	}
	return clocks
}

// Clone returns a copy of the scenario with its own maps and slices.
// Values are shared.
func (s *Scenario) Clone() *Scenario {
	c := &Scenario{
		ID:          s.ID,
		MasterClock: s.MasterClock,
		Clocks:      make([]Clock, len(s.Clocks)),
		Inputs:      make(map[model.VarKey]any, len(s.Inputs)),
		Forcing:     make(map[model.VarKey][]any, len(s.Forcing)),
		Outputs:     append([]output.Request(nil), s.Outputs...),
	}
	for i, clk := range s.Clocks {
		c.Clocks[i] = Clock{Name: clk.Name, Coords: append([]float64(nil), clk.Coords...)}
	}
	for k, v := range s.Inputs {
		c.Inputs[k] = v
	}
	for k, v := range s.Forcing {
		c.Forcing[k] = append([]any(nil), v...)
	}
	return c
}

func indexOf(coords []float64, x float64) int {
	for i, c := range coords {
		if c == x {
			return i
		}
	}
	return -1
}

func sortedKeys[V any](m map[model.VarKey]V) []model.VarKey {
	keys := make([]model.VarKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}
