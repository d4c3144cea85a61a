package output

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/leapstack-labs/leapsim/pkg/model"
	"github.com/leapstack-labs/leapsim/pkg/variable"
)

// WriterConfig holds writer configuration.
type WriterConfig struct {
	Model   *model.Model
	Backend Backend
	RunID   string
	// Requests lists the variables to write; each variable at most once.
	Requests []Request
	// ClockSizes is the number of steps of every clock used by Requests.
	ClockSizes map[string]int
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// Writer writes model state to a backend for one run. It is not safe for
// concurrent use.
type Writer struct {
	model   *model.Model
	backend Backend
	runID   string
	logger  *slog.Logger

	clocks  []string
	byClock map[string][]model.VarKey
	sizes   map[string]int
	incs    map[string]int
	arrays  map[model.VarKey]ArraySpec
	inputs  []ArraySpec
}

// NewWriter validates the requests against the model and clocks.
func NewWriter(cfg WriterConfig) (*Writer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Model == nil || cfg.Backend == nil {
		return nil, errors.New("output writer needs a model and a backend")
	}

	w := &Writer{
		model:   cfg.Model,
		backend: cfg.Backend,
		runID:   cfg.RunID,
		logger:  logger,
		byClock: make(map[string][]model.VarKey),
		sizes:   make(map[string]int),
		incs:    make(map[string]int),
		arrays:  make(map[model.VarKey]ArraySpec),
	}

	seen := make(map[model.VarKey]string)
	for _, req := range cfg.Requests {
		v, ok := cfg.Model.Lookup(req.Key)
		if !ok {
			return nil, fmt.Errorf("output %s: %w", req.Key, model.ErrUnknownVariable)
		}
		if v.Kind() == variable.KindGroup {
			return nil, fmt.Errorf("output %s: group outputs are not stored: %w", req.Key, variable.ErrUnsupported)
		}
		if clock, dup := seen[req.Key]; dup {
			return nil, fmt.Errorf("output %s is requested on clocks %q and %q", req.Key, clock, req.Clock)
		}
		seen[req.Key] = req.Clock

		if req.Clock != FinalClock {
			size, ok := cfg.ClockSizes[req.Clock]
			if !ok {
				return nil, fmt.Errorf("output %s: unknown clock %q", req.Key, req.Clock)
			}
			w.sizes[req.Clock] = size
		}
		if _, ok := w.byClock[req.Clock]; !ok {
			w.clocks = append(w.clocks, req.Clock)
		}
		w.byClock[req.Clock] = append(w.byClock[req.Clock], req.Key)
	}
	return w, nil
}

// Clocks returns the clocks that have output requests, the final clock
// included, in request order.
func (w *Writer) Clocks() []string {
	return append([]string(nil), w.clocks...)
}

// Arrays returns the specs of every array created so far.
func (w *Writer) Arrays() []ArraySpec {
	specs := make([]ArraySpec, 0, len(w.arrays))
	for _, clock := range w.clocks {
		for _, key := range w.byClock[clock] {
			if spec, ok := w.arrays[key]; ok {
				specs = append(specs, spec)
			}
		}
	}
	return specs
}

// InputArrays returns the specs of the arrays written by WriteInputs.
func (w *Writer) InputArrays() []ArraySpec {
	return append([]ArraySpec(nil), w.inputs...)
}

// WriteInputs stores the values a run starts from next to its outputs, so
// a stored run can be reproduced. Values are written whole; each forcing
// series becomes an array along clock and replaces a value of the same key.
// Inputs that are also requested as outputs are left to the output arrays,
// and nil values are skipped.
func (w *Writer) WriteInputs(ctx context.Context, values map[model.VarKey]any, forcing map[model.VarKey][]any, clock string) error {
	outputs := make(map[string]bool)
	for _, keys := range w.byClock {
		for _, key := range keys {
			outputs[ArrayName(key)] = true
		}
	}

	for _, key := range sortedKeys(values) {
		value := values[key]
		if _, forced := forcing[key]; forced || value == nil || outputs[ArrayName(key)] {
			continue
		}
		if err := w.writeInput(ctx, key, FinalClock, []any{value}); err != nil {
			return err
		}
	}
	for _, key := range sortedKeys(forcing) {
		series := forcing[key]
		if len(series) == 0 || series[0] == nil || outputs[ArrayName(key)] {
			continue
		}
		if err := w.writeInput(ctx, key, clock, series); err != nil {
			return err
		}
	}

	w.logger.Debug("wrote inputs", "run_id", w.runID, "arrays", len(w.inputs))
	return nil
}

// writeInput creates the array of one input. slots holds a single value
// for FinalClock.
func (w *Writer) writeInput(ctx context.Context, key model.VarKey, clock string, slots []any) error {
	v, ok := w.model.Lookup(key)
	if !ok {
		return fmt.Errorf("input %s: %w", key, model.ErrUnknownVariable)
	}
	shape, err := variable.Shape(slots[0])
	if err != nil {
		return fmt.Errorf("input %s: %w", key, err)
	}

	spec, err := w.newSpec(key, v.Metadata(), clock, slots[0], shape, len(slots))
	if err != nil {
		return err
	}
	spec.Attrs["input"] = true
	if err := w.backend.CreateArray(ctx, w.runID, spec); err != nil {
		return fmt.Errorf("failed to create array %s: %w", spec.Name, err)
	}

	if clock == FinalClock {
		if err := w.backend.WriteSlot(ctx, w.runID, spec.Name, -1, variable.Copy(slots[0])); err != nil {
			return fmt.Errorf("failed to write array %s: %w", spec.Name, err)
		}
	} else {
		for i, value := range slots {
			if err := w.backend.WriteSlot(ctx, w.runID, spec.Name, i, variable.Copy(value)); err != nil {
				return fmt.Errorf("failed to write array %s: %w", spec.Name, err)
			}
		}
	}
	w.inputs = append(w.inputs, spec)
	return nil
}

func sortedKeys[V any](m map[model.VarKey]V) []model.VarKey {
	keys := make([]model.VarKey, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Process != keys[j].Process {
			return keys[i].Process < keys[j].Process
		}
		return keys[i].Variable < keys[j].Variable
	})
	return keys
}

// WriteStep writes the variables of every due clock at that clock's next
// slot. step is the master clock step and is only used for reporting.
func (w *Writer) WriteStep(ctx context.Context, step int, due []string) error {
	isDue := make(map[string]bool, len(due))
	for _, c := range due {
		isDue[c] = true
	}

	for _, clock := range w.clocks {
		if clock == FinalClock || !isDue[clock] {
			continue
		}
		inc := w.incs[clock]
		if inc >= w.sizes[clock] {
			return fmt.Errorf("step %d: clock %q: %w", step, clock, ErrClockFull)
		}
		for _, key := range w.byClock[clock] {
			if err := w.write(ctx, key, clock, inc); err != nil {
				return fmt.Errorf("step %d: %w", step, err)
			}
		}
		w.incs[clock] = inc + 1
	}

	w.logger.Debug("wrote outputs", "run_id", w.runID, "step", step, "clocks", due)
	return nil
}

// WriteFinal writes the variables that have no clock.
func (w *Writer) WriteFinal(ctx context.Context) error {
	for _, key := range w.byClock[FinalClock] {
		if err := w.write(ctx, key, FinalClock, -1); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) write(ctx context.Context, key model.VarKey, clock string, index int) error {
	v, ok := w.model.Lookup(key)
	if !ok {
		return fmt.Errorf("output %s: %w", key, model.ErrUnknownVariable)
	}
	value, err := v.State()
	if err != nil {
		return fmt.Errorf("output %s: %w", key, err)
	}
	shape, err := variable.Shape(value)
	if err != nil {
		return fmt.Errorf("output %s: %w", key, err)
	}

	spec, created := w.arrays[key]
	if !created {
		spec, err = w.newSpec(key, v.Metadata(), clock, value, shape, w.sizes[clock])
		if err != nil {
			return err
		}
		if err := w.backend.CreateArray(ctx, w.runID, spec); err != nil {
			return fmt.Errorf("failed to create array %s: %w", spec.Name, err)
		}
		w.arrays[key] = spec
	}

	want := spec.Shape
	if clock != FinalClock {
		want = want[1:]
	}
	if !slices.Equal(shape, want) {
		return fmt.Errorf("output %s: %w: got %v, want %v", key, ErrShape, shape, want)
	}

	if err := w.backend.WriteSlot(ctx, w.runID, spec.Name, index, variable.Copy(value)); err != nil {
		return fmt.Errorf("failed to write array %s: %w", spec.Name, err)
	}
	return nil
}

func (w *Writer) newSpec(key model.VarKey, md variable.Metadata, clock string, value any, shape []int, size int) (ArraySpec, error) {
	name := ArrayName(key)
	dims, ok := variable.MatchDims(md.Dims, len(shape))
	if !ok {
		return ArraySpec{}, fmt.Errorf("output array of %d dimension(s) for variable %q doesn't match any of its accepted dimensions %v",
			len(shape), name, md.Dims)
	}

	labels := append([]string(nil), dims...)
	fullShape := append([]int(nil), shape...)
	if clock != FinalClock {
		labels = append([]string{clock}, labels...)
		fullShape = append([]int{size}, fullShape...)
	}

	attrs := make(map[string]any, len(md.Attrs)+1)
	if md.Description != "" {
		attrs["description"] = md.Description
	}
	for k, v := range md.Attrs {
		attrs[k] = v
	}

	dtype := InferDType(value)
	return ArraySpec{
		Name:      name,
		Key:       key,
		Clock:     clock,
		Dims:      labels,
		Shape:     fullShape,
		DType:     dtype,
		FillValue: FillValue(dtype),
		Attrs:     attrs,
	}, nil
}
