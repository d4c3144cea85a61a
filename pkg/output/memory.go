package output

import (
	"context"
	"fmt"
	"sync"
)

// MemoryArray is an array held by a MemoryBackend.
type MemoryArray struct {
	Spec ArraySpec
	// Slots holds one value per clock step. Unwritten slots hold the fill
	// value.
	Slots []any
	// Value holds arrays written without a clock.
	Value any
}

// MemoryRun is a run held by a MemoryBackend.
type MemoryRun struct {
	Info   RunInfo
	Status RunStatus
	Error  string
	arrays map[string]*MemoryArray
	names  []string
}

// MemoryBackend keeps runs and arrays in memory. It is the default backend
// when no store is configured.
type MemoryBackend struct {
	mu   sync.RWMutex
	runs map[string]*MemoryRun
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{runs: make(map[string]*MemoryRun)}
}

// StartRun implements Backend.
func (b *MemoryBackend) StartRun(_ context.Context, run RunInfo) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.runs[run.ID]; exists {
		return fmt.Errorf("run %q already exists", run.ID)
	}
	b.runs[run.ID] = &MemoryRun{
		Info:   run,
		Status: RunStatusRunning,
		arrays: make(map[string]*MemoryArray),
	}
	return nil
}

// CreateArray implements Backend.
func (b *MemoryBackend) CreateArray(_ context.Context, runID string, spec ArraySpec) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	run, ok := b.runs[runID]
	if !ok {
		return fmt.Errorf("%q: %w", runID, ErrUnknownRun)
	}
	if _, exists := run.arrays[spec.Name]; exists {
		return fmt.Errorf("array %q already exists in run %q", spec.Name, runID)
	}

	arr := &MemoryArray{Spec: spec}
	if spec.Clock != FinalClock && len(spec.Shape) > 0 {
		arr.Slots = make([]any, spec.Shape[0])
		for i := range arr.Slots {
			arr.Slots[i] = spec.FillValue
		}
	}
	run.arrays[spec.Name] = arr
	run.names = append(run.names, spec.Name)
	return nil
}

// WriteSlot implements Backend.
func (b *MemoryBackend) WriteSlot(_ context.Context, runID, name string, index int, value any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	run, ok := b.runs[runID]
	if !ok {
		return fmt.Errorf("%q: %w", runID, ErrUnknownRun)
	}
	arr, ok := run.arrays[name]
	if !ok {
		return fmt.Errorf("%q: %w", name, ErrUnknownArray)
	}

	if index < 0 {
		arr.Value = value
		return nil
	}
	if index >= len(arr.Slots) {
		return fmt.Errorf("array %q: index %d out of range [0, %d)", name, index, len(arr.Slots))
	}
	arr.Slots[index] = value
	return nil
}

// CompleteRun implements Backend.
func (b *MemoryBackend) CompleteRun(_ context.Context, runID string, status RunStatus, runErr error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	run, ok := b.runs[runID]
	if !ok {
		return fmt.Errorf("%q: %w", runID, ErrUnknownRun)
	}
	run.Status = status
	if runErr != nil {
		run.Error = runErr.Error()
	}
	return nil
}

// Close implements Backend.
func (b *MemoryBackend) Close() error { return nil }

// Run returns a snapshot of a run without its arrays.
func (b *MemoryBackend) Run(runID string) (MemoryRun, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	run, ok := b.runs[runID]
	if !ok {
		return MemoryRun{}, false
	}
	return MemoryRun{Info: run.Info, Status: run.Status, Error: run.Error}, true
}

// Array returns a copy of an array of a run.
func (b *MemoryBackend) Array(runID, name string) (MemoryArray, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	run, ok := b.runs[runID]
	if !ok {
		return MemoryArray{}, false
	}
	arr, ok := run.arrays[name]
	if !ok {
		return MemoryArray{}, false
	}
	return MemoryArray{
		Spec:  arr.Spec,
		Slots: append([]any(nil), arr.Slots...),
		Value: arr.Value,
	}, true
}

// ArrayNames returns the arrays of a run in creation order.
func (b *MemoryBackend) ArrayNames(runID string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	run, ok := b.runs[runID]
	if !ok {
		return nil
	}
	return append([]string(nil), run.names...)
}
