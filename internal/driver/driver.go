// Package driver runs models across simulated time.
//
// A run applies the scenario inputs and fails if a required input still
// holds no value. The inputs are stored next to the outputs. The run then
// executes the initialize stage, one run_step and finalize_step per master
// clock interval, and finally the finalize stage. Outputs are handed to an
// output.Backend after every step for each clock that has a coordinate at
// that time.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/leapsim/pkg/model"
	"github.com/leapstack-labs/leapsim/pkg/output"
	"github.com/leapstack-labs/leapsim/pkg/process"
)

// Config holds driver configuration.
type Config struct {
	// Backend receives run records and output arrays (optional, uses an
	// in-memory backend if nil)
	Backend output.Backend
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// Driver executes scenarios against models.
type Driver struct {
	backend output.Backend
	logger  *slog.Logger
}

// Result describes a finished run.
type Result struct {
	RunID    string
	Scenario string
	Status   output.RunStatus
	// Steps is the number of completed master clock steps.
	Steps  int
	Arrays []output.ArraySpec
	// Inputs are the arrays holding the scenario inputs and forcing.
	Inputs   []output.ArraySpec
	Duration time.Duration
	// Model is the model the run executed on, in its final state.
	Model *model.Model
}

// New creates a driver.
func New(cfg Config) *Driver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	backend := cfg.Backend
	if backend == nil {
		backend = output.NewMemoryBackend()
	}
	return &Driver{backend: backend, logger: logger}
}

// Run executes one scenario on m. The model is mutated; use a clone to
// keep a template untouched. Cancellation is checked between steps only.
// A run that fails after it started still returns its Result.
func (d *Driver) Run(ctx context.Context, m *model.Model, sc *Scenario) (*Result, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	res := &Result{
		RunID:    uuid.NewString(),
		Scenario: sc.ID,
		Model:    m,
	}

	deps := make(map[string][]string)
	for _, name := range m.Order() {
		if parents := m.Dependencies(name); len(parents) > 0 {
			deps[name] = parents
		}
	}

	d.logger.Info("starting run", "run_id", res.RunID, "scenario", sc.ID, "steps", sc.Steps())

	if err := d.backend.StartRun(ctx, output.RunInfo{
		ID:           res.RunID,
		Scenario:     sc.ID,
		Order:        m.Order(),
		Dependencies: deps,
		StartedAt:    start,
	}); err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}

	w, err := output.NewWriter(output.WriterConfig{
		Model:      m,
		Backend:    d.backend,
		RunID:      res.RunID,
		Requests:   sc.Outputs,
		ClockSizes: sc.clockSizes(),
		Logger:     d.logger,
	})
	runErr := err
	if runErr == nil {
		runErr = d.execute(ctx, m, sc, w, res)
		res.Arrays = w.Arrays()
		res.Inputs = w.InputArrays()
	}

	res.Duration = time.Since(start)
	switch {
	case runErr == nil:
		res.Status = output.RunStatusCompleted
		d.logger.Info("run completed", "run_id", res.RunID, "duration", res.Duration)
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		res.Status = output.RunStatusCancelled
		d.logger.Info("run cancelled", "run_id", res.RunID, "steps", res.Steps)
	default:
		res.Status = output.RunStatusFailed
		d.logger.Info("run failed", "run_id", res.RunID, "error", runErr.Error())
	}

	// record the outcome even when ctx is already cancelled
	if err := d.backend.CompleteRun(context.WithoutCancel(ctx), res.RunID, res.Status, runErr); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("failed to complete run: %w", err))
	}
	return res, runErr
}

func (d *Driver) execute(ctx context.Context, m *model.Model, sc *Scenario, w *output.Writer, res *Result) error {
	master, _ := sc.clock(sc.MasterClock)
	coords := master.Coords

	initial := make(map[model.VarKey]any, len(sc.Inputs)+len(sc.Forcing))
	for k, v := range sc.Inputs {
		initial[k] = v
	}
	for k, v := range forcingAt(sc, 0) {
		initial[k] = v
	}
	if err := m.UpdateVars(initial); err != nil {
		return fmt.Errorf("failed to set inputs: %w", err)
	}
	if err := m.CheckInputs(); err != nil {
		return err
	}
	if err := w.WriteInputs(ctx, sc.Inputs, sc.Forcing, sc.MasterClock); err != nil {
		return err
	}

	if err := m.ExecuteStage(process.StageInitialize, 0); err != nil {
		return err
	}
	if err := w.WriteStep(ctx, 0, sc.due(coords[0])); err != nil {
		return err
	}

	for i := 0; i < len(coords)-1; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 && len(sc.Forcing) > 0 {
			if err := m.UpdateVars(forcingAt(sc, i)); err != nil {
				return fmt.Errorf("step %d: failed to set forcing: %w", i, err)
			}
		}

		dt := coords[i+1] - coords[i]
		if err := m.ExecuteStage(process.StageRunStep, dt); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		if err := m.ExecuteStage(process.StageFinalizeStep, dt); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		res.Steps = i + 1

		if err := w.WriteStep(ctx, i+1, sc.due(coords[i+1])); err != nil {
			return err
		}
	}

	if err := m.ExecuteStage(process.StageFinalize, 0); err != nil {
		return err
	}
	return w.WriteFinal(ctx)
}

func forcingAt(sc *Scenario, i int) map[model.VarKey]any {
	values := make(map[model.VarKey]any, len(sc.Forcing))
	for k, series := range sc.Forcing {
		values[k] = series[i]
	}
	return values
}

// RunBatch runs every scenario on its own clone of template, at most
// parallelism at a time (unbounded if parallelism <= 0). Results are
// returned in scenario order; a failed scenario does not stop the others
// and its error is joined into the returned error.
func (d *Driver) RunBatch(ctx context.Context, template *model.Model, scenarios []*Scenario, parallelism int) ([]*Result, error) {
	d.logger.Debug("starting batch", "scenarios", len(scenarios), "parallelism", parallelism)

	results := make([]*Result, len(scenarios))
	errs := make([]error, len(scenarios))

	var g errgroup.Group
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}
	for i, sc := range scenarios {
		m := template.Clone()
		g.Go(func() error {
			res, err := d.Run(ctx, m, sc)
			results[i] = res
			if err != nil {
				errs[i] = fmt.Errorf("scenario %q: %w", sc.ID, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, errors.Join(errs...)
}
