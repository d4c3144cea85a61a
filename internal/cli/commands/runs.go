package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapsim/internal/cli/output"
	"github.com/leapstack-labs/leapsim/internal/state"
)

// NewRunsCommand creates the runs command.
func NewRunsCommand() *cobra.Command {
	var limit int
	var array string

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List stored runs or show one run",
		Long: `List the most recent runs in the configured store, or show the
details and output arrays of a single run.`,
		Example: `  # List the last 20 runs
  leapsim runs

  # Show one run
  leapsim runs 0b7c1d3e-...

  # Print the values of one output array
  leapsim runs 0b7c1d3e-... --array uplift__elevation`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 && array != "" {
				return runShowArray(cmd, args[0], array)
			}
			if len(args) == 1 {
				return runShowRun(cmd, args[0])
			}
			if array != "" {
				return fmt.Errorf("--array requires a run id")
			}
			return runListRuns(cmd, limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list")
	cmd.Flags().StringVar(&array, "array", "", "Print the values of an output array of the run")
	return cmd
}

func runListRuns(cmd *cobra.Command, limit int) error {
	cmdCtx := NewCommandContextWithoutRegistry(cmd)
	ctx := commandContext(cmd)

	store, err := openStore(ctx, cmdCtx.Cfg, cmdCtx.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	runs, err := store.ListRuns(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	infos := make([]output.RunInfo, 0, len(runs))
	for _, run := range runs {
		infos = append(infos, runInfo(run))
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(infos)
	}

	r.Header(1, "Runs")
	r.Println("")
	if len(infos) == 0 {
		r.Muted("No runs recorded.")
		return nil
	}
	rows := make([][]string, 0, len(infos))
	for _, run := range infos {
		rows = append(rows, []string{run.ID, run.Scenario, run.Status, run.StartedAt, formatDuration(run.DurationMS)})
	}
	r.Table([]string{"ID", "Scenario", "Status", "Started", "Duration"}, rows)
	return nil
}

func runShowRun(cmd *cobra.Command, id string) error {
	cmdCtx := NewCommandContextWithoutRegistry(cmd)
	ctx := commandContext(cmd)

	store, err := openStore(ctx, cmdCtx.Cfg, cmdCtx.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	run, err := store.GetRun(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get run %s: %w", id, err)
	}
	arrays, err := store.ListArrays(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to list arrays of run %s: %w", id, err)
	}

	info := runInfo(run)
	info.Processes = run.Order
	for _, a := range arrays {
		info.Arrays = append(info.Arrays, a.Name)
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(info)
	}

	r.Header(1, "Run "+info.ID)
	r.Println("")
	r.Println(output.FormatKeyValue("Scenario", info.Scenario))
	r.Println(output.FormatKeyValue("Status", info.Status))
	r.Println(output.FormatKeyValue("Started", info.StartedAt))
	if info.CompletedAt != "" {
		r.Println(output.FormatKeyValue("Duration", formatDuration(info.DurationMS)))
	}
	if info.Error != "" {
		r.Println(output.FormatKeyValue("Error", info.Error))
	}
	r.Println(output.FormatKeyValue("Processes", joinOrDash(info.Processes)))
	r.Println("")

	r.Header(2, "Arrays")
	r.Println("")
	if len(arrays) == 0 {
		r.Muted("No output arrays.")
		return nil
	}
	rows := make([][]string, 0, len(arrays))
	for _, a := range arrays {
		rows = append(rows, []string{a.Name, a.Clock, "(" + strings.Join(a.Dims, ", ") + ")", formatShape(a.Shape), string(a.DType)})
	}
	r.Table([]string{"Array", "Clock", "Dims", "Shape", "Type"}, rows)
	return nil
}

// arrayOutput is the JSON form of an output array.
type arrayOutput struct {
	Name  string   `json:"name"`
	Clock string   `json:"clock,omitempty"`
	Dims  []string `json:"dims"`
	Shape []int    `json:"shape"`
	DType string   `json:"dtype"`
	Slots []any    `json:"slots,omitempty"`
	Value any      `json:"value,omitempty"`
}

func runShowArray(cmd *cobra.Command, id, name string) error {
	cmdCtx := NewCommandContextWithoutRegistry(cmd)
	ctx := commandContext(cmd)

	store, err := openStore(ctx, cmdCtx.Cfg, cmdCtx.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	arr, err := store.ReadArray(ctx, id, name)
	if err != nil {
		return fmt.Errorf("failed to read array %s of run %s: %w", name, id, err)
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(arrayOutput{
			Name:  arr.Spec.Name,
			Clock: arr.Spec.Clock,
			Dims:  arr.Spec.Dims,
			Shape: arr.Spec.Shape,
			DType: string(arr.Spec.DType),
			Slots: arr.Slots,
			Value: arr.Value,
		})
	}

	r.Header(1, arr.Spec.Name)
	r.Println("")
	r.Println(output.FormatKeyValue("Dims", "("+strings.Join(arr.Spec.Dims, ", ")+")"))
	r.Println(output.FormatKeyValue("Shape", formatShape(arr.Spec.Shape)))
	r.Println(output.FormatKeyValue("Type", string(arr.Spec.DType)))
	r.Println("")

	if arr.Spec.Clock == "" {
		r.Println(output.FormatValue(arr.Value))
		return nil
	}
	rows := make([][]string, 0, len(arr.Slots))
	for i, v := range arr.Slots {
		rows = append(rows, []string{fmt.Sprintf("%d", i), output.FormatValue(v)})
	}
	r.Table([]string{arr.Spec.Clock, "Value"}, rows)
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func runInfo(run *state.Run) output.RunInfo {
	info := output.RunInfo{
		ID:        run.ID,
		Scenario:  run.Scenario,
		Status:    string(run.Status),
		StartedAt: run.StartedAt.Format(time.RFC3339),
		Error:     run.Error,
	}
	if run.CompletedAt != nil {
		info.CompletedAt = run.CompletedAt.Format(time.RFC3339)
		info.DurationMS = run.CompletedAt.Sub(run.StartedAt).Milliseconds()
	}
	return info
}

func formatDuration(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return (time.Duration(ms) * time.Millisecond).String()
}

func formatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, n := range shape {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
