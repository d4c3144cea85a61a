package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapsim/internal/cli/output"
	"github.com/leapstack-labs/leapsim/internal/scenario"
	"github.com/leapstack-labs/leapsim/pkg/model"
	"github.com/leapstack-labs/leapsim/pkg/process"
)

// NewGraphCommand creates the graph command.
func NewGraphCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph <scenario>",
		Short: "Show the process dependency graph of a scenario's model",
		Long: `Build the model of a scenario without running it and show the
execution order, the dependency levels and the order used at each stage.

Output format is auto-detected:
  - Terminal (TTY): Styled output with colors
  - Piped/redirected: Markdown format

Use -o/--output to override: text, markdown, json`,
		Example: `  # Show the graph of scenarios/erosion.yaml
  leapsim graph erosion

  # Export the graph as JSON
  leapsim graph erosion -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(cmd, args[0])
		},
	}
	return cmd
}

// buildScenarioModel loads a scenario file and builds its model.
func buildScenarioModel(cmdCtx *CommandContext, arg string) (*scenario.File, *model.Model, error) {
	file, err := loadScenario(cmdCtx.Cfg, arg)
	if err != nil {
		return nil, nil, err
	}
	m, err := file.BuildModel(cmdCtx.Registry, model.WithLogger(cmdCtx.Logger))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build model: %w", err)
	}
	return file, m, nil
}

func runGraph(cmd *cobra.Command, arg string) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	_, m, err := buildScenarioModel(cmdCtx, arg)
	if err != nil {
		return err
	}

	graph := buildGraphOutput(m)
	r := cmdCtx.Renderer

	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(graph)
	case output.ModeMarkdown:
		return graphMarkdown(r, graph)
	default:
		return graphText(r, graph)
	}
}

func buildGraphOutput(m *model.Model) *output.GraphOutput {
	graph := &output.GraphOutput{
		Order:          m.Order(),
		Levels:         m.Levels(),
		TotalProcesses: len(m.Order()),
		TotalInputs:    len(m.InputVars()),
	}

	for _, name := range m.Order() {
		p, _ := m.Process(name)
		deps := nonNil(m.Dependencies(name))
		graph.TotalEdges += len(deps)
		graph.Processes = append(graph.Processes, output.GraphNode{
			Name:          name,
			TimeDependent: p.Meta().TimeDependent,
			DependsOn:     deps,
			UsedBy:        nonNil(m.Dependents(name)),
		})
	}

	for _, stage := range process.Stages {
		graph.Stages = append(graph.Stages, output.StageOrder{
			Stage:     stage.String(),
			Processes: nonNil(m.StageOrder(stage)),
		})
	}
	return graph
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func graphMarkdown(r *output.Renderer, g *output.GraphOutput) error {
	r.Println(output.FormatHeader(1, "Process Graph"))
	r.Println("")
	r.Println(output.FormatKeyValue("Processes", fmt.Sprintf("%d", g.TotalProcesses)))
	r.Println(output.FormatKeyValue("Dependencies", fmt.Sprintf("%d", g.TotalEdges)))
	r.Println(output.FormatKeyValue("Inputs", fmt.Sprintf("%d", g.TotalInputs)))
	r.Println("")

	r.Println(output.FormatHeader(2, "Execution Order"))
	r.Println("")
	rows := make([][]string, 0, len(g.Processes))
	for i, p := range g.Processes {
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			p.Name,
			joinOrDash(p.DependsOn),
			joinOrDash(p.UsedBy),
		})
	}
	r.Table([]string{"#", "Process", "Depends On", "Used By"}, rows)
	r.Println("")

	r.Println(output.FormatHeader(2, "Stages"))
	r.Println("")
	for _, s := range g.Stages {
		r.Println(output.FormatKeyValue(output.Title(s.Stage), joinOrDash(s.Processes)))
	}
	return nil
}

func graphText(r *output.Renderer, g *output.GraphOutput) error {
	styles := r.Styles()

	r.Header(1, "Process Graph")
	r.Println("")
	r.Printf("Processes: %d  Dependencies: %d  Inputs: %d\n\n", g.TotalProcesses, g.TotalEdges, g.TotalInputs)

	r.Header(2, "Levels")
	for i, level := range g.Levels {
		r.Printf("  %d  %s\n", i, styles.Process.Render(strings.Join(level, ", ")))
	}
	r.Println("")

	r.Header(2, "Dependencies")
	for _, p := range g.Processes {
		name := styles.Process.Render(p.Name)
		if !p.TimeDependent {
			name += styles.Muted.Render(" (static)")
		}
		if len(p.DependsOn) == 0 {
			r.Printf("  %s\n", name)
			continue
		}
		r.Printf("  %s %s %s\n", name, styles.Muted.Render("<-"), strings.Join(p.DependsOn, ", "))
	}
	r.Println("")

	r.Header(2, "Stages")
	for _, s := range g.Stages {
		r.Printf("  %-16s %s\n", output.Title(s.Stage), joinOrDash(s.Processes))
	}
	return nil
}

func joinOrDash(s []string) string {
	if len(s) == 0 {
		return "-"
	}
	return strings.Join(s, ", ")
}
