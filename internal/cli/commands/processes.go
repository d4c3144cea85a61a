package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapsim/internal/cli/output"
)

// NewProcessesCommand creates the processes command.
func NewProcessesCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "processes",
		Aliases: []string{"ls"},
		Short:   "List process definitions",
		Long:    `List every process defined in the processes directory.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProcesses(cmd)
		},
	}
}

func runProcesses(cmd *cobra.Command) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	if err := cmdCtx.Cfg.ValidateDirectories(); err != nil {
		cmdCtx.Renderer.Warning(err.Error())
	}

	var infos []output.ProcessInfo
	for _, def := range cmdCtx.Registry.All() {
		source, _ := cmdCtx.Registry.Source(def.Name())
		if rel, err := filepath.Rel(cmdCtx.Cfg.ProjectRoot, source); err == nil && cmdCtx.Cfg.ProjectRoot != "" {
			source = rel
		}
		infos = append(infos, output.ProcessInfo{
			Name:          def.Name(),
			Source:        source,
			TimeDependent: def.Meta().TimeDependent,
			Variables:     def.VariableNames(),
		})
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		if infos == nil {
			infos = []output.ProcessInfo{}
		}
		return r.JSON(infos)
	}

	r.Header(1, "Processes")
	r.Println("")
	if len(infos) == 0 {
		r.Muted(fmt.Sprintf("No processes found in %s", cmdCtx.Cfg.ProcessesDir))
		return nil
	}

	rows := make([][]string, 0, len(infos))
	for _, p := range infos {
		rows = append(rows, []string{p.Name, fmt.Sprintf("%d", len(p.Variables)), fmt.Sprintf("%t", p.TimeDependent), p.Source})
	}
	r.Table([]string{"Process", "Variables", "Time Dependent", "Source"}, rows)
	return nil
}
