package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapsim/internal/cli/output"
	"github.com/leapstack-labs/leapsim/pkg/model"
)

// NewInputsCommand creates the inputs command.
func NewInputsCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "inputs <scenario>",
		Short: "List the input variables of a scenario's model",
		Long: `List the variables a scenario must or may set as inputs.

Inputs with a default are hidden unless --all is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInputs(cmd, args[0], all)
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include inputs that have a default value")
	return cmd
}

func runInputs(cmd *cobra.Command, arg string, all bool) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	file, m, err := buildScenarioModel(cmdCtx, arg)
	if err != nil {
		return err
	}

	keys := m.InputVars()
	if all {
		keys = append(keys, m.DefaultedInputVars()...)
	}
	infos := make([]output.InputInfo, 0, len(keys))
	for _, key := range keys {
		infos = append(infos, inputInfo(m, key))
	}

	r := cmdCtx.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(infos)
	}

	r.Header(1, "Inputs of "+scenarioLabel(file))
	r.Println("")
	if len(infos) == 0 {
		r.Muted("No inputs required.")
		return nil
	}

	rows := make([][]string, 0, len(infos))
	for _, in := range infos {
		_, set := file.Inputs[in.Key]
		rows = append(rows, []string{in.Key, in.Dims, output.FormatValue(in.Default), setMark(set), in.Description})
	}
	r.Table([]string{"Input", "Dims", "Default", "Set", "Description"}, rows)
	return nil
}

func inputInfo(m *model.Model, key model.VarKey) output.InputInfo {
	info := output.InputInfo{Key: key.String()}
	v, ok := m.Lookup(key)
	if !ok {
		return info
	}
	md := v.Metadata()
	dims := make([]string, 0, len(md.Dims))
	for _, d := range md.Dims {
		dims = append(dims, d.String())
	}
	info.Dims = strings.Join(dims, " | ")
	if md.HasDefault {
		info.Default = md.Default
	}
	info.Description = md.Description
	return info
}

func setMark(set bool) string {
	if set {
		return "yes"
	}
	return ""
}
