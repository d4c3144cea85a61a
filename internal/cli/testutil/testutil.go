// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/leapstack-labs/leapsim/internal/cli/output"
)

// GridProcess defines a static grid with a length input.
const GridProcess = `
process(
    name = "grid",
    vars = {
        "length": variable(default = 10.0, description = "domain length"),
        "spacing": variable(description = "cell size"),
    },
    time_dependent = False,
)
`

// UpliftProcess raises elevation at a constant rate scaled by the grid
// length.
const UpliftProcess = `
def _step(p, dt):
    p.set("elevation", p.get("elevation") + p.get("rate") * dt * p.get("length"))

process(
    name = "uplift",
    vars = {
        "length": foreign("grid", "length"),
        "rate": variable(default = 1.0, description = "uplift rate"),
        "elevation": variable(default = 0.0, intent = "out"),
    },
    run_step = _step,
)
`

// ErosionScenario runs grid and uplift over three time steps.
const ErosionScenario = `name: erosion
description: constant uplift
model:
  - process: grid
  - process: uplift
clocks:
  - name: time
    coords: [0, 1, 2]
inputs:
  grid.spacing: 1.0
  uplift.rate: 0.5
outputs:
  time: [uplift.elevation]
  final: [grid.length]
`

// SetupTestProject creates a temporary project with two processes, one
// scenario and a leapsim.yaml using the given store type.
func SetupTestProject(t *testing.T, storeType string) string {
	t.Helper()

	tmpDir := t.TempDir()

	for _, dir := range []string{"processes", "scenarios"} {
		if err := os.MkdirAll(filepath.Join(tmpDir, dir), 0o755); err != nil {
			t.Fatalf("failed to create directory %s: %v", dir, err)
		}
	}

	files := map[string]string{
		filepath.Join("processes", "grid.star"):    GridProcess,
		filepath.Join("processes", "uplift.star"):  UpliftProcess,
		filepath.Join("scenarios", "erosion.yaml"): ErosionScenario,
		"leapsim.yaml": "store:\n  type: " + storeType + "\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(tmpDir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("failed to create %s: %v", name, err)
		}
	}

	return tmpDir
}

// TestRenderer wraps a Renderer for testing with captured output buffers.
type TestRenderer struct {
	*output.Renderer
	Out    *bytes.Buffer
	ErrOut *bytes.Buffer
}

// NewTestRenderer creates a new test renderer with the specified mode and TTY state.
// Output is captured in buffers for inspection.
func NewTestRenderer(mode output.Mode, isTTY bool) *TestRenderer {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &TestRenderer{
		Renderer: output.NewRendererWithTTY(out, errOut, isTTY, mode),
		Out:      out,
		ErrOut:   errOut,
	}
}

// Output returns the stdout output as a string.
func (tr *TestRenderer) Output() string {
	return tr.Out.String()
}

// ErrorOutput returns the stderr output as a string.
func (tr *TestRenderer) ErrorOutput() string {
	return tr.ErrOut.String()
}

// ansiPattern matches ANSI escape codes.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// AssertNoANSI checks that a string contains no ANSI escape codes.
func AssertNoANSI(t *testing.T, s string) {
	t.Helper()
	if ansiPattern.MatchString(s) {
		t.Errorf("string contains ANSI escape codes: %q", s)
	}
}

// AssertValidMarkdown performs basic markdown validation.
func AssertValidMarkdown(t *testing.T, md string) {
	t.Helper()

	if n := strings.Count(md, "```"); n%2 != 0 {
		t.Errorf("unbalanced code fences in markdown: found %d occurrences", n)
	}

	for i, line := range strings.Split(md, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") && strings.TrimLeft(trimmed, "# ") == "" {
			t.Errorf("empty header at line %d: %q", i+1, line)
		}
	}
}
