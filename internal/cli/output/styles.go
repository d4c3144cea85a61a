package output

import (
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Status symbols.
const (
	SymbolSuccess   = "✓"
	SymbolFailed    = "✗"
	SymbolWarning   = "!"
	SymbolRunning   = "…"
	SymbolCancelled = "-"
)

// Styles holds the lipgloss styles used for text output.
type Styles struct {
	Header1 lipgloss.Style
	Header2 lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Process lipgloss.Style
	VarKey  lipgloss.Style
}

// NewStyles builds styles for a color profile. termenv.Ascii yields plain
// text.
func NewStyles(profile termenv.Profile) *Styles {
	r := lipgloss.NewRenderer(io.Discard)
	r.SetColorProfile(profile)

	return &Styles{
		Header1: r.NewStyle().Bold(true).Underline(true),
		Header2: r.NewStyle().Bold(true),
		Bold:    r.NewStyle().Bold(true),
		Muted:   r.NewStyle().Foreground(lipgloss.Color("8")),
		Success: r.NewStyle().Foreground(lipgloss.Color("2")),
		Warning: r.NewStyle().Foreground(lipgloss.Color("3")),
		Error:   r.NewStyle().Foreground(lipgloss.Color("1")),
		Process: r.NewStyle().Foreground(lipgloss.Color("6")),
		VarKey:  r.NewStyle().Foreground(lipgloss.Color("5")),
	}
}

// Status returns the symbol and style for a run status.
func (s *Styles) Status(status string) (string, lipgloss.Style) {
	switch status {
	case "completed", "success":
		return SymbolSuccess, s.Success
	case "failed", "error":
		return SymbolFailed, s.Error
	case "cancelled":
		return SymbolCancelled, s.Warning
	case "running":
		return SymbolRunning, s.Muted
	default:
		return SymbolWarning, s.Warning
	}
}
