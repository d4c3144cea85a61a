package output

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// FormatHeader formats a markdown header.
func FormatHeader(level int, text string) string {
	if level < 1 {
		level = 1
	}
	return strings.Repeat("#", level) + " " + text
}

// FormatKeyValue formats a markdown bullet "- **Key**: value".
func FormatKeyValue(key, value string) string {
	return fmt.Sprintf("- **%s**: %s", key, value)
}

var titleCaser = cases.Title(language.English)

// Title turns identifiers such as "finalize_step" into "Finalize Step".
func Title(s string) string {
	return titleCaser.String(strings.ReplaceAll(s, "_", " "))
}

// FormatValue renders a state value for a table cell. Long arrays are
// abbreviated.
func FormatValue(v any) string {
	if v == nil {
		return "-"
	}
	s := fmt.Sprintf("%v", v)
	const maxLen = 48
	if len(s) > maxLen {
		return s[:maxLen-3] + "..."
	}
	return s
}
