package watch

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// renderOutcomes shows how invocations ended and how many late or unknown
// completions the executor sent.
func renderOutcomes(t *Tracker, theme Theme, width int) string {
	innerWidth := width - 4

	finished := []struct {
		label  string
		status string
		style  lipgloss.Style
	}{
		{"resolved", "resolved", theme.Resolved},
		{"errors", "error", theme.Failed},
		{"cancelled", "cancelled", theme.Abandoned},
		{"timed out", "timed_out", theme.TimedOut},
		{"shutdown", "shutdown", theme.Abandoned},
	}

	var parts []string
	for _, f := range finished {
		parts = append(parts, fmt.Sprintf("%s %s", theme.Dim.Render(f.label+":"), f.style.Render(itoa(t.Totals[f.status]))))
	}
	line := " " + strings.Join(parts, "  ")

	ignoredLine := theme.Dim.Render(" Ignored completions: none")
	if len(t.Ignored) > 0 {
		keys := make([]string, 0, len(t.Ignored))
		for k := range t.Ignored {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var ig []string
		for _, k := range keys {
			ig = append(ig, fmt.Sprintf("%s %d", k, t.Ignored[k]))
		}
		ignoredLine = " Ignored completions: " + theme.Highlight.Render(strings.Join(ig, ", "))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("OUTCOMES"),
		line,
		ignoredLine,
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
