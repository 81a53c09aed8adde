// Package watch implements `pollbridge watch`, a live terminal view of a
// running bridge fed by its /healthz and /events endpoints.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme holds the styles for the watch TUI. Invocation styles are named after
// the lifecycle state they mark.
type Theme struct {
	Queued    lipgloss.Style
	Claimed   lipgloss.Style
	Resolved  lipgloss.Style
	Failed    lipgloss.Style
	TimedOut  lipgloss.Style
	Abandoned lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	TickerActive   lipgloss.Style
	TickerInactive lipgloss.Style
}

func fg(hex string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(hex))
}

func NewDefaultTheme() Theme {
	return Theme{
		Queued:    fg("#8A8A8A"),
		Claimed:   fg("#E5C07B"),
		Resolved:  fg("#98C379"),
		Failed:    fg("#E06C75"),
		TimedOut:  fg("#D19A66"),
		Abandoned: fg("#5C6370"),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#56B6C2")),
		Title:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ABB2BF")).Padding(0, 1),
		Dim:       fg("#7F848E"),
		Highlight: fg("#61AFEF"),

		TickerActive:   fg("#98C379"),
		TickerInactive: fg("#3E4451"),
	}
}
