package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/pollbridge/internal/events"
)

func renderEventStream(eventLog []events.Event, theme Theme, width, limit int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= limit {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch e.Type {
	case events.TypeResolved:
		typeStyle = theme.Resolved
	case events.TypeTimedOut, events.TypeShutdown:
		typeStyle = theme.Failed
	case events.TypeClaimed:
		typeStyle = theme.Claimed
	case events.TypeIgnored, events.TypeRequeued, events.TypeForwarding:
		typeStyle = theme.Highlight
	default:
		typeStyle = theme.Dim
	}

	typeName := typeStyle.Render(fmt.Sprintf("%-22s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, extractEventDesc(e))
}

func extractEventDesc(e events.Event) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	var parts []string

	if id, ok := data["id"].(string); ok {
		parts = append(parts, fmt.Sprintf("[%s]", shortID(id)))
	}
	if tool, ok := data["tool"].(string); ok && tool != "" {
		parts = append(parts, tool)
	}
	if ms, ok := data["elapsed_ms"].(float64); ok {
		parts = append(parts, fmt.Sprintf("%.0fms", ms))
	}
	if isErr, ok := data["is_error"].(bool); ok && isErr {
		parts = append(parts, "error")
	}
	if outcome, ok := data["outcome"].(string); ok {
		parts = append(parts, outcome)
	}
	if remote, ok := data["remote"].(string); ok {
		parts = append(parts, "from "+remote)
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}

	return strings.Join(parts, " ")
}
