package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks bridge health from /healthz polling.
type HealthState struct {
	Status            string
	Version           string
	UptimeSeconds     int64
	QueueDepth        int
	Pending           int
	InFlight          int
	ActivePolls       int
	ExecutorConnected bool
	Connected         bool
	LastCheck         time.Time
}

func renderHeader(health HealthState, ticker Ticker, spinner Spinner, theme Theme, width int) string {
	innerWidth := width - 4

	statusText := theme.Resolved.Render("HEALTHY")
	statusIcon := "✅"
	if !health.Connected {
		statusText = theme.Failed.Render("CONNECTING")
		statusIcon = "🔌"
	} else if health.Status != "ok" && health.Status != "" {
		statusText = theme.Failed.Render(strings.ToUpper(health.Status))
		statusIcon = "⚠️"
	}

	executor := theme.Failed.Render("executor offline")
	if health.ExecutorConnected {
		executor = theme.Resolved.Render(fmt.Sprintf("executor polling (%d)", health.ActivePolls))
	}

	lastEventStr := "never"
	if !spinner.LastEvent().IsZero() {
		ago := time.Since(spinner.LastEvent()).Round(time.Second)
		lastEventStr = fmt.Sprintf("%s ago", ago)
	}

	tickerStr := theme.Highlight.Render(ticker.Current())
	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	titleText := fmt.Sprintf(" POLLBRIDGE WATCH %s", tickerStr)
	if health.Version != "" {
		titleText += theme.Dim.Render(" " + health.Version)
	}

	titleWidth := lipgloss.Width(titleText)
	clockWidth := lipgloss.Width(clock)
	pad := innerWidth - titleWidth - clockWidth - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s %s  ⏱ %s  %s",
		statusIcon, statusText,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		executor,
	)

	queueLine := fmt.Sprintf(" Queue: %d  Pending: %d  In flight: %d",
		health.QueueDepth, health.Pending, health.InFlight)

	activityLine := fmt.Sprintf(" Last event: %s %s",
		lastEventStr,
		spinner.Render(theme),
	)

	content := lipgloss.JoinVertical(lipgloss.Left,
		titleLine,
		statsLine,
		queueLine,
		activityLine,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
