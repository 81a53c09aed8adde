package watch

import (
	"strings"
	"time"
)

// Ticker rotates through frames to show the TUI itself is alive.
// It stops rotating if no ticks arrive.
type Ticker struct {
	frames []string
	index  int
}

func NewTicker() Ticker {
	return Ticker{frames: []string{"⟲", "⟳"}}
}

func (t *Ticker) Tick() {
	t.index = (t.index + 1) % len(t.frames)
}

func (t Ticker) Current() string {
	return t.frames[t.index]
}

// Spinner lights up on bridge events and fades over ten seconds.
type Spinner struct {
	dots      int
	lastEvent time.Time
	now       func() time.Time
}

func NewSpinner() Spinner {
	return Spinner{now: time.Now}
}

func (s *Spinner) OnEvent() {
	s.dots = 5
	s.lastEvent = s.now()
}

// Decay drops one dot for every two seconds without an event.
func (s *Spinner) Decay() {
	if s.dots == 0 {
		return
	}
	left := 5 - int(s.now().Sub(s.lastEvent)/(2*time.Second))
	if left < 0 {
		left = 0
	}
	if left < s.dots {
		s.dots = left
	}
}

func (s Spinner) Render(theme Theme) string {
	var result strings.Builder
	for i := range 5 {
		if i < s.dots {
			result.WriteString(theme.TickerActive.Render("●"))
		} else {
			result.WriteString(theme.TickerInactive.Render("○"))
		}
	}
	return result.String()
}

func (s Spinner) LastEvent() time.Time {
	return s.lastEvent
}
