// Package tui is a terminal controller for the sequencer.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/satindergrewal/drumseq/internal/engine"
	"github.com/satindergrewal/drumseq/internal/stream"
)

// DefaultVelocity is written when a slot is toggled on.
const DefaultVelocity = 100

const commandTimeout = 2 * time.Second

var (
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	nameStyle   = lipgloss.NewStyle().Width(12)
	onStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	playStyle   = lipgloss.NewStyle().Background(lipgloss.Color("57"))
	cursorStyle = lipgloss.NewStyle().Reverse(true)
)

// StateMsg carries a new engine snapshot.
type StateMsg engine.State

// ResultMsg reports the outcome of a command sent from the UI.
type ResultMsg struct {
	Cmd engine.Command
	Err error
}

type closedMsg struct{}

type Model struct {
	do       engine.Handler
	hub      *stream.Hub
	listener *stream.Listener[stream.Event]

	state    engine.State
	track    int
	slot     int
	status   string
	err      error
	quitting bool
}

// NewModel creates a model showing initial until the first update arrives.
func NewModel(do engine.Handler, hub *stream.Hub, initial engine.State) Model {
	return Model{do: do, hub: hub, listener: hub.Subscribe(), state: initial}
}

// ListenForUpdates waits for the next state event.
func ListenForUpdates(l *stream.Listener[stream.Event]) tea.Cmd {
	return func() tea.Msg {
		for ev := range l.C {
			if s, ok := ev.State(); ok {
				return StateMsg(s)
			}
		}
		return closedMsg{}
	}
}

func (m Model) send(cmd engine.Command) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return ResultMsg{Cmd: cmd, Err: m.do(ctx, cmd)}
	}
}

func (m Model) Init() tea.Cmd {
	return ListenForUpdates(m.listener)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case StateMsg:
		m.state = engine.State(msg)
		m.clampCursor()
		return m, ListenForUpdates(m.listener)

	case closedMsg:
		// Dropped for falling behind; resubscribe.
		m.listener = m.hub.Subscribe()
		return m, ListenForUpdates(m.listener)

	case ResultMsg:
		m.err = msg.Err
		if msg.Err == nil {
			m.status = msg.Cmd.Name()
		}
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	s := m.state
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		m.hub.Unsubscribe(m.listener)
		return m, tea.Quit

	case " ":
		if s.Playing {
			return m, m.send(engine.Stop{})
		}
		return m, m.send(engine.Play{})

	case "up", "k":
		m.track = max(0, m.track-1)
		m.clampCursor()
	case "down", "j":
		m.track++
		m.clampCursor()
	case "left", "h":
		m.slot = max(0, m.slot-1)
	case "right", "l":
		m.slot++
		m.clampCursor()

	case "enter", "x":
		if m.track >= len(s.Tracks) {
			return m, nil
		}
		v := DefaultVelocity
		if s.Tracks[m.track].Slots[m.slot] > 0 {
			v = 0
		}
		return m, m.send(engine.SetSlotVelocity{Track: m.track, Slot: m.slot, Velocity: v})

	case "a":
		return m, m.send(engine.PlaySound{Track: m.track, Velocity: 127})

	case "+", "=":
		return m, m.send(engine.SetTempo{BPM: s.Tempo + 5})
	case "-", "_":
		return m, m.send(engine.SetTempo{BPM: s.Tempo - 5})
	case "]":
		return m, m.send(engine.SetSwing{Value: s.Swing + 5})
	case "[":
		return m, m.send(engine.SetSwing{Value: s.Swing - 5})

	case "n":
		return m, m.send(engine.AddPattern{})
	case "tab":
		if next, ok := nextPattern(s); ok {
			return m, m.send(engine.SelectPattern{ID: next})
		}
	case "s":
		return m, m.send(engine.SavePattern{})
	}
	return m, nil
}

func nextPattern(s engine.State) (int, bool) {
	if len(s.Patterns) < 2 {
		return 0, false
	}
	for i, p := range s.Patterns {
		if p.ID == s.PatternID {
			return s.Patterns[(i+1)%len(s.Patterns)].ID, true
		}
	}
	return s.Patterns[0].ID, true
}

func (m *Model) clampCursor() {
	n := len(m.state.Tracks)
	if n == 0 {
		m.track, m.slot = 0, 0
		return
	}
	m.track = min(m.track, n-1)
	m.slot = min(m.slot, m.state.Tracks[m.track].Len-1)
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	s := m.state

	transport := "STOP"
	if s.Playing {
		transport = "PLAY"
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("drumseq  %s  %3dbpm  1/%d  swing %d%%  %s",
		transport, s.Tempo, s.Division, s.Swing, s.PatternName)))
	b.WriteString("\n\n")

	for i, t := range s.Tracks {
		b.WriteString(nameStyle.Render(truncate(t.Name, 11)))
		fired := -1
		if s.Playing && s.Step >= 0 {
			fired = (t.Idx - 1 + t.Len) % t.Len
		}
		for j, v := range t.Slots {
			cell := dimStyle.Render("·")
			if v > 0 {
				cell = onStyle.Render(velocityGlyph(v))
			}
			switch {
			case i == m.track && j == m.slot:
				cell = cursorStyle.Render(cell)
			case j == fired:
				cell = playStyle.Render(cell)
			}
			b.WriteString(cell)
			b.WriteByte(' ')
		}
		b.WriteByte('\n')
	}

	b.WriteByte('\n')
	b.WriteString(m.patternLine())
	b.WriteByte('\n')

	switch {
	case m.err != nil:
		b.WriteString(errStyle.Render(engine.Describe(m.err)))
	case m.status != "":
		b.WriteString(dimStyle.Render(m.status))
	}
	b.WriteByte('\n')
	b.WriteString(dimStyle.Render("space:play/stop  hjkl:move  x:toggle  a:audition  +/-:tempo  [/]:swing  n:new  tab:next  s:save  q:quit"))
	return b.String()
}

func (m Model) patternLine() string {
	parts := make([]string, 0, len(m.state.Patterns))
	for _, p := range m.state.Patterns {
		mark := " "
		switch p.ID {
		case m.state.PatternID:
			mark = "*"
		case m.state.QueuedPatternID:
			mark = ">"
		}
		parts = append(parts, mark+p.Name)
	}
	return dimStyle.Render("patterns: ") + strings.Join(parts, "  ")
}

func velocityGlyph(v uint8) string {
	switch {
	case v >= 96:
		return "█"
	case v >= 48:
		return "▓"
	}
	return "░"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// Run starts the program and blocks until the user quits or ctx is done.
func Run(ctx context.Context, do engine.Handler, hub *stream.Hub, initial engine.State) error {
	p := tea.NewProgram(NewModel(do, hub, initial), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
