package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/malte101/MLRvst-sub002/engine"
	"github.com/malte101/MLRvst-sub002/grid"
	"github.com/malte101/MLRvst-sub002/scheduler"
	"github.com/malte101/MLRvst-sub002/widgets"
)

const refreshInterval = 100 * time.Millisecond

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	upStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	downStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	selectStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
)

// Model is the terminal monitor: link state, device list, LED mirror, and
// scheduler state.
type Model struct {
	Supervisor *grid.Supervisor
	Registry   *grid.Registry
	Scheduler  *scheduler.TriggerScheduler
	Engine     *engine.Engine

	lastEvent string
	quitting  bool
}

// RefreshMsg drives the periodic redraw
type RefreshMsg struct{}

// LinkEventMsg carries a supervisor notification
type LinkEventMsg grid.LinkEvent

// NewModel creates the monitor model
func NewModel(sup *grid.Supervisor, reg *grid.Registry, sched *scheduler.TriggerScheduler, eng *engine.Engine) Model {
	return Model{
		Supervisor: sup,
		Registry:   reg,
		Scheduler:  sched,
		Engine:     eng,
	}
}

func listenForEvents(sup *grid.Supervisor) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-sup.Events()
		if !ok {
			return tea.Quit()
		}
		return LinkEventMsg(ev)
	}
}

func refreshTick() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg {
		return RefreshMsg{}
	})
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(refreshTick(), listenForEvents(m.Supervisor))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit

		case "r":
			m.Supervisor.Refresh()

		case "x":
			m.Supervisor.Disconnect()

		case "+", "=":
			m.Engine.SetTempo(m.Engine.CurrentTempo() + 5)

		case "-", "_":
			m.Engine.SetTempo(m.Engine.CurrentTempo() - 5)

		case "1", "2", "3", "4", "5", "6", "7", "8", "9":
			idx := int(msg.String()[0] - '1')
			devices := m.Registry.List()
			if idx < len(devices) {
				m.Supervisor.SelectDevice(devices[idx].ID)
			}
		}

	case LinkEventMsg:
		m.lastEvent = describeEvent(grid.LinkEvent(msg))
		return m, listenForEvents(m.Supervisor)

	case RefreshMsg:
		return m, refreshTick()
	}

	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	state := m.Supervisor.State()
	stateStr := downStyle.Render(state.String())
	if state == grid.Connected {
		stateStr = upStyle.Render(state.String())
	}
	b.WriteString(titleStyle.Render("grid-link"))
	b.WriteString("  " + stateStr)
	if d, ok := m.Supervisor.BoundDevice(); ok {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  %s (%s) %s:%d", d.ID, d.Kind, d.Host, d.Port)))
	}
	b.WriteString(dimStyle.Render(fmt.Sprintf("  %.0f bpm", m.Engine.CurrentTempo())))
	b.WriteString("\n\n")

	devices := m.Registry.List()
	if len(devices) == 0 {
		b.WriteString(dimStyle.Render("  no devices discovered") + "\n")
	}
	selected := m.Registry.SelectedID()
	for i, d := range devices {
		line := fmt.Sprintf("  %d. %s (%s) port %d", i+1, d.ID, d.Kind, d.Port)
		if d.SizeX > 0 {
			line += fmt.Sprintf(" %dx%d", d.SizeX, d.SizeY)
		}
		if d.ID == selected {
			b.WriteString(selectStyle.Render(line + " *"))
		} else {
			b.WriteString(line)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(widgets.RenderLevelGrid(m.Supervisor.Leds().Snapshot()))
	b.WriteString("\n\n")
	b.WriteString(widgets.RenderLegendItem(15, "playing", "strip read head") + "\n")
	b.WriteString(widgets.RenderLegendItem(8, "pending", "quantized trigger") + "\n")
	b.WriteString(widgets.RenderLegendItem(4, "loop", "active loop region") + "\n")

	for i, s := range m.Engine.Strips() {
		mark := dimStyle.Render("stopped")
		if s.Playing {
			mark = upStyle.Render(fmt.Sprintf("playing col %d", s.Column))
		}
		loop := ""
		if s.LoopStart != 0 || s.LoopEnd != engine.DefaultColumns {
			loop = fmt.Sprintf("  loop [%d,%d)", s.LoopStart, s.LoopEnd)
			if s.Reverse {
				loop += " rev"
			}
		}
		b.WriteString(fmt.Sprintf("  strip %d: %s%s\n", i, mark, loop))
	}

	if pending := m.Scheduler.Pending(); len(pending) > 0 {
		b.WriteString("\n")
		for _, pt := range pending {
			b.WriteString(dimStyle.Render(fmt.Sprintf("  pending: strip %d col %d @ %.2f\n",
				pt.StripIndex, pt.Column, pt.ScheduledBeat)))
		}
	}

	if m.lastEvent != "" {
		b.WriteString("\n" + dimStyle.Render("  "+m.lastEvent) + "\n")
	}

	b.WriteString("\n" + dimStyle.Render("  1-9 select device · r refresh · x disconnect · +/- tempo · q quit") + "\n")
	return b.String()
}

func describeEvent(ev grid.LinkEvent) string {
	switch ev.Type {
	case grid.LinkUp:
		return "connected " + ev.Device.ID
	case grid.LinkDown:
		return "disconnected " + ev.Device.ID
	case grid.DeviceAdded:
		return "discovered " + ev.Device.ID
	case grid.DeviceRemoved:
		return "removed " + ev.Device.ID
	case grid.DeviceChanged:
		return fmt.Sprintf("endpoint change %s -> %s:%d", ev.Device.ID, ev.Device.Host, ev.Device.Port)
	}
	return ""
}
