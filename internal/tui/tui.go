package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	orchestration "github.com/koscakluka/ema-voiceloop/core"
	"github.com/muesli/reflow/wordwrap"
)

const defaultWidth = 72

// Controller is the part of the orchestrator the display drives.
type Controller interface {
	Interact()
	StartTurn()
	StopRecording()
	GenerateReport()
}

type (
	StatusMsg        string
	StateMsg         orchestration.ConversationState
	ReportEnabledMsg bool
	ReportSavedMsg   string
)

// Callbacks forwards orchestrator updates to the program through send,
// usually (*tea.Program).Send.
func Callbacks(send func(tea.Msg)) []orchestration.OrchestrateOption {
	return []orchestration.OrchestrateOption{
		orchestration.WithStatusCallback(func(status string) { send(StatusMsg(status)) }),
		orchestration.WithStateChangedCallback(func(state orchestration.ConversationState) { send(StateMsg(state)) }),
		orchestration.WithReportEnabledCallback(func(enabled bool) { send(ReportEnabledMsg(enabled)) }),
		orchestration.WithReportSavedCallback(func(path string) { send(ReportSavedMsg(path)) }),
	}
}

type keyMap struct {
	Toggle key.Binding
	Report key.Binding
	Quit   key.Binding
}

func (k keyMap) ShortHelp() []key.Binding { return []key.Binding{k.Toggle, k.Report, k.Quit} }

func (k keyMap) FullHelp() [][]key.Binding { return [][]key.Binding{k.ShortHelp()} }

func defaultKeyMap() keyMap {
	return keyMap{
		Toggle: key.NewBinding(key.WithKeys(" ", "enter"), key.WithHelp("space", "talk/stop")),
		Report: key.NewBinding(key.WithKeys("g"), key.WithHelp("g", "generate report")),
		Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	stateStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	statusStyle   = lipgloss.NewStyle().Padding(1, 2).Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63"))
	enabledStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("42")).Padding(0, 1)
	disabledStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Background(lipgloss.Color("236")).Padding(0, 1)
	pathStyle     = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("245"))
)

type Model struct {
	controller Controller

	state         orchestration.ConversationState
	status        string
	reportEnabled bool
	reportPath    string
	interacted    bool

	spinner spinner.Model
	help    help.Model
	keys    keyMap
	width   int

	start func()
}

type ModelOption func(*Model)

// WithStart runs start once the program is running. Callbacks that send to
// the program, such as the orchestrator's, must only fire from there on.
func WithStart(start func()) ModelOption {
	return func(m *Model) {
		m.start = start
	}
}

func NewModel(controller Controller, opts ...ModelOption) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot

	m := &Model{
		controller: controller,
		spinner:    s,
		help:       help.New(),
		keys:       defaultKeyMap(),
		width:      defaultWidth,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Model) Init() tea.Cmd {
	if m.start == nil {
		return m.spinner.Tick
	}
	start := m.start
	return tea.Batch(m.spinner.Tick, func() tea.Msg {
		start()
		return nil
	})
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case StatusMsg:
		m.status = string(msg)
		return m, nil

	case StateMsg:
		m.state = orchestration.ConversationState(msg)
		return m, nil

	case ReportEnabledMsg:
		m.reportEnabled = bool(msg)
		return m, nil

	case ReportSavedMsg:
		m.reportPath = string(msg)
		return m, nil

	case tea.MouseMsg:
		if msg.Action != tea.MouseActionPress {
			return m, nil
		}
		return m, m.actions(m.interaction())

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			return m, tea.Quit
		}

		actions := m.interaction()
		switch {
		case key.Matches(msg, m.keys.Toggle):
			if m.state == orchestration.StateRecording {
				actions = append(actions, m.controller.StopRecording)
			} else {
				actions = append(actions, m.controller.StartTurn)
			}
		case key.Matches(msg, m.keys.Report):
			if m.reportEnabled {
				actions = append(actions, m.controller.GenerateReport)
			}
		}
		return m, m.actions(actions)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// interaction reports the first user activity only.
func (m *Model) interaction() []func() {
	if m.interacted {
		return nil
	}
	m.interacted = true
	return []func(){m.controller.Interact}
}

// actions runs controller calls off the update loop, in order.
func (m *Model) actions(actions []func()) tea.Cmd {
	if len(actions) == 0 {
		return nil
	}
	return func() tea.Msg {
		for _, action := range actions {
			action()
		}
		return nil
	}
}

func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("voiceloop"))
	b.WriteString("  ")
	b.WriteString(stateStyle.Render(m.stateLabel()))
	b.WriteString("\n\n")

	width := m.width - 6
	if width < 20 {
		width = 20
	}
	b.WriteString(statusStyle.Render(wordwrap.String(m.status, width)))
	b.WriteString("\n\n")

	if m.reportEnabled {
		b.WriteString(enabledStyle.Render("[g] إنشاء التقرير"))
	} else {
		b.WriteString(disabledStyle.Render("[g] إنشاء التقرير"))
	}
	if m.reportPath != "" {
		b.WriteString("  ")
		b.WriteString(pathStyle.Render(m.reportPath))
	}
	b.WriteString("\n\n")
	b.WriteString(m.help.View(m.keys))
	b.WriteString("\n")

	return b.String()
}

func (m *Model) stateLabel() string {
	switch m.state {
	case orchestration.StateRecording, orchestration.StateProcessing:
		return m.spinner.View() + " " + m.state.String()
	}
	return m.state.String()
}
