// Package ui is the terminal feedback window used when the session is
// answered out of process. It writes its answer to a handoff file.
package ui

import (
	"fmt"
	"strings"

	"github.com/ChuDiRen/interactive-feedback-mcp/events"
	"github.com/ChuDiRen/interactive-feedback-mcp/runner"
	"github.com/ChuDiRen/interactive-feedback-mcp/session"
	"github.com/ChuDiRen/interactive-feedback-mcp/settings"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type focusArea int

const (
	focusFeedback focusArea = iota
	focusCommand
)

// eventMsg carries one bus event into the update loop.
type eventMsg struct{ event events.Event }

// eventsClosedMsg means the bus subscription ended.
type eventsClosedMsg struct{}

type runResultMsg struct {
	pid int
	err error
}

// Model is the root Bubble Tea model for the feedback window.
type Model struct {
	projectDir string
	prompt     string

	feedback textarea.Model
	command  textinput.Model
	console  viewport.Model
	logs     *strings.Builder
	focus    focusArea

	runner   *runner.Runner
	sub      *events.Subscription
	settings settings.Settings

	status    string
	width     int
	height    int
	submitted bool
	result    session.FeedbackResult
}

// New builds the model. sub must be subscribed to the bus r publishes on.
func New(projectDir, prompt string, r *runner.Runner, sub *events.Subscription, saved settings.Settings) Model {
	ta := textarea.New()
	ta.Placeholder = "Type your feedback..."
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.Focus()

	ti := textinput.New()
	ti.Prompt = "$ "
	ti.Placeholder = "command to run in the project directory"
	ti.SetValue(saved.Command)

	m := Model{
		projectDir: projectDir,
		prompt:     prompt,
		feedback:   ta,
		command:    ti,
		console:    viewport.New(80, 8),
		logs:       &strings.Builder{},
		runner:     r,
		sub:        sub,
		settings:   saved,
		status:     "ready",
	}
	m.resize(80, 24)
	return m
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textarea.Blink, m.listen()}
	if m.settings.AutoExecute && strings.TrimSpace(m.settings.Command) != "" {
		cmds = append(cmds, m.run(m.settings.Command))
	}
	return tea.Batch(cmds...)
}

// listen waits for the next bus event.
func (m Model) listen() tea.Cmd {
	sub := m.sub
	return func() tea.Msg {
		if sub == nil {
			return eventsClosedMsg{}
		}
		ev, ok := <-sub.C
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg{event: ev}
	}
}

func (m Model) run(command string) tea.Cmd {
	r := m.runner
	return func() tea.Msg {
		execution, err := r.Run(command, "")
		if err != nil {
			return runResultMsg{err: err}
		}
		return runResultMsg{pid: execution.PID}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.status = "cancelled"
			return m, tea.Quit
		case "ctrl+s":
			m.submitted = true
			m.result = session.FeedbackResult{
				InteractiveFeedback: m.feedback.Value(),
				CommandLogs:         m.logs.String(),
			}
			m.status = "submitted"
			return m, tea.Quit
		case "tab":
			return m, m.toggleFocus()
		case "ctrl+x":
			if !m.runner.Stop() {
				m.status = "no command is running"
			}
			return m, nil
		case "ctrl+t":
			m.settings.AutoExecute = !m.settings.AutoExecute
			m.status = fmt.Sprintf("auto-execute %s", onOff(m.settings.AutoExecute))
			return m, nil
		case "enter":
			if m.focus == focusCommand {
				command := strings.TrimSpace(m.command.Value())
				if command == "" {
					return m, nil
				}
				m.settings.Command = command
				m.status = "starting " + command
				return m, m.run(command)
			}
		}
		var cmd tea.Cmd
		if m.focus == focusCommand {
			m.command, cmd = m.command.Update(msg)
		} else {
			m.feedback, cmd = m.feedback.Update(msg)
		}
		return m, cmd

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case runResultMsg:
		if msg.err != nil {
			m.appendLine("Error: " + msg.err.Error())
			m.status = "command failed to start"
		} else {
			m.status = fmt.Sprintf("running (pid %d)", msg.pid)
		}
		return m, nil

	case eventMsg:
		m.apply(msg.event)
		return m, m.listen()

	case eventsClosedMsg:
		return m, nil
	}
	return m, nil
}

func (m *Model) toggleFocus() tea.Cmd {
	if m.focus == focusFeedback {
		m.focus = focusCommand
		m.feedback.Blur()
		return m.command.Focus()
	}
	m.focus = focusFeedback
	m.command.Blur()
	return m.feedback.Focus()
}

// apply folds a runner event into the console.
func (m *Model) apply(ev events.Event) {
	switch p := ev.Payload.(type) {
	case events.CommandStarted:
		m.appendLine("$ " + p.Command)
	case events.CommandOutput:
		m.logs.WriteString(p.Chunk)
	case events.CommandExit:
		m.appendLine(fmt.Sprintf("Process exited with code %d", p.ExitCode))
		m.status = "ready"
	case events.CommandError:
		m.appendLine("Error: " + p.Message)
		m.status = "ready"
	case events.CommandStopped:
		m.appendLine("Command stopped")
		m.status = "ready"
	default:
		return
	}
	m.console.SetContent(m.logs.String())
	m.console.GotoBottom()
}

func (m *Model) appendLine(line string) {
	if m.logs.Len() > 0 && !strings.HasSuffix(m.logs.String(), "\n") {
		m.logs.WriteString("\n")
	}
	m.logs.WriteString(line + "\n")
	m.console.SetContent(m.logs.String())
	m.console.GotoBottom()
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	inner := max(20, width-4)
	// header(2) + labels(2) + command(1) + status(1) + borders(4)
	free := max(6, height-10)
	m.feedback.SetWidth(inner)
	m.feedback.SetHeight(free / 2)
	m.command.Width = inner - 2
	m.console.Width = inner
	m.console.Height = free - free/2
}

// Submitted reports whether the user sent an answer.
func (m Model) Submitted() bool { return m.submitted }

// Result is the answer, valid when Submitted is true.
func (m Model) Result() session.FeedbackResult { return m.result }

// Settings returns the preferences as last edited in the window.
func (m Model) Settings() settings.Settings {
	s := m.settings
	s.ProjectDirectory = m.projectDir
	s.CommandSectionVisible = true
	return s
}

func (m Model) View() string {
	header := titleStyle.Width(m.width).Render("  Interactive feedback  " + m.projectDir)
	prompt := promptStyle.Width(m.width).Render(m.prompt)

	feedbackBox, commandBox := blurredBox, blurredBox
	if m.focus == focusFeedback {
		feedbackBox = focusedBox
	} else {
		commandBox = focusedBox
	}

	body := lipgloss.JoinVertical(lipgloss.Left,
		labelStyle.Render("Feedback"),
		feedbackBox.Render(m.feedback.View()),
		labelStyle.Render("Command"),
		commandBox.Render(lipgloss.JoinVertical(lipgloss.Left, m.command.View(), m.console.View())),
	)

	hint := "ctrl+s submit  tab switch  enter run  ctrl+x stop  ctrl+t auto-execute  esc cancel"
	status := statusBarStyle.Width(m.width).Render(hint + "  |  " + m.status)
	return lipgloss.JoinVertical(lipgloss.Left, header, prompt, body, status)
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
