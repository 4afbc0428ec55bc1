package ui

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/ChuDiRen/interactive-feedback-mcp/errors"
	"github.com/ChuDiRen/interactive-feedback-mcp/events"
	"github.com/ChuDiRen/interactive-feedback-mcp/runner"
	"github.com/ChuDiRen/interactive-feedback-mcp/session"
	"github.com/ChuDiRen/interactive-feedback-mcp/settings"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestModel(t *testing.T, saved settings.Settings) (Model, *events.Bus) {
	t.Helper()
	dir := t.TempDir()
	logger := log.New(io.Discard)
	bus := events.New(events.WithLogger(logger))
	r := runner.New(runner.Options{Bus: bus, Logger: logger, Dir: dir, Policy: runner.ProjectPolicy(dir, nil, nil)})
	t.Cleanup(func() {
		r.Stop()
		bus.Close()
	})
	return New(dir, "Please review", r, bus.Subscribe(), saved), bus
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out, cmd
}

func typeText(t *testing.T, m Model, text string) Model {
	t.Helper()
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
	return m
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestSubmitCollectsFeedbackAndLogs(t *testing.T) {
	m, _ := newTestModel(t, settings.Settings{})
	m = typeText(t, m, "looks good")
	m, _ = update(t, m, eventMsg{event: events.Event{Type: events.TypeCommandOutput, Payload: events.CommandOutput{Chunk: "ok\n"}}})

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlS})
	assert.True(t, isQuit(cmd))
	assert.True(t, m.Submitted())
	assert.Equal(t, session.FeedbackResult{InteractiveFeedback: "looks good", CommandLogs: "ok\n"}, m.Result())
}

func TestEscapeCancels(t *testing.T) {
	m, _ := newTestModel(t, settings.Settings{})
	m = typeText(t, m, "draft")
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.True(t, isQuit(cmd))
	assert.False(t, m.Submitted())
}

func TestConsoleLines(t *testing.T) {
	m, _ := newTestModel(t, settings.Settings{})
	for _, ev := range []events.Event{
		{Type: events.TypeCommandStarted, Payload: events.CommandStarted{PID: 7, Command: "make"}},
		{Type: events.TypeCommandOutput, Payload: events.CommandOutput{PID: 7, Chunk: "partial"}},
		{Type: events.TypeCommandExit, Payload: events.CommandExit{PID: 7, ExitCode: 2}},
		{Type: events.TypeCommandStopped, Payload: events.CommandStopped{PID: 8}},
		{Type: events.TypeHeartbeat, Payload: events.Heartbeat{Session: "s"}},
	} {
		var cmd tea.Cmd
		m, cmd = update(t, m, eventMsg{event: ev})
		assert.NotNil(t, cmd, "keeps listening after %s", ev.Type)
	}
	assert.Equal(t, "$ make\npartial\nProcess exited with code 2\nCommand stopped\n", m.logs.String())
}

func TestConsoleWritesAfterModelCopies(t *testing.T) {
	m, _ := newTestModel(t, settings.Settings{})
	for i := 0; i < 3; i++ {
		copied := m
		m, _ = update(t, copied, eventMsg{event: events.Event{Type: events.TypeCommandOutput, Payload: events.CommandOutput{Chunk: "x"}}})
		m = typeText(t, m, "y")
	}
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlS})
	assert.True(t, isQuit(cmd))
	assert.Equal(t, session.FeedbackResult{InteractiveFeedback: "yyy", CommandLogs: "xxx"}, m.Result())
}

func TestRunCommandFromInput(t *testing.T) {
	m, _ := newTestModel(t, settings.Settings{})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	require.Equal(t, focusCommand, m.focus)
	m = typeText(t, m, "echo from-ui")

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	result, ok := cmd().(runResultMsg)
	require.True(t, ok)
	require.NoError(t, result.err)
	m, _ = update(t, m, result)
	assert.Contains(t, m.status, "running")
	assert.Equal(t, "echo from-ui", m.Settings().Command)

	listen := m.listen()
	deadline := time.After(10 * time.Second)
	for {
		done := make(chan tea.Msg, 1)
		go func() { done <- listen() }()
		select {
		case msg := <-done:
			m, listen = update(t, m, msg)
		case <-deadline:
			t.Fatalf("no exit event, console so far: %q", m.logs.String())
		}
		if m.status == "ready" {
			break
		}
	}
	assert.Contains(t, m.logs.String(), "from-ui\n")
	assert.Contains(t, m.logs.String(), "Process exited with code 0")
}

func TestRunRejectedOutsideProject(t *testing.T) {
	m, _ := newTestModel(t, settings.Settings{})
	m, _ = update(t, m, runResultMsg{err: errors.Kindf(errors.KindValidation, "working directory '/' is outside the allowed directories")})
	assert.Contains(t, m.logs.String(), "Error: ")
	assert.Equal(t, "command failed to start", m.status)
}

func TestAutoExecuteToggleAndInit(t *testing.T) {
	m, _ := newTestModel(t, settings.Settings{Command: "true", AutoExecute: true})
	assert.Equal(t, "true", m.command.Value())
	assert.NotNil(t, m.Init())

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlT})
	assert.False(t, m.Settings().AutoExecute)
	assert.Equal(t, "auto-execute off", m.status)
}

func TestStopWithNothingRunning(t *testing.T) {
	m, _ := newTestModel(t, settings.Settings{})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlX})
	assert.Equal(t, "no command is running", m.status)
}

func TestViewRendersPrompt(t *testing.T) {
	m, _ := newTestModel(t, settings.Settings{})
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	view := m.View()
	assert.Contains(t, view, "Please review")
	assert.Contains(t, view, "ctrl+s submit")
}

func TestFinishWritesHandoff(t *testing.T) {
	m, _ := newTestModel(t, settings.Settings{})
	m = typeText(t, m, "answer")
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlS})

	storeDir := t.TempDir()
	store := settings.NewStore(storeDir)
	out := filepath.Join(t.TempDir(), "result.json")
	require.NoError(t, finish(m, Options{ProjectDirectory: m.projectDir, OutputFile: out, Settings: store, Logger: log.New(io.Discard)}))

	got, err := session.ReadHandoff(out)
	require.NoError(t, err)
	assert.Equal(t, "answer", got.InteractiveFeedback)

	saved, err := store.Load(m.projectDir)
	require.NoError(t, err)
	assert.True(t, saved.CommandSectionVisible)
}

func TestFinishWithoutAnswer(t *testing.T) {
	m, _ := newTestModel(t, settings.Settings{})
	out := filepath.Join(t.TempDir(), "result.json")
	err := finish(m, Options{ProjectDirectory: m.projectDir, OutputFile: out, Logger: log.New(io.Discard)})
	assert.ErrorIs(t, err, ErrCancelled)
	assert.NoFileExists(t, out)
}
