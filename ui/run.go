package ui

import (
	"context"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/ChuDiRen/interactive-feedback-mcp/errors"
	"github.com/ChuDiRen/interactive-feedback-mcp/events"
	"github.com/ChuDiRen/interactive-feedback-mcp/runner"
	"github.com/ChuDiRen/interactive-feedback-mcp/session"
	"github.com/ChuDiRen/interactive-feedback-mcp/settings"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
)

// ErrCancelled is returned when the window closes without an answer.
var ErrCancelled = errors.Kindf(errors.KindHandoff, "feedback window closed without an answer")

type Options struct {
	ProjectDirectory string
	Prompt           string
	OutputFile       string
	// TTY reads and draws on the controlling terminal instead of
	// stdin/stdout, which may belong to a parent process.
	TTY             bool
	AllowedCommands []string
	AllowedWorkdirs []string
	Settings        *settings.Store
	Logger          *log.Logger
}

// Run shows the feedback window until the user submits or cancels. A
// submitted answer is written to opts.OutputFile.
func Run(ctx context.Context, opts Options) error {
	if opts.OutputFile == "" {
		return errors.Kindf(errors.KindValidation, "output file is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}

	saved, err := opts.Settings.Load(opts.ProjectDirectory)
	if err != nil {
		opts.Logger.Warn("could not load settings", "err", err)
	}

	bus := events.New(events.WithLogger(opts.Logger))
	defer bus.Close()
	cmdRunner := runner.New(runner.Options{
		Bus:    bus,
		Logger: opts.Logger,
		Dir:    opts.ProjectDirectory,
		Policy: runner.ProjectPolicy(opts.ProjectDirectory, opts.AllowedCommands, opts.AllowedWorkdirs),
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := cmdRunner.Shutdown(shutdownCtx); err != nil {
			opts.Logger.Warn("command still running at exit", "err", err)
		}
	}()

	sub := bus.Subscribe()
	model := New(opts.ProjectDirectory, session.FirstLine(opts.Prompt), cmdRunner, sub, saved)

	programOpts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}
	if opts.TTY {
		out, err := openTTYOutput()
		if err != nil {
			return errors.Wrapf(err, "open terminal for output")
		}
		defer out.Close()
		programOpts = append(programOpts, tea.WithInputTTY(), tea.WithOutput(out))
	}

	final, err := tea.NewProgram(model, programOpts...).Run()
	if err != nil {
		return errors.Wrapf(err, "feedback window")
	}
	return finish(final.(Model), opts)
}

// finish persists the window's outcome.
func finish(m Model, opts Options) error {
	if err := opts.Settings.Save(opts.ProjectDirectory, m.Settings()); err != nil {
		opts.Logger.Warn("could not save settings", "err", err)
	}
	if !m.Submitted() {
		return ErrCancelled
	}
	return session.WriteHandoff(opts.OutputFile, m.Result())
}

func openTTYOutput() (*os.File, error) {
	name := "/dev/tty"
	if runtime.GOOS == "windows" {
		name = "CONOUT$"
	}
	return os.OpenFile(name, os.O_WRONLY, 0)
}
