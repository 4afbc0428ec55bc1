package runner

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/ChuDiRen/interactive-feedback-mcp/errors"
	"github.com/ChuDiRen/interactive-feedback-mcp/events"
	"github.com/charmbracelet/log"
)

// TreeKiller terminates a process and every descendant it spawned.
type TreeKiller interface {
	KillTree(pid int) error
}

type Status string

const (
	StatusRunning Status = "RUNNING"
	StatusExited  Status = "EXITED"
	StatusKilled  Status = "KILLED"
	StatusError   Status = "ERROR"
)

// Execution is one spawned command. Its output buffer only grows.
type Execution struct {
	PID       int
	Command   string
	Cwd       string
	StartedAt time.Time

	mu       sync.Mutex
	output   strings.Builder
	status   Status
	exitCode int
	stopped  bool
	done     chan struct{}
}

// Snapshot is a point-in-time copy of an Execution.
type Snapshot struct {
	Running  bool   `json:"running"`
	PID      int    `json:"pid"`
	Command  string `json:"command"`
	Status   Status `json:"status"`
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output"`
}

func (e *Execution) Output() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.output.String()
}

func (e *Execution) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// ExitCode is meaningful once Status is EXITED; it is -1 otherwise.
func (e *Execution) ExitCode() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exitCode
}

// Done is closed after the process has been reaped.
func (e *Execution) Done() <-chan struct{} { return e.done }

func (e *Execution) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Running:  e.status == StatusRunning,
		PID:      e.PID,
		Command:  e.Command,
		Status:   e.status,
		ExitCode: e.exitCode,
		Output:   e.output.String(),
	}
}

func (e *Execution) append(chunk string) (pid int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.output.WriteString(chunk)
	return e.PID
}

// outputWriter receives both stdout and stderr. os/exec serializes writes
// when both streams share one comparable writer, which keeps chunks in the
// order the child produced them.
type outputWriter struct {
	exec *Execution
	bus  *events.Bus
}

func (w *outputWriter) Write(p []byte) (int, error) {
	chunk := string(p)
	pid := w.exec.append(chunk)
	if w.bus != nil {
		w.bus.Publish(events.Event{
			Type:    events.TypeCommandOutput,
			Payload: events.CommandOutput{PID: pid, Chunk: chunk},
		})
	}
	return len(p), nil
}

type Options struct {
	Bus    *events.Bus
	Logger *log.Logger
	Policy Policy
	// Dir is used when Run is called without a working directory.
	Dir    string
	Killer TreeKiller
	// OnRunningChange is called with true when a command starts and false
	// when it finishes. It runs under the runner's lock and must not call
	// back into the Runner.
	OnRunningChange func(running bool)
}

// Runner runs at most one shell command at a time.
type Runner struct {
	opts Options

	mu      sync.Mutex
	current *Execution
}

func New(opts Options) *Runner {
	if opts.Killer == nil {
		opts.Killer = NewTreeKiller()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Policy.Logger == nil {
		opts.Policy.Logger = opts.Logger
	}
	return &Runner{opts: opts}
}

// Current returns the most recent execution, running or not, or nil.
func (r *Runner) Current() *Execution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Running reports whether a command is in progress.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current != nil && r.current.Status() == StatusRunning
}

// Run starts command through the platform shell in cwd. A second Run while a
// command is still running fails with errors.ErrCommandRunning.
func (r *Runner) Run(command, cwd string) (*Execution, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, errors.Kindf(errors.KindValidation, "command is required")
	}
	if strings.TrimSpace(cwd) == "" {
		cwd = r.opts.Dir
	}
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, errors.Wrapf(err, "could not get working directory")
		}
		cwd = wd
	}
	if info, err := os.Stat(cwd); err != nil || !info.IsDir() {
		return nil, errors.Kindf(errors.KindValidation, "working directory '%s' does not exist", cwd)
	}
	if err := r.opts.Policy.Check(command, cwd); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil && r.current.Status() == StatusRunning {
		return nil, errors.WithKind(errors.ErrCommandRunning, errors.KindValidation, "run %q", command)
	}

	execution := &Execution{
		Command:  command,
		Cwd:      cwd,
		status:   StatusRunning,
		exitCode: -1,
		done:     make(chan struct{}),
	}
	w := &outputWriter{exec: execution, bus: r.opts.Bus}

	cmd := shellCommand(command)
	cmd.Dir = cwd
	cmd.Stdout = w
	cmd.Stderr = w
	cmd.WaitDelay = 2 * time.Second

	if err := cmd.Start(); err != nil {
		r.publish(events.TypeCommandError, events.CommandError{Message: err.Error()})
		return nil, errors.WithKind(err, errors.KindSpawn, "start %q", command)
	}
	execution.mu.Lock()
	execution.PID = cmd.Process.Pid
	execution.StartedAt = time.Now()
	execution.mu.Unlock()
	r.current = execution

	r.opts.Logger.Info("command started", "pid", execution.PID, "command", command, "cwd", cwd)
	r.publish(events.TypeCommandStarted, events.CommandStarted{PID: execution.PID, Command: command, Cwd: cwd})
	if r.opts.OnRunningChange != nil {
		r.opts.OnRunningChange(true)
	}

	go r.wait(cmd, execution)
	return execution, nil
}

func (r *Runner) wait(cmd *exec.Cmd, execution *Execution) {
	err := cmd.Wait()

	// Holding r.mu orders this state change against the next Run.
	r.mu.Lock()
	execution.mu.Lock()
	switch {
	case execution.stopped:
		execution.status = StatusKilled
	case err == nil:
		execution.status = StatusExited
		execution.exitCode = 0
	case errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil:
		// The shell exited but a background child kept the output pipe open.
		execution.status = StatusExited
		execution.exitCode = cmd.ProcessState.ExitCode()
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
			execution.status = StatusExited
			execution.exitCode = exitErr.ExitCode()
		} else {
			execution.status = StatusError
		}
	}
	status, code := execution.status, execution.exitCode
	execution.mu.Unlock()
	if r.opts.OnRunningChange != nil {
		r.opts.OnRunningChange(false)
	}
	r.mu.Unlock()

	switch status {
	case StatusExited:
		r.opts.Logger.Info("command exited", "pid", execution.PID, "exit_code", code)
		r.publish(events.TypeCommandExit, events.CommandExit{PID: execution.PID, ExitCode: code})
	case StatusError:
		r.opts.Logger.Error("command failed", "pid", execution.PID, "err", err)
		r.publish(events.TypeCommandError, events.CommandError{PID: execution.PID, Message: err.Error()})
	case StatusKilled:
		r.opts.Logger.Info("command reaped after stop", "pid", execution.PID)
	}

	close(execution.done)
}

// Stop kills the running command's whole process tree. It reports false when
// nothing was running. A failed tree kill is logged and still reported as a
// stop; Stop never waits for the process to exit.
func (r *Runner) Stop() bool {
	r.mu.Lock()
	execution := r.current
	r.mu.Unlock()
	if execution == nil {
		return false
	}

	execution.mu.Lock()
	if execution.status != StatusRunning || execution.stopped {
		execution.mu.Unlock()
		return false
	}
	execution.stopped = true
	execution.mu.Unlock()

	if err := r.opts.Killer.KillTree(execution.PID); err != nil {
		r.opts.Logger.Warn("process tree kill failed",
			"pid", execution.PID,
			"err", errors.WithKind(err, errors.KindKillTree, "kill tree %d", execution.PID))
	}
	r.opts.Logger.Info("command stopped", "pid", execution.PID)
	r.publish(events.TypeCommandStopped, events.CommandStopped{PID: execution.PID})
	return true
}

// Shutdown stops any running command and waits for it to be reaped or for
// ctx to end. Descendants left behind by a command that already exited are
// killed too.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.Stop()
	execution := r.Current()
	if execution == nil {
		return nil
	}
	if err := killLeftovers(r.opts.Killer, execution.PID); err != nil {
		r.opts.Logger.Debug("leftover process tree kill failed", "pid", execution.PID, "err", err)
	}
	select {
	case <-execution.Done():
		return nil
	case <-ctx.Done():
		return errors.WithKind(ctx.Err(), errors.KindKillTree, "wait for pid %d", execution.PID)
	}
}

func (r *Runner) publish(eventType string, payload any) {
	if r.opts.Bus == nil {
		return
	}
	r.opts.Bus.Publish(events.Event{Type: eventType, Payload: payload})
}
