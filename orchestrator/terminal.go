package orchestrator

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"

	"github.com/ChuDiRen/interactive-feedback-mcp/errors"
	"github.com/ChuDiRen/interactive-feedback-mcp/runner"
	"github.com/ChuDiRen/interactive-feedback-mcp/session"
)

// expandCommand fills the {exe}, {project}, {prompt} and {output}
// placeholders of the configured UI command.
func expandCommand(template []string, values map[string]string) []string {
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{"+k+"}", v)
	}
	replacer := strings.NewReplacer(pairs...)
	argv := make([]string, len(template))
	for i, arg := range template {
		argv[i] = replacer.Replace(arg)
	}
	return argv
}

func (o *Orchestrator) executable() string {
	if o.opts.Executable != "" {
		return o.opts.Executable
	}
	exe, err := os.Executable()
	if err != nil {
		return os.Args[0]
	}
	return exe
}

// requestTerminal launches the UI as a separate process and collects its
// answer from the handoff file once it exits.
func (o *Orchestrator) requestTerminal(ctx context.Context, sess *session.Session, td *Teardown) (session.FeedbackResult, error) {
	logger := td.logger
	path := session.HandoffPath(o.opts.HandoffDir, sess.ID)
	td.files = append(td.files, path)

	argv := expandCommand(o.cfg.TerminalUI.Command, map[string]string{
		"exe":     o.executable(),
		"project": sess.ProjectDirectory,
		"prompt":  sess.PromptSummary,
		"output":  path,
	})
	if len(argv) == 0 || argv[0] == "" {
		sess.Finish(session.StatusFailed)
		return session.FeedbackResult{}, errors.Kindf(errors.KindValidation, "terminal_ui.command is empty")
	}

	uiCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	td.cancel = cancel

	cmd := exec.CommandContext(uiCtx, argv[0], argv[1:]...)
	cmd.Dir = sess.ProjectDirectory
	cmd.Cancel = func() error { return runner.Interrupt(cmd.Process) }
	cmd.WaitDelay = shutdownGrace
	if err := cmd.Start(); err != nil {
		sess.Finish(session.StatusFailed)
		return session.FeedbackResult{}, errors.WithKind(err, errors.KindSpawn, "start feedback ui %q", argv[0])
	}
	logger.Info("feedback ui started", "pid", cmd.Process.Pid, "argv", argv)

	var timedOut atomic.Bool
	stop := o.armTimeout(sess, func() {
		if _, err := os.Stat(path); err == nil {
			sess.Finish(session.StatusSubmitted)
		}
		if sess.Finish(session.StatusTimedOut) {
			timedOut.Store(true)
			logger.Info("feedback ui timed out, stopping it", "pid", cmd.Process.Pid)
		} else {
			logger.Warn("feedback ui still running after its answer, stopping it", "pid", cmd.Process.Pid)
		}
		cancel()
	})
	defer stop()

	go func() {
		err := session.WatchHandoff(uiCtx, path, func() {
			logger.Info("handoff file written", "path", path)
			sess.Finish(session.StatusSubmitted)
		})
		if err != nil {
			logger.Warn("handoff watcher stopped", "err", err)
		}
	}()

	waitErr := cmd.Wait()
	switch {
	case timedOut.Load():
		return session.FeedbackResult{}, errors.ErrTimedOut
	case ctx.Err() != nil:
		sess.Finish(session.StatusFailed)
		return session.FeedbackResult{}, ctx.Err()
	case waitErr != nil && sess.Status() != session.StatusSubmitted:
		sess.Finish(session.StatusFailed)
		return session.FeedbackResult{}, errors.WithKind(waitErr, errors.KindHandoff, "feedback ui exited without an answer")
	}

	result, err := session.ReadHandoff(path)
	if err != nil {
		sess.Finish(session.StatusFailed)
		return session.FeedbackResult{}, err
	}
	sess.Finish(session.StatusSubmitted)
	return result, nil
}
