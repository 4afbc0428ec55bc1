// Package orchestrator runs one feedback session per request: it starts the
// session UI, waits for the answer, a timeout or cancellation, and tears
// everything down exactly once.
package orchestrator

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/ChuDiRen/interactive-feedback-mcp/config"
	"github.com/ChuDiRen/interactive-feedback-mcp/errors"
	"github.com/ChuDiRen/interactive-feedback-mcp/events"
	"github.com/ChuDiRen/interactive-feedback-mcp/llm"
	"github.com/ChuDiRen/interactive-feedback-mcp/rendezvous"
	"github.com/ChuDiRen/interactive-feedback-mcp/runner"
	"github.com/ChuDiRen/interactive-feedback-mcp/server"
	"github.com/ChuDiRen/interactive-feedback-mcp/session"
	"github.com/ChuDiRen/interactive-feedback-mcp/settings"
	"github.com/charmbracelet/log"
)

// shutdownGrace bounds each teardown wait before connections or processes
// are forced closed.
const shutdownGrace = 2 * time.Second

// NotifyFunc tells the caller where the session can be answered.
type NotifyFunc func(ctx context.Context, url string)

type Options struct {
	Logger *log.Logger
	// LLM backs chat and image-to-text. Nil disables both.
	LLM      llm.LLMClient
	Settings *settings.Store
	// OpenBrowser replaces the platform browser launcher.
	OpenBrowser func(url string) error
	// Executable fills {exe} in the terminal UI command. Defaults to
	// os.Executable.
	Executable string
	// HandoffDir holds handoff files. Defaults to os.TempDir.
	HandoffDir string
	Killer     runner.TreeKiller
}

type Orchestrator struct {
	cfg    *config.Config
	opts   Options
	logger *log.Logger

	mu     sync.Mutex
	active *Teardown
}

func New(cfg *config.Config, opts Options) *Orchestrator {
	if cfg == nil {
		cfg = config.Default()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.OpenBrowser == nil {
		opts.OpenBrowser = openBrowser
	}
	return &Orchestrator{cfg: cfg, opts: opts, logger: opts.Logger}
}

type requestOptions struct {
	notify NotifyFunc
}

type RequestOption func(*requestOptions)

// WithNotify registers fn to receive the session URL once it is listening.
func WithNotify(fn NotifyFunc) RequestOption {
	return func(o *requestOptions) { o.notify = fn }
}

// RequestFeedback opens a session for projectDir showing summary and blocks
// until it is answered, times out or ctx ends. Only the first line of each
// argument is used. On timeout the configured policy decides between an
// empty result and a KindTimeout error.
func (o *Orchestrator) RequestFeedback(ctx context.Context, projectDir, summary string, opts ...RequestOption) (session.FeedbackResult, error) {
	var ro requestOptions
	for _, opt := range opts {
		opt(&ro)
	}

	projectDir = session.FirstLine(projectDir)
	summary = session.FirstLine(summary)
	if projectDir == "" {
		return session.FeedbackResult{}, errors.Kindf(errors.KindValidation, "project_directory is required")
	}
	if summary == "" {
		return session.FeedbackResult{}, errors.Kindf(errors.KindValidation, "summary is required")
	}
	if info, err := os.Stat(projectDir); err != nil || !info.IsDir() {
		return session.FeedbackResult{}, errors.Kindf(errors.KindValidation, "project directory %q does not exist", projectDir)
	}

	sess := session.New(projectDir, summary)
	td := &Teardown{session: sess, logger: o.logger.With("session", sess.ID)}
	if err := o.claim(td); err != nil {
		return session.FeedbackResult{}, err
	}
	defer o.release(td)
	defer func() {
		if err := td.Run(); err != nil {
			td.logger.Warn("teardown incomplete", "err", err)
		}
	}()

	var (
		result session.FeedbackResult
		err    error
	)
	switch o.cfg.UIMode {
	case config.UIModeTerminal:
		result, err = o.requestTerminal(ctx, sess, td)
	default:
		result, err = o.requestWeb(ctx, sess, td, ro)
	}
	if errors.Is(err, errors.ErrTimedOut) {
		td.logger.Info("feedback timed out", "policy", o.cfg.TimeoutPolicy)
		if o.cfg.TimeoutPolicy == config.TimeoutPolicyError {
			return session.FeedbackResult{}, errors.WithKind(err, errors.KindTimeout, "no feedback within %s", o.cfg.DialogTimeout())
		}
		return session.FeedbackResult{}, nil
	}
	return result, err
}

// Close tears down the session in flight, if any.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	td := o.active
	o.mu.Unlock()
	if td == nil {
		return nil
	}
	return td.Run()
}

func (o *Orchestrator) claim(td *Teardown) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != nil {
		return errors.Kindf(errors.KindValidation, "feedback session %s is still open", o.active.session.ID)
	}
	o.active = td
	return nil
}

func (o *Orchestrator) release(td *Teardown) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == td {
		o.active = nil
	}
}

// armTimeout runs onTimeout once the dialog timeout, measured from session
// creation, has elapsed. The returned stop func disarms it. A zero timeout
// never fires.
func (o *Orchestrator) armTimeout(sess *session.Session, onTimeout func()) (stop func()) {
	timeout := o.cfg.DialogTimeout()
	if timeout <= 0 {
		return func() {}
	}
	remaining := max(timeout-time.Since(sess.CreatedAt), 0)
	timer := time.AfterFunc(remaining, onTimeout)
	return func() { timer.Stop() }
}

func (o *Orchestrator) requestWeb(ctx context.Context, sess *session.Session, td *Teardown, ro requestOptions) (session.FeedbackResult, error) {
	logger := td.logger
	bus := events.New(events.WithLogger(logger))
	result := rendezvous.New()
	cmdRunner := runner.New(runner.Options{
		Bus:             bus,
		Logger:          logger,
		Dir:             sess.ProjectDirectory,
		Policy:          runner.ProjectPolicy(sess.ProjectDirectory, o.cfg.AllowedCommands, o.cfg.AllowedWorkdirs),
		Killer:          o.opts.Killer,
		OnRunningChange: sess.SetCommandRunning,
	})
	td.runner = cmdRunner
	td.bus = bus
	td.result = result

	srv, err := server.Start(ctx, server.Options{
		Session:           sess,
		Rendezvous:        result,
		Bus:               bus,
		Runner:            cmdRunner,
		Host:              o.cfg.Web.Host,
		Port:              o.cfg.Web.Port,
		DialogTimeout:     o.cfg.DialogTimeout(),
		HeartbeatInterval: o.cfg.HeartbeatInterval(),
		EnableImageToText: o.cfg.EnableImageToText,
		LLM:               o.opts.LLM,
		Settings:          o.opts.Settings,
		Logger:            logger,
	})
	if err != nil {
		sess.Finish(session.StatusFailed)
		return session.FeedbackResult{}, err
	}
	td.server = srv

	logger.Info("feedback session open", "url", srv.URL(), "project", sess.ProjectDirectory)
	if ro.notify != nil {
		ro.notify(ctx, srv.URL())
	}
	if o.cfg.Web.OpenBrowser {
		if err := o.opts.OpenBrowser(srv.URL()); err != nil {
			logger.Warn("could not open browser", "url", srv.URL(), "err", err)
		}
	}

	stop := o.armTimeout(sess, func() {
		if !sess.Finish(session.StatusTimedOut) {
			return
		}
		bus.Publish(events.Event{Type: events.TypeTimeout, Payload: events.Timeout{Session: sess.ID}})
		result.Fail(errors.ErrTimedOut)
	})
	defer stop()

	select {
	case <-result.Done():
	case <-ctx.Done():
		if sess.Finish(session.StatusFailed) {
			logger.Info("feedback request cancelled", "err", ctx.Err())
			result.Fail(ctx.Err())
		}
	}
	// Whichever path won Finish settles the rendezvous right after.
	return result.Wait(context.Background())
}
