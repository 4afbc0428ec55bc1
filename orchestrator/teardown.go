package orchestrator

import (
	"context"
	"os"
	"sync"

	"github.com/ChuDiRen/interactive-feedback-mcp/errors"
	"github.com/ChuDiRen/interactive-feedback-mcp/events"
	"github.com/ChuDiRen/interactive-feedback-mcp/rendezvous"
	"github.com/ChuDiRen/interactive-feedback-mcp/runner"
	"github.com/ChuDiRen/interactive-feedback-mcp/server"
	"github.com/ChuDiRen/interactive-feedback-mcp/session"
	"github.com/charmbracelet/log"
)

// Teardown releases everything one session acquired. Steps run in a fixed
// order and every step runs even when an earlier one failed.
type Teardown struct {
	session *session.Session
	logger  *log.Logger

	cancel context.CancelFunc
	result *rendezvous.Rendezvous
	runner *runner.Runner
	bus    *events.Bus
	server *server.Server
	files  []string

	once sync.Once
	err  error
}

// Run stops the running command, closes the bus, shuts the server down and
// removes temporary files. Later calls return the first call's error.
func (t *Teardown) Run() error {
	t.once.Do(func() {
		var errs []error

		if t.session.Finish(session.StatusFailed) {
			if t.result != nil {
				t.result.Fail(errors.ErrSessionClosed)
			}
		}
		if t.cancel != nil {
			t.cancel()
		}

		if t.runner != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			if err := t.runner.Shutdown(ctx); err != nil {
				t.logger.Warn("command did not exit", "err", err)
				errs = append(errs, err)
			}
			cancel()
		}

		if t.bus != nil {
			t.bus.Publish(events.Event{Type: events.TypeClosed, Payload: events.Closed{Session: t.session.ID}})
			t.bus.Close()
		}

		if t.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			if err := t.server.Close(ctx); err != nil {
				errs = append(errs, err)
			}
			cancel()
		}

		for _, path := range t.files {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				t.logger.Warn("could not remove temporary file", "path", path, "err", err)
				errs = append(errs, errors.Wrapf(err, "remove %s", path))
			}
		}

		t.session.Close()
		t.err = errors.Join(errs...)
		t.logger.Info("session closed", "status", t.session.Status())
	})
	return t.err
}
