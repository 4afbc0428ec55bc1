// Package server exposes one feedback session over HTTP, Server-Sent Events
// and WebSocket.
package server

import (
	"context"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/ChuDiRen/interactive-feedback-mcp/errors"
	"github.com/ChuDiRen/interactive-feedback-mcp/events"
	"github.com/ChuDiRen/interactive-feedback-mcp/llm"
	"github.com/ChuDiRen/interactive-feedback-mcp/rendezvous"
	"github.com/ChuDiRen/interactive-feedback-mcp/runner"
	"github.com/ChuDiRen/interactive-feedback-mcp/session"
	"github.com/ChuDiRen/interactive-feedback-mcp/settings"
	"github.com/charmbracelet/log"
)

const defaultHeartbeat = 20 * time.Second

type Options struct {
	Session    *session.Session
	Rendezvous *rendezvous.Rendezvous
	Bus        *events.Bus
	Runner     *runner.Runner

	Host string
	// Port 0 picks an ephemeral port.
	Port int
	// DialogTimeout is shown to the UI; enforcement belongs to the caller.
	DialogTimeout     time.Duration
	HeartbeatInterval time.Duration
	EnableImageToText bool

	// LLM may be nil, in which case chat and image-to-text report an error.
	LLM      llm.LLMClient
	Settings *settings.Store
	Logger   *log.Logger
}

type Server struct {
	opts    Options
	session *session.Session
	result  *rendezvous.Rendezvous
	bus     *events.Bus
	runner  *runner.Runner
	logger  *log.Logger

	httpServer *http.Server
	listener   net.Listener
	url        string

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Start binds the listener and begins serving. A port that cannot be bound
// is reported as a KindBind error; there is no fallback port.
func Start(ctx context.Context, opts Options) (*Server, error) {
	if opts.Session == nil {
		return nil, errors.Kindf(errors.KindValidation, "session is required")
	}
	if opts.Session.PromptSummary == "" {
		return nil, errors.Kindf(errors.KindValidation, "prompt is required")
	}
	if info, err := os.Stat(opts.Session.ProjectDirectory); err != nil || !info.IsDir() {
		return nil, errors.Kindf(errors.KindValidation, "project directory %q does not exist", opts.Session.ProjectDirectory)
	}
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeat
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Rendezvous == nil {
		opts.Rendezvous = rendezvous.New()
	}
	if opts.Bus == nil {
		opts.Bus = events.New(events.WithLogger(opts.Logger))
	}
	if opts.Runner == nil {
		sess := opts.Session
		opts.Runner = runner.New(runner.Options{
			Bus:             opts.Bus,
			Logger:          opts.Logger,
			Dir:             sess.ProjectDirectory,
			Policy:          runner.ProjectPolicy(sess.ProjectDirectory, nil, nil),
			OnRunningChange: sess.SetCommandRunning,
		})
	}

	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.WithKind(err, errors.KindBind, "listen on %s", addr)
	}

	s := &Server{
		opts:     opts,
		session:  opts.Session,
		result:   opts.Rendezvous,
		bus:      opts.Bus,
		runner:   opts.Runner,
		logger:   opts.Logger.With("session", opts.Session.ID),
		listener: listener,
		done:     make(chan struct{}),
	}
	port := listener.Addr().(*net.TCPAddr).Port
	s.session.SetPort(port)
	s.url = "http://" + net.JoinHostPort(opts.Host, strconv.Itoa(port)) + "/"

	s.httpServer = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", "err", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		s.heartbeat()
	}()

	s.logger.Info("feedback server listening", "url", s.url)
	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.Handle("GET /static/", http.FileServerFS(staticFS))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/submit", s.handleSubmit)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/image-to-text", s.handleImageToText)
	mux.HandleFunc("POST /api/run-command", s.handleRunCommand)
	mux.HandleFunc("POST /api/stop-command", s.handleStopCommand)
	mux.HandleFunc("GET /api/command", s.handleCommand)
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", s.handlePutSettings)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /ws", s.handleWS)
	return mux
}

func (s *Server) heartbeat() {
	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.bus.Publish(events.Event{Type: events.TypeHeartbeat, Payload: events.Heartbeat{Session: s.session.ID}})
		}
	}
}

// URL is the address a browser should open.
func (s *Server) URL() string { return s.url }

func (s *Server) Port() int { return s.session.Port() }

// Result is resolved by the first accepted submission.
func (s *Server) Result() *rendezvous.Rendezvous { return s.result }

func (s *Server) Bus() *events.Bus { return s.bus }

func (s *Server) Runner() *runner.Runner { return s.runner }

func (s *Server) Session() *session.Session { return s.session }

// Close stops the heartbeat and push streams and shuts the HTTP server down,
// forcing connections closed if ctx ends first. Later calls return the first
// call's result.
func (s *Server) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		close(s.done)
		err := s.httpServer.Shutdown(ctx)
		if err != nil {
			s.logger.Warn("graceful shutdown incomplete, forcing close", "err", err)
			if cerr := s.httpServer.Close(); cerr != nil {
				err = errors.Join(err, cerr)
			}
			s.closeErr = errors.Wrapf(err, "shut down feedback server")
		}
		s.wg.Wait()
		s.logger.Info("feedback server closed")
	})
	return s.closeErr
}
