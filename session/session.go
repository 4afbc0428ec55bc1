package session

import (
	"strings"
	"sync"
	"time"

	"github.com/ChuDiRen/interactive-feedback-mcp/errors"
	"github.com/google/uuid"
)

type Status string

const (
	StatusPending        Status = "PENDING"
	StatusRunningCommand Status = "RUNNING_COMMAND"
	StatusSubmitted      Status = "SUBMITTED"
	StatusTimedOut       Status = "TIMED_OUT"
	StatusFailed         Status = "FAILED"
	StatusClosed         Status = "CLOSED"
)

var transitions = map[Status][]Status{
	StatusPending:        {StatusRunningCommand, StatusSubmitted, StatusTimedOut, StatusFailed},
	StatusRunningCommand: {StatusPending, StatusSubmitted, StatusTimedOut, StatusFailed},
	StatusSubmitted:      {StatusClosed},
	StatusTimedOut:       {StatusClosed},
	StatusFailed:         {StatusClosed},
}

// Terminal reports whether no further result can be produced in s.
func (s Status) Terminal() bool {
	switch s {
	case StatusSubmitted, StatusTimedOut, StatusFailed, StatusClosed:
		return true
	}
	return false
}

// FeedbackResult is what the waiting tool call receives.
type FeedbackResult struct {
	CommandLogs         string `json:"command_logs"`
	InteractiveFeedback string `json:"interactive_feedback"`
}

// Session is one feedback round trip. Identity fields are fixed at creation;
// Status moves only through Transition.
type Session struct {
	ID               string    `json:"id"`
	ProjectDirectory string    `json:"project_directory"`
	PromptSummary    string    `json:"prompt_summary"`
	CreatedAt        time.Time `json:"created_at"`

	mu     sync.Mutex
	port   int
	status Status
}

// New creates a PENDING session. Only the first line of the summary is kept.
func New(projectDirectory, summary string) *Session {
	return &Session{
		ID:               uuid.NewString(),
		ProjectDirectory: FirstLine(projectDirectory),
		PromptSummary:    FirstLine(summary),
		CreatedAt:        time.Now(),
		status:           StatusPending,
	}
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

func (s *Session) SetPort(port int) {
	s.mu.Lock()
	s.port = port
	s.mu.Unlock()
}

// Transition moves the session to next, rejecting moves the state machine
// does not allow.
func (s *Session) Transition(next Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(next)
}

func (s *Session) transitionLocked(next Status) error {
	for _, allowed := range transitions[s.status] {
		if allowed == next {
			s.status = next
			return nil
		}
	}
	return errors.Kindf(errors.KindValidation, "session %s: invalid transition %s -> %s", s.ID, s.status, next)
}

// SetCommandRunning toggles between PENDING and RUNNING_COMMAND. It is a
// no-op once the session has reached a terminal state.
func (s *Session) SetCommandRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case running && s.status == StatusPending:
		s.status = StatusRunningCommand
	case !running && s.status == StatusRunningCommand:
		s.status = StatusPending
	}
}

// Finish moves a live session into a terminal state. It returns false when
// the session had already finished.
func (s *Session) Finish(next Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return false
	}
	return s.transitionLocked(next) == nil
}

// Close marks a finished session CLOSED. Calling it again is harmless.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusClosed {
		return
	}
	if !s.status.Terminal() {
		s.status = StatusFailed
	}
	s.status = StatusClosed
}

// FirstLine returns the first line of v with surrounding whitespace trimmed.
func FirstLine(v string) string {
	if i := strings.IndexAny(v, "\r\n"); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}
