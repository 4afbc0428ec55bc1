package errors

import (
	stderrors "errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// Kind classifies failures so callers can decide how to surface them.
type Kind string

const (
	KindUnknown    Kind = ""
	KindValidation Kind = "validation"
	KindBind       Kind = "bind"
	KindSpawn      Kind = "spawn"
	KindKillTree   Kind = "kill_tree"
	KindTimeout    Kind = "timeout"
	KindProvider   Kind = "provider"
	KindHandoff    Kind = "handoff"
	KindClosed     Kind = "closed"
)

var (
	ErrSessionClosed  = stderrors.New("session already closed")
	ErrCommandRunning = stderrors.New("a command is already running")
	ErrNoCommand      = stderrors.New("no command is running")
	ErrTimedOut       = stderrors.New("feedback dialog timed out")
)

// Error attaches a Kind to an underlying error.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a new error with file and line number information.
func New(format string, a ...interface{}) error {
	return fmt.Errorf("[%s] %s", caller(2), fmt.Sprintf(format, a...))
}

// Wrapf adds context (including file and line number) to an existing error.
// If the provided error is nil, Wrapf returns nil.
func Wrapf(err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("[%s] %s: %w", caller(2), fmt.Sprintf(format, a...), err)
}

// Kindf creates a new kinded error with file and line number information.
func Kindf(kind Kind, format string, a ...interface{}) error {
	return &Error{
		Kind: kind,
		Err:  fmt.Errorf("[%s] %s", caller(2), fmt.Sprintf(format, a...)),
	}
}

// WithKind wraps err with context and a Kind. Nil stays nil.
func WithKind(err error, kind Kind, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind: kind,
		Err:  fmt.Errorf("[%s] %s: %w", caller(2), fmt.Sprintf(format, a...), err),
	}
}

// KindOf returns the outermost Kind found in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	if stderrors.Is(err, ErrSessionClosed) {
		return KindClosed
	}
	if stderrors.Is(err, ErrTimedOut) {
		return KindTimeout
	}
	return KindUnknown
}

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func Join(errs ...error) error { return stderrors.Join(errs...) }

func caller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "???:0"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}
