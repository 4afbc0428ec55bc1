package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Option configures RuntimeLogger creation.
type Option func(*newOptions)

type newOptions struct {
	dir    string
	level  string
	writer io.Writer
	prefix string
}

// WithDir overrides the log directory (default ~/.interactive-feedback/logs).
func WithDir(dir string) Option {
	return func(opts *newOptions) {
		opts.dir = strings.TrimSpace(dir)
	}
}

// WithLevel sets the minimum level by name ("debug", "info", ...).
func WithLevel(level string) Option {
	return func(opts *newOptions) {
		opts.level = strings.TrimSpace(level)
	}
}

// WithWriter sends records to w instead of a log file.
func WithWriter(w io.Writer) Option {
	return func(opts *newOptions) {
		opts.writer = w
	}
}

// WithPrefix names the log file, e.g. "serve" gives serve-<timestamp>.log.
func WithPrefix(prefix string) Option {
	return func(opts *newOptions) {
		opts.prefix = strings.TrimSpace(prefix)
	}
}

// RuntimeLogger writes structured JSON logs. Stdout is never used because it
// carries MCP framing.
type RuntimeLogger struct {
	Logger *log.Logger
	file   *os.File
	path   string
}

func New(ctx context.Context, options ...Option) (*RuntimeLogger, error) {
	resolved := resolveOptions(options)

	level, err := log.ParseLevel(resolved.level)
	if err != nil {
		level = log.InfoLevel
	}

	out := resolved.writer
	var file *os.File
	var filePath string
	if out == nil {
		if err := os.MkdirAll(resolved.dir, 0o750); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		timestamp := time.Now().UTC().Format("20060102-150405")
		filePath = filepath.Join(resolved.dir, fmt.Sprintf("%s-%s-%d.log", resolved.prefix, timestamp, os.Getpid()))
		// #nosec G304 -- filePath is constructed from trusted local paths.
		file, err = os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = file
	}

	logger := log.NewWithOptions(out, log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
	logger.SetFormatter(log.JSONFormatter)

	rl := &RuntimeLogger{Logger: logger, file: file, path: filePath}
	if filePath != "" {
		rl.Logger.With("log_file", filePath).Debug("logger initialized")
	}

	_ = ctx
	return rl, nil
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}

// Close flushes and closes the log file.
func (r *RuntimeLogger) Close() error {
	if r == nil || r.file == nil {
		return nil
	}
	return r.file.Close()
}

// Path returns the current log file path, empty when logging to a writer.
func (r *RuntimeLogger) Path() string {
	if r == nil {
		return ""
	}
	return r.path
}

func resolveOptions(options []Option) newOptions {
	resolved := newOptions{prefix: "feedback", level: "info"}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(&resolved)
	}
	if resolved.dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			resolved.dir = filepath.Join(home, ".interactive-feedback", "logs")
		} else {
			resolved.dir = filepath.Join(os.TempDir(), "interactive-feedback-logs")
		}
	}
	return resolved
}
