package session

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/ChuDiRen/interactive-feedback-mcp/errors"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// HandoffPath returns a fresh path in dir for an out-of-process result.
func HandoffPath(dir, sessionID string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "feedback-"+sessionID+".json")
}

// WriteHandoff writes result to path atomically via a temp file + os.Rename,
// so a reader never observes a partial document.
func WriteHandoff(path string, result FeedbackResult) (err error) {
	data, err := json.Marshal(result)
	if err != nil {
		return errors.WithKind(err, errors.KindHandoff, "encode feedback result")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".feedback-*.json.tmp")
	if err != nil {
		return errors.WithKind(err, errors.KindHandoff, "create temp handoff file")
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.WithKind(err, errors.KindHandoff, "write handoff file")
	}
	if err = tmp.Close(); err != nil {
		return errors.WithKind(err, errors.KindHandoff, "close handoff file")
	}
	if err = os.Rename(tmpName, path); err != nil {
		return errors.WithKind(err, errors.KindHandoff, "publish handoff file")
	}
	return nil
}

// ReadHandoff reads the result at path and removes the file. A missing file or
// a document that is not a FeedbackResult is a KindHandoff error.
func ReadHandoff(path string) (FeedbackResult, error) {
	var result FeedbackResult
	data, err := os.ReadFile(path)
	if err != nil {
		return result, errors.WithKind(err, errors.KindHandoff, "read handoff file %s", path)
	}
	if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
		log.Warn("could not remove handoff file", "path", path, "err", rmErr)
	}

	var doc handoffDocument
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return FeedbackResult{}, errors.WithKind(err, errors.KindHandoff, "parse handoff file %s", path)
	}
	if doc.CommandLogs == nil || doc.InteractiveFeedback == nil {
		return FeedbackResult{}, errors.Kindf(errors.KindHandoff, "handoff file %s needs both command_logs and interactive_feedback", path)
	}
	result.CommandLogs = *doc.CommandLogs
	result.InteractiveFeedback = *doc.InteractiveFeedback
	return result, nil
}

// handoffDocument tells a missing key apart from an empty string.
type handoffDocument struct {
	CommandLogs         *string `json:"command_logs"`
	InteractiveFeedback *string `json:"interactive_feedback"`
}

// WatchHandoff calls onReady once when path is created in its directory. It
// returns when ctx is cancelled or after onReady fires.
func WatchHandoff(ctx context.Context, path string, onReady func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.WithKind(err, errors.KindHandoff, "create handoff watcher")
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return errors.WithKind(err, errors.KindHandoff, "watch %s", filepath.Dir(path))
	}
	if _, err := os.Stat(path); err == nil {
		onReady()
		return nil
	}

	want := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != want {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Write) {
				onReady()
				return nil
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			// Watcher errors are non-fatal; the process exit still delivers the result.
		}
	}
}
