package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ChuDiRen/interactive-feedback-mcp/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestHandoffRoundTrip(t *testing.T) {
	dir := t.TempDir()
	rapid.Check(t, func(rt *rapid.T) {
		want := FeedbackResult{
			CommandLogs:         rapid.String().Draw(rt, "command_logs"),
			InteractiveFeedback: rapid.String().Draw(rt, "interactive_feedback"),
		}
		path := HandoffPath(dir, rapid.StringMatching(`[a-f0-9]{8}`).Draw(rt, "id"))

		if err := WriteHandoff(path, want); err != nil {
			rt.Fatalf("write: %v", err)
		}
		got, err := ReadHandoff(path)
		if err != nil {
			rt.Fatalf("read: %v", err)
		}
		if got != want {
			rt.Fatalf("round trip mismatch: got %+v want %+v", got, want)
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			rt.Fatalf("handoff file still present after read")
		}
	})
}

func TestReadHandoffMissing(t *testing.T) {
	_, err := ReadHandoff(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.Equal(t, errors.KindHandoff, errors.KindOf(err))
}

func TestReadHandoffMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"interactive_feedback": 3}`), 0o600))
	_, err := ReadHandoff(path)
	require.Error(t, err)
	assert.Equal(t, errors.KindHandoff, errors.KindOf(err))
}

func TestReadHandoffNeedsBothKeys(t *testing.T) {
	for name, doc := range map[string]string{
		"empty object":    `{}`,
		"no feedback":     `{"command_logs":"ok"}`,
		"no command logs": `{"interactive_feedback":"ok"}`,
		"null feedback":   `{"command_logs":"","interactive_feedback":null}`,
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "partial.json")
			require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
			_, err := ReadHandoff(path)
			require.Error(t, err)
			assert.Equal(t, errors.KindHandoff, errors.KindOf(err))
		})
	}

	path := filepath.Join(t.TempDir(), "empty-strings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"command_logs":"","interactive_feedback":""}`), 0o600))
	got, err := ReadHandoff(path)
	require.NoError(t, err)
	assert.Equal(t, FeedbackResult{}, got)
}

func TestWriteHandoffLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := HandoffPath(dir, "abc")
	require.NoError(t, WriteHandoff(path, FeedbackResult{InteractiveFeedback: "ok"}))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "feedback-abc.json", entries[0].Name())
}

func TestWatchHandoffFiresOnCreate(t *testing.T) {
	dir := t.TempDir()
	path := HandoffPath(dir, "watch")
	ready := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- WatchHandoff(ctx, path, func() { close(ready) }) }()

	// Give the watcher time to register before the file appears.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, WriteHandoff(path, FeedbackResult{InteractiveFeedback: "hi"}))

	select {
	case <-ready:
	case <-ctx.Done():
		t.Fatal("watcher never reported the handoff file")
	}
	require.NoError(t, <-done)
}
