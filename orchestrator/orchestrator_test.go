package orchestrator

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ChuDiRen/interactive-feedback-mcp/config"
	"github.com/ChuDiRen/interactive-feedback-mcp/errors"
	"github.com/ChuDiRen/interactive-feedback-mcp/events"
	"github.com/ChuDiRen/interactive-feedback-mcp/session"
	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Web.Port = 0
	cfg.Web.OpenBrowser = false
	cfg.SettingsDir = ""
	return cfg
}

func newTestOrchestrator(cfg *config.Config) *Orchestrator {
	return New(cfg, Options{Logger: log.New(io.Discard)})
}

// submit answers the session at url. It returns 0 when the request fails.
func submit(url, feedback string) int {
	resp, err := http.Post(url+"api/submit", "application/json",
		strings.NewReader(`{"interactive_feedback":"`+feedback+`","command_logs":"log"}`))
	if err != nil {
		return 0
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestRequestFeedbackWeb(t *testing.T) {
	o := newTestOrchestrator(testConfig())
	dir := t.TempDir()

	var sessionURL string
	result, err := o.RequestFeedback(context.Background(), dir, "Please review\nignored", WithNotify(func(ctx context.Context, url string) {
		sessionURL = url
		go submit(url, "looks good")
	}))
	require.NoError(t, err)
	assert.Equal(t, session.FeedbackResult{InteractiveFeedback: "looks good", CommandLogs: "log"}, result)

	_, err = http.Get(sessionURL + "health")
	assert.Error(t, err, "server is shut down after the answer")
}

func TestRequestFeedbackOpensBrowser(t *testing.T) {
	cfg := testConfig()
	cfg.Web.OpenBrowser = true
	var opened atomic.Value
	o := New(cfg, Options{
		Logger: log.New(io.Discard),
		OpenBrowser: func(url string) error {
			opened.Store(url)
			go submit(url, "ok")
			return nil
		},
	})

	_, err := o.RequestFeedback(context.Background(), t.TempDir(), "summary")
	require.NoError(t, err)
	assert.NotEmpty(t, opened.Load())
}

func TestRequestFeedbackTimeoutEmpty(t *testing.T) {
	cfg := testConfig()
	cfg.DialogTimeoutMs = 50
	o := newTestOrchestrator(cfg)

	start := time.Now()
	result, err := o.RequestFeedback(context.Background(), t.TempDir(), "summary")
	require.NoError(t, err)
	assert.Equal(t, session.FeedbackResult{}, result)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRequestFeedbackTimeoutError(t *testing.T) {
	cfg := testConfig()
	cfg.DialogTimeoutMs = 50
	cfg.TimeoutPolicy = config.TimeoutPolicyError
	o := newTestOrchestrator(cfg)

	_, err := o.RequestFeedback(context.Background(), t.TempDir(), "summary")
	require.Error(t, err)
	assert.Equal(t, errors.KindTimeout, errors.KindOf(err))
	assert.True(t, errors.Is(err, errors.ErrTimedOut))
}

func TestRequestFeedbackCancelled(t *testing.T) {
	o := newTestOrchestrator(testConfig())
	ctx, cancel := context.WithCancel(context.Background())

	var sessionURL string
	_, err := o.RequestFeedback(ctx, t.TempDir(), "summary", WithNotify(func(_ context.Context, url string) {
		sessionURL = url
		cancel()
	}))
	require.ErrorIs(t, err, context.Canceled)
	_, err = http.Get(sessionURL + "health")
	assert.Error(t, err)
}

func TestRequestFeedbackValidation(t *testing.T) {
	o := newTestOrchestrator(testConfig())
	ctx := context.Background()

	_, err := o.RequestFeedback(ctx, "", "summary")
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
	_, err = o.RequestFeedback(ctx, t.TempDir(), "\n")
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
	_, err = o.RequestFeedback(ctx, filepath.Join(t.TempDir(), "missing"), "summary")
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}

func TestRequestFeedbackUsesFirstLineOfProject(t *testing.T) {
	o := newTestOrchestrator(testConfig())
	dir := t.TempDir()
	_, err := o.RequestFeedback(context.Background(), dir+"\nsecond", "summary", WithNotify(func(_ context.Context, url string) {
		go submit(url, "x")
	}))
	require.NoError(t, err)
}

func TestOneSessionAtATime(t *testing.T) {
	o := newTestOrchestrator(testConfig())
	open := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		_, err := o.RequestFeedback(context.Background(), t.TempDir(), "first", WithNotify(func(_ context.Context, url string) {
			open <- url
		}))
		done <- err
	}()

	url := <-open
	_, err := o.RequestFeedback(context.Background(), t.TempDir(), "second")
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))

	assert.Equal(t, http.StatusOK, submit(url, "first answer"))
	require.NoError(t, <-done)
}

func TestCloseReleasesWaitingRequest(t *testing.T) {
	o := newTestOrchestrator(testConfig())
	open := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := o.RequestFeedback(context.Background(), t.TempDir(), "summary", WithNotify(func(context.Context, string) {
			close(open)
		}))
		done <- err
	}()
	<-open
	require.NoError(t, o.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, errors.ErrSessionClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("request still waiting after Close")
	}
	assert.NoError(t, o.Close())
}

func TestBindFailurePropagates(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig()
	cfg.Web.Port = ln.Addr().(*net.TCPAddr).Port
	o := newTestOrchestrator(cfg)

	_, err = o.RequestFeedback(context.Background(), t.TempDir(), "summary")
	require.Error(t, err)
	assert.Equal(t, errors.KindBind, errors.KindOf(err))
}

func TestTeardownIsIdempotent(t *testing.T) {
	o := newTestOrchestrator(testConfig())
	dir := t.TempDir()
	tmp := filepath.Join(dir, "leftover.json")
	require.NoError(t, os.WriteFile(tmp, []byte("{}"), 0o600))

	var (
		td   *Teardown
		sub  *events.Subscription
		runs = make(chan [2]error, 1)
	)
	_, err := o.RequestFeedback(context.Background(), dir, "summary", WithNotify(func(context.Context, string) {
		td = o.active
		td.files = append(td.files, tmp)
		sub = td.bus.Subscribe()
		_, runErr := td.runner.Run("sleep 100", "")
		require.NoError(t, runErr)
		go func() {
			first := td.Run()
			runs <- [2]error{first, td.Run()}
		}()
	}))
	assert.ErrorIs(t, err, errors.ErrSessionClosed)
	both := <-runs
	assert.Equal(t, both[0], both[1])

	assert.Equal(t, session.StatusClosed, td.session.Status())
	assert.False(t, td.runner.Running())
	assert.NoFileExists(t, tmp)

	var sawClosed bool
	for ev := range sub.C {
		if ev.Type == events.TypeClosed {
			sawClosed = true
		}
	}
	assert.True(t, sawClosed)
	assert.Equal(t, both[0], td.Run())
}
