package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/ChuDiRen/interactive-feedback-mcp/errors"
	"github.com/ChuDiRen/interactive-feedback-mcp/events"
	"github.com/ChuDiRen/interactive-feedback-mcp/llm"
	"github.com/ChuDiRen/interactive-feedback-mcp/session"
	"github.com/ChuDiRen/interactive-feedback-mcp/settings"
)

const (
	maxSubmitBytes = 10 << 20
	maxChatBytes   = 25 << 20
	providerBudget = 2 * time.Minute
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// decodeBody reads a JSON body of at most limit bytes into v.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.Kindf(errors.KindValidation, "request body is empty")
		}
		return errors.WithKind(err, errors.KindValidation, "malformed request body")
	}
	return nil
}

type healthResponse struct {
	Session string         `json:"session"`
	Status  string         `json:"status"`
	State   session.Status `json:"state"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Session: s.session.ID,
		Status:  "ok",
		State:   s.session.Status(),
	})
}

type submitRequest struct {
	InteractiveFeedback *string `json:"interactive_feedback"`
	CommandLogs         string  `json:"command_logs"`
}

// handleSubmit accepts the first valid submission only. The submitted event
// goes out before the response is written so every push subscriber learns of
// it no later than the submitter.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeBody(w, r, maxSubmitBytes, &req); err != nil {
		s.logger.Warn("rejected submission", "err", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.InteractiveFeedback == nil {
		writeError(w, http.StatusBadRequest, "interactive_feedback is required")
		return
	}

	if !s.session.Finish(session.StatusSubmitted) {
		writeError(w, http.StatusConflict, errors.ErrSessionClosed.Error())
		return
	}
	result := session.FeedbackResult{
		InteractiveFeedback: *req.InteractiveFeedback,
		CommandLogs:         req.CommandLogs,
	}
	s.bus.Publish(events.Event{Type: events.TypeSubmitted, Payload: events.Submitted{Session: s.session.ID}})
	if err := s.result.Resolve(result); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.logger.Info("feedback submitted", "feedback_bytes", len(result.InteractiveFeedback), "log_bytes", len(result.CommandLogs))
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type chatRequest struct {
	Messages []llm.Message `json:"messages"`
}

type chatResponse struct {
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(w, r, maxChatBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := llm.Validate(req.Messages); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.opts.LLM == nil {
		writeJSON(w, http.StatusOK, chatResponse{Error: "chat provider is not configured"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), providerBudget)
	defer cancel()
	content, err := s.opts.LLM.Chat(ctx, req.Messages)
	if err != nil {
		s.logger.Warn("chat failed", "err", err)
		writeJSON(w, http.StatusOK, chatResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Content: content})
}

type imageRequest struct {
	DataURL string `json:"dataUrl"`
}

type imageResponse struct {
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleImageToText(w http.ResponseWriter, r *http.Request) {
	if !s.opts.EnableImageToText {
		writeError(w, http.StatusForbidden, "image to text is disabled")
		return
	}
	var req imageRequest
	if err := decodeBody(w, r, maxChatBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, _, err := llm.ParseDataURL(req.DataURL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.opts.LLM == nil {
		writeJSON(w, http.StatusOK, imageResponse{Error: "image to text provider is not configured"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), providerBudget)
	defer cancel()
	text, err := llm.DescribeImage(ctx, s.opts.LLM, req.DataURL)
	if err != nil {
		if errors.KindOf(err) == errors.KindValidation {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Warn("image to text failed", "err", err)
		writeJSON(w, http.StatusOK, imageResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, imageResponse{Text: text})
}

type runRequest struct {
	Command string `json:"command"`
	Cwd     string `json:"cwd"`
}

type runResponse struct {
	PID int `json:"pid"`
}

// runCommand starts a command for either transport and maps failures to an
// HTTP status.
func (s *Server) runCommand(command, cwd string) (int, int, error) {
	if s.session.Status().Terminal() {
		return 0, http.StatusConflict, errors.ErrSessionClosed
	}
	execution, err := s.runner.Run(command, cwd)
	switch {
	case err == nil:
		return execution.PID, http.StatusAccepted, nil
	case errors.Is(err, errors.ErrCommandRunning):
		return 0, http.StatusConflict, err
	case errors.KindOf(err) == errors.KindValidation:
		return 0, http.StatusBadRequest, err
	default:
		s.logger.Error("command failed to start", "command", command, "err", err)
		return 0, http.StatusInternalServerError, err
	}
}

func (s *Server) handleRunCommand(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeBody(w, r, 1<<20, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pid, status, err := s.runCommand(req.Command, req.Cwd)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, status, runResponse{PID: pid})
}

func (s *Server) handleStopCommand(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": s.runner.Stop()})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	execution := s.runner.Current()
	if execution == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"running": false})
		return
	}
	writeJSON(w, http.StatusOK, execution.Snapshot())
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	v, err := s.opts.Settings.Load(s.session.ProjectDirectory)
	if err != nil {
		s.logger.Warn("could not load settings", "err", err)
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var v settings.Settings
	if err := decodeBody(w, r, 1<<20, &v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.opts.Settings.Save(s.session.ProjectDirectory, v); err != nil {
		s.logger.Error("could not save settings", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	v.ProjectDirectory = s.session.ProjectDirectory
	writeJSON(w, http.StatusOK, v)
}
