package tools

import (
	"context"
	"encoding/json"

	"github.com/ChuDiRen/interactive-feedback-mcp/errors"
	"github.com/ChuDiRen/interactive-feedback-mcp/orchestrator"
	"github.com/ChuDiRen/interactive-feedback-mcp/session"
)

const InteractiveFeedbackName = "interactive_feedback"

// FeedbackRequester opens a feedback session and waits for its answer.
type FeedbackRequester interface {
	RequestFeedback(ctx context.Context, projectDir, summary string, opts ...orchestrator.RequestOption) (session.FeedbackResult, error)
}

// InteractiveFeedbackTool asks the user for feedback and returns the answer
// as a JSON FeedbackResult.
type InteractiveFeedbackTool struct {
	requester FeedbackRequester
}

func NewInteractiveFeedbackTool(requester FeedbackRequester) *InteractiveFeedbackTool {
	return &InteractiveFeedbackTool{requester: requester}
}

func (t *InteractiveFeedbackTool) Name() string { return InteractiveFeedbackName }

func (t *InteractiveFeedbackTool) Description() string {
	return "Request interactive feedback from the user for a given project directory and summary. " +
		"Args: project_directory (string, full path), summary (string, one-line summary of the changes or question)."
}

func (t *InteractiveFeedbackTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	projectDir, ok := args["project_directory"].(string)
	if !ok {
		return "", errors.Kindf(errors.KindValidation, "missing or invalid 'project_directory' argument")
	}
	summary, ok := args["summary"].(string)
	if !ok {
		return "", errors.Kindf(errors.KindValidation, "missing or invalid 'summary' argument")
	}

	var opts []orchestrator.RequestOption
	if notify := notifyFrom(ctx); notify != nil {
		opts = append(opts, orchestrator.WithNotify(notify))
	}
	result, err := t.requester.RequestFeedback(ctx, session.FirstLine(projectDir), session.FirstLine(summary), opts...)
	if err != nil {
		return "", err
	}

	out, err := json.Marshal(result)
	if err != nil {
		return "", errors.Wrapf(err, "encode feedback result")
	}
	return string(out), nil
}
