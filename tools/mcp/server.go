// Package mcp exposes the tool registry to MCP clients.
package mcp

import (
	"context"
	"fmt"

	"github.com/ChuDiRen/interactive-feedback-mcp/errors"
	"github.com/ChuDiRen/interactive-feedback-mcp/tools"
	"github.com/charmbracelet/log"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

const ServerName = "interactive-feedback-mcp"

// FeedbackArgs is the input of the interactive_feedback tool.
type FeedbackArgs struct {
	ProjectDirectory string `json:"project_directory" jsonschema:"Full path to the project directory the feedback is about"`
	Summary          string `json:"summary" jsonschema:"Short, one-line summary of the changes or the question for the user"`
}

// NewServer builds an MCP server publishing the registry's feedback tool.
func NewServer(registry *tools.ToolRegistry, version string, logger *log.Logger) (*mcpsdk.Server, error) {
	tool, ok := registry.GetTool(tools.InteractiveFeedbackName)
	if !ok {
		return nil, errors.New("tool '%s' is not registered", tools.InteractiveFeedbackName)
	}
	if logger == nil {
		logger = log.Default()
	}
	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: ServerName, Version: version}, nil)
	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        tool.Name(),
		Description: tool.Description(),
	}, feedbackHandler(tool, logger))
	return server, nil
}

// Serve runs server over stdin/stdout until ctx ends or the client leaves.
func Serve(ctx context.Context, server *mcpsdk.Server) error {
	if err := server.Run(ctx, &mcpsdk.StdioTransport{}); err != nil && ctx.Err() == nil {
		return errors.Wrapf(err, "mcp server stopped")
	}
	return nil
}

func feedbackHandler(tool tools.Tool, logger *log.Logger) mcpsdk.ToolHandlerFor[FeedbackArgs, any] {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest, in FeedbackArgs) (*mcpsdk.CallToolResult, any, error) {
		ctx = tools.WithNotify(ctx, func(ctx context.Context, url string) {
			logger.Info("feedback session ready", "url", url)
			if req.Session == nil {
				return
			}
			err := req.Session.Log(ctx, &mcpsdk.LoggingMessageParams{
				Level:  "info",
				Logger: ServerName,
				Data:   fmt.Sprintf("Feedback UI: %s", url),
			})
			if err != nil {
				logger.Debug("could not send log notification", "err", err)
			}
		})

		text, err := tool.Execute(ctx, map[string]interface{}{
			"project_directory": in.ProjectDirectory,
			"summary":           in.Summary,
		})
		if err != nil {
			logger.Warn("interactive feedback failed", "err", err)
			return &mcpsdk.CallToolResult{
				IsError: true,
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "Error: " + err.Error()}},
			}, nil, nil
		}
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
		}, nil, nil
	}
}
