package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ChuDiRen/interactive-feedback-mcp/config"
	"github.com/ChuDiRen/interactive-feedback-mcp/errors"
	"github.com/ChuDiRen/interactive-feedback-mcp/llm"
	"github.com/ChuDiRen/interactive-feedback-mcp/logging"
	"github.com/ChuDiRen/interactive-feedback-mcp/orchestrator"
	"github.com/ChuDiRen/interactive-feedback-mcp/settings"
	"github.com/ChuDiRen/interactive-feedback-mcp/tools"
	feedbackmcp "github.com/ChuDiRen/interactive-feedback-mcp/tools/mcp"
	"github.com/ChuDiRen/interactive-feedback-mcp/ui"
	"github.com/charmbracelet/log"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return errors.Wrapf(err, "load config")
	}

	logger, err := logging.New(ctx, logging.WithDir(cfg.LogDir), logging.WithLevel(cfg.LogLevel))
	if err != nil {
		return errors.Wrapf(err, "initialize logging")
	}
	defer func() {
		if closeErr := logger.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "failed to close logger: %v\n", closeErr)
		}
	}()

	cmd := newRootCommand(cfg, logger.Logger)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

func newRootCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "interactive-feedback",
		Short:         "MCP server that asks a human for feedback through a local UI",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfg, logger)
		},
	}
	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	root.AddCommand(
		newServeCommand(cfg, logger),
		newWebCommand(cfg, logger),
		newUICommand(cfg, logger),
	)
	root.PersistentPreRun = func(cmd *cobra.Command, _ []string) {
		logger.With("command", cmd.Name()).Debug("command invocation", "version", Version)
	}
	return root
}

func newServeCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the interactive_feedback tool over MCP stdio (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

// newOrchestrator wires the provider and settings store. A provider that
// cannot be built leaves chat disabled rather than failing the server.
func newOrchestrator(ctx context.Context, cfg *config.Config, logger *log.Logger) *orchestrator.Orchestrator {
	client, err := llm.New(ctx, cfg)
	if err != nil {
		logger.Warn("chat provider unavailable", "provider", cfg.LLMClient, "err", err)
		client = nil
	}
	return orchestrator.New(cfg, orchestrator.Options{
		Logger:   logger,
		LLM:      client,
		Settings: settings.NewStore(cfg.SettingsDir),
	})
}

func serve(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	o := newOrchestrator(ctx, cfg, logger)
	defer func() {
		if err := o.Close(); err != nil {
			logger.Warn("session teardown incomplete", "err", err)
		}
	}()

	registry := tools.NewToolRegistry(tools.NewInteractiveFeedbackTool(o))
	server, err := feedbackmcp.NewServer(registry, Version, logger)
	if err != nil {
		return err
	}
	logger.Info("mcp server starting", "version", Version, "ui_mode", cfg.UIMode)
	return feedbackmcp.Serve(ctx, server)
}

func newWebCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	var (
		prompt string
		cwd    string
		port   int
	)
	cmd := &cobra.Command{
		Use:   "web",
		Short: "Open one feedback session in the browser and print the result as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cwd == "" {
				wd, err := os.Getwd()
				if err != nil {
					return errors.Wrapf(err, "get working directory")
				}
				cwd = wd
			}
			webCfg := *cfg
			webCfg.UIMode = config.UIModeWeb
			if cmd.Flags().Changed("port") {
				webCfg.Web.Port = port
			}

			o := newOrchestrator(cmd.Context(), &webCfg, logger)
			result, err := o.RequestFeedback(cmd.Context(), cwd, prompt, orchestrator.WithNotify(func(_ context.Context, url string) {
				fmt.Fprintf(cmd.ErrOrStderr(), "Feedback UI: %s\n", url)
			}))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "I implemented the changes you requested.", "summary shown to the user")
	cmd.Flags().StringVar(&cwd, "cwd", "", "project directory (defaults to the working directory)")
	cmd.Flags().IntVar(&port, "port", cfg.Web.Port, "port to listen on, 0 for any free port")
	return cmd
}

func newUICommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	var (
		projectDir string
		prompt     string
		outputFile string
		tty        bool
	)
	cmd := &cobra.Command{
		Use:   "ui",
		Short: "Terminal feedback window that writes its answer to a handoff file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !tty && !term.IsTerminal(os.Stdin.Fd()) {
				return errors.Kindf(errors.KindValidation, "the feedback window needs a terminal; pass --tty to use the controlling terminal")
			}
			return ui.Run(cmd.Context(), ui.Options{
				ProjectDirectory: projectDir,
				Prompt:           prompt,
				OutputFile:       outputFile,
				TTY:              tty,
				AllowedCommands:  cfg.AllowedCommands,
				AllowedWorkdirs:  cfg.AllowedWorkdirs,
				Settings:         settings.NewStore(cfg.SettingsDir),
				Logger:           logger,
			})
		},
	}
	cmd.Flags().StringVar(&projectDir, "project-directory", "", "project the feedback is about")
	cmd.Flags().StringVar(&prompt, "prompt", "", "summary shown to the user")
	cmd.Flags().StringVar(&outputFile, "output-file", "", "where the answer is written")
	cmd.Flags().BoolVar(&tty, "tty", false, "use the controlling terminal instead of stdin/stdout")
	_ = cmd.MarkFlagRequired("project-directory")
	_ = cmd.MarkFlagRequired("output-file")
	return cmd
}
