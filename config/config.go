package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ChuDiRen/interactive-feedback-mcp/errors"
	"gopkg.in/yaml.v3"
)

const DirName = ".interactive-feedback"

const (
	TimeoutPolicyEmpty = "empty"
	TimeoutPolicyError = "error"

	UIModeWeb      = "web"
	UIModeTerminal = "terminal"
)

type Web struct {
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	HeartbeatIntervalMs int    `yaml:"heartbeat_interval_ms"`
	OpenBrowser         bool   `yaml:"open_browser"`
}

// TerminalUI describes how the out-of-process UI is launched. Command is an
// argv template; {exe}, {project}, {prompt} and {output} are substituted.
type TerminalUI struct {
	Command []string `yaml:"command"`
}

type Config struct {
	LLMClient         string     `yaml:"llm"`
	Model             string     `yaml:"model"`
	APIKey            string     `yaml:"api_key"`
	APIBaseURL        string     `yaml:"api_base_url"`
	DialogTimeoutMs   int        `yaml:"dialog_timeout_ms"`
	TimeoutPolicy     string     `yaml:"timeout_policy"`
	EnableImageToText bool       `yaml:"enable_image_to_text"`
	UIMode            string     `yaml:"ui_mode"`
	Web               Web        `yaml:"web"`
	TerminalUI        TerminalUI `yaml:"terminal_ui"`
	AllowedCommands   []string   `yaml:"allowed_commands"`
	AllowedWorkdirs   []string   `yaml:"allowed_workdirs"`
	SettingsDir       string     `yaml:"settings_dir"`
	LogDir            string     `yaml:"log_dir"`
	LogLevel          string     `yaml:"log_level"`
}

// Default returns the configuration used when no file or environment
// variable overrides a field.
func Default() *Config {
	cfg := &Config{
		LLMClient:         "openai",
		Model:             "gpt-4o-mini",
		APIBaseURL:        "https://api.openai.com/v1",
		DialogTimeoutMs:   60000,
		TimeoutPolicy:     TimeoutPolicyEmpty,
		EnableImageToText: true,
		UIMode:            UIModeWeb,
		Web: Web{
			Host:                "127.0.0.1",
			Port:                5000,
			HeartbeatIntervalMs: 20000,
			OpenBrowser:         true,
		},
		TerminalUI: TerminalUI{
			Command: []string{"{exe}", "ui", "--tty", "--project-directory", "{project}", "--prompt", "{prompt}", "--output-file", "{output}"},
		},
		LogLevel: "info",
	}
	if home, err := os.UserHomeDir(); err == nil {
		cfg.SettingsDir = filepath.Join(home, DirName, "settings")
		cfg.LogDir = filepath.Join(home, DirName, "logs")
	}
	return cfg
}

// LoadConfig loads configuration from the user's home directory and the current
// working directory, with the latter taking precedence. Environment variables
// override both.
func LoadConfig() (*Config, error) {
	cfg := Default()

	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, DirName, "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	projectConfigPath := filepath.Join(wd, DirName, "config.yaml")
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := loadFromFile(projectConfigPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading project config")
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Fields present in the YAML overwrite what is already set.
	return yaml.Unmarshal(data, cfg)
}

// ApplyEnv overlays MCP_* environment variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return errors.Kindf(errors.KindValidation, "%s must be an integer, got %q", key, v)
		}
		*dst = n
		return nil
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = ParseBool(v)
		}
	}

	str("MCP_WEB_HOST", &c.Web.Host)
	str("MCP_LLM_PROVIDER", &c.LLMClient)
	str("MCP_API_KEY", &c.APIKey)
	str("MCP_API_BASE_URL", &c.APIBaseURL)
	str("MCP_DEFAULT_MODEL", &c.Model)
	str("MCP_TIMEOUT_POLICY", &c.TimeoutPolicy)
	str("MCP_UI_MODE", &c.UIMode)
	str("MCP_LOG_LEVEL", &c.LogLevel)
	flag("MCP_ENABLE_IMAGE_TO_TEXT", &c.EnableImageToText)
	flag("MCP_OPEN_BROWSER", &c.Web.OpenBrowser)
	for key, dst := range map[string]*int{
		"MCP_WEB_PORT":           &c.Web.Port,
		"MCP_DIALOG_TIMEOUT":     &c.DialogTimeoutMs,
		"MCP_HEARTBEAT_INTERVAL": &c.Web.HeartbeatIntervalMs,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// ParseBool accepts 1/true/yes/y/on, case-insensitively.
func ParseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}

func (c *Config) Validate() error {
	switch c.LLMClient {
	case "openai", "anthropic", "gemini", "bedrock", "mock":
	default:
		return errors.Kindf(errors.KindValidation, "unsupported llm client %q", c.LLMClient)
	}
	switch c.TimeoutPolicy {
	case TimeoutPolicyEmpty, TimeoutPolicyError:
	default:
		return errors.Kindf(errors.KindValidation, "timeout_policy must be %q or %q, got %q", TimeoutPolicyEmpty, TimeoutPolicyError, c.TimeoutPolicy)
	}
	switch c.UIMode {
	case UIModeWeb, UIModeTerminal:
	default:
		return errors.Kindf(errors.KindValidation, "ui_mode must be %q or %q, got %q", UIModeWeb, UIModeTerminal, c.UIMode)
	}
	if c.Web.Port < 0 || c.Web.Port > 65535 {
		return errors.Kindf(errors.KindValidation, "web port %d out of range", c.Web.Port)
	}
	if c.DialogTimeoutMs < 0 {
		return errors.Kindf(errors.KindValidation, "dialog_timeout_ms must not be negative")
	}
	if c.UIMode == UIModeTerminal && len(c.TerminalUI.Command) == 0 {
		return errors.Kindf(errors.KindValidation, "terminal_ui.command is required when ui_mode is %q", UIModeTerminal)
	}
	return nil
}

// DialogTimeout is zero when the dialog never times out.
func (c *Config) DialogTimeout() time.Duration {
	return time.Duration(c.DialogTimeoutMs) * time.Millisecond
}

func (c *Config) HeartbeatInterval() time.Duration {
	if c.Web.HeartbeatIntervalMs <= 0 {
		return 20 * time.Second
	}
	return time.Duration(c.Web.HeartbeatIntervalMs) * time.Millisecond
}
