package runner

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ChuDiRen/interactive-feedback-mcp/errors"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
)

// Policy restricts which commands may run and where. An empty
// AllowedCommands list allows every command; an empty AllowedWorkdirs list
// allows every directory.
type Policy struct {
	AllowedCommands []string
	AllowedWorkdirs []string
	Logger          *log.Logger
}

// ProjectPolicy confines commands to projectDir and everything beneath it,
// plus any extra glob patterns.
func ProjectPolicy(projectDir string, allowedCommands, extraWorkdirs []string) Policy {
	dir := filepath.Clean(projectDir)
	workdirs := append([]string{dir, filepath.Join(dir, "**")}, extraWorkdirs...)
	return Policy{AllowedCommands: allowedCommands, AllowedWorkdirs: workdirs}
}

// Check returns a KindValidation error when command or cwd is not allowed.
func (p Policy) Check(command, cwd string) error {
	if len(p.AllowedCommands) > 0 && !p.commandAllowed(command) {
		return errors.Kindf(errors.KindValidation, "command '%s' is not in the list of allowed commands", command)
	}
	if len(p.AllowedWorkdirs) > 0 {
		ok, err := isPathAllowed(filepath.Clean(cwd), p.AllowedWorkdirs)
		if err != nil {
			return errors.WithKind(err, errors.KindValidation, "check working directory")
		}
		if !ok {
			return errors.Kindf(errors.KindValidation, "working directory '%s' is outside the allowed directories", cwd)
		}
	}
	return nil
}

// isPathAllowed checks if a path matches any of the glob patterns.
func isPathAllowed(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.PathMatch(pattern, path)
		if err != nil {
			return false, errors.New("invalid glob pattern '%s': %v", pattern, err)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// commandAllowed checks the command against the allowlist (with regex support).
func (p Policy) commandAllowed(command string) bool {
	if len(strings.Fields(command)) == 0 {
		return false
	}
	for _, pattern := range p.AllowedCommands {
		re, err := regexp.Compile(pattern)
		if err != nil {
			if p.Logger != nil {
				p.Logger.Warn("invalid regex in allowed_commands", "pattern", pattern, "err", err)
			}
			// An invalid pattern still matches the identical command.
			if command == pattern {
				return true
			}
			continue
		}
		if re.MatchString(command) {
			return true
		}
	}
	return false
}
