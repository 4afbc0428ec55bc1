// Package settings remembers per-project UI preferences between sessions.
package settings

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/ChuDiRen/interactive-feedback-mcp/errors"
)

// Settings are the preferences saved for one project directory.
type Settings struct {
	ProjectDirectory      string `toml:"project_directory" json:"project_directory"`
	Command               string `toml:"command" json:"command"`
	AutoExecute           bool   `toml:"auto_execute" json:"auto_execute"`
	CommandSectionVisible bool   `toml:"command_section_visible" json:"command_section_visible"`
}

// Store keeps one TOML file per project under dir. A nil *Store or an empty
// dir disables persistence: Load returns defaults and Save does nothing.
type Store struct {
	dir string
	mu  sync.Mutex
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Key derives the file key for a project directory.
func Key(projectDir string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(filepath.Clean(projectDir)))
	return fmt.Sprintf("%016x", h.Sum64())
}

func (s *Store) path(projectDir string) string {
	return filepath.Join(s.dir, Key(projectDir)+".toml")
}

// Load returns the saved settings, or defaults when none exist.
func (s *Store) Load(projectDir string) (Settings, error) {
	defaults := Settings{ProjectDirectory: projectDir}
	if s == nil || s.dir == "" {
		return defaults, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var decoded Settings
	if _, err := toml.DecodeFile(s.path(projectDir), &decoded); err != nil {
		if os.IsNotExist(err) {
			return defaults, nil
		}
		return defaults, errors.Wrapf(err, "decode settings for %s", projectDir)
	}
	decoded.ProjectDirectory = projectDir
	return decoded, nil
}

// Save replaces the settings for projectDir.
func (s *Store) Save(projectDir string, v Settings) (err error) {
	if s == nil || s.dir == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return errors.Wrapf(err, "create settings directory")
	}
	v.ProjectDirectory = projectDir

	tmp, err := os.CreateTemp(s.dir, ".settings-*.toml.tmp")
	if err != nil {
		return errors.Wrapf(err, "create temp settings file")
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if err = toml.NewEncoder(tmp).Encode(v); err != nil {
		_ = tmp.Close()
		return errors.Wrapf(err, "encode settings")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrapf(err, "close settings file")
	}
	if err = os.Rename(tmpName, s.path(projectDir)); err != nil {
		return errors.Wrapf(err, "save settings")
	}
	return nil
}
