// Package manifest handles ember.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest represents an ember.toml project configuration.
type Manifest struct {
	Project Project `toml:"project"`
	Runtime Runtime `toml:"runtime"`

	// Dir is the directory containing the ember.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	Entry   string `toml:"entry"` // chunk file to run when none is given
}

// Runtime configures the interpreter.
type Runtime struct {
	MaxFrames int  `toml:"max-frames"` // call depth limit; 0 = engine default
	Trace     bool `toml:"trace"`      // per-instruction trace logging
	Verbose   bool `toml:"verbose"`
}

// Load parses an ember.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "ember.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if m.Runtime.MaxFrames < 0 {
		return nil, fmt.Errorf("%s: max-frames must not be negative", path)
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find an ember.toml file, then
// loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "ember.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// EntryPath returns the configured entry chunk resolved against the
// manifest directory, or "" when no entry is configured.
func (m *Manifest) EntryPath() string {
	if m.Project.Entry == "" {
		return ""
	}
	if filepath.IsAbs(m.Project.Entry) {
		return m.Project.Entry
	}
	return filepath.Join(m.Dir, m.Project.Entry)
}
