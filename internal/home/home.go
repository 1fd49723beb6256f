// Package home lays out the takeoff home directory.
//
//	~/.takeoff/
//	  config.yaml     server configuration
//	  takeoff.db      SQLite status store
//	  documents/      local blob store for uploaded plan sets
//	  profiles.yaml   optional index-page profile overrides
//	  rates.yaml      optional unit-cost overrides
package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the directory created under the user's home.
	DefaultDirName = ".takeoff"

	// EnvVar overrides the default location when no path is given.
	EnvVar = "TAKEOFF_HOME"

	DocumentsDirName = "documents"
	ConfigFileName   = "config.yaml"
	DatabaseFileName = "takeoff.db"
	ProfilesFileName = "profiles.yaml"
	RatesFileName    = "rates.yaml"
)

// Dir is a takeoff home directory.
type Dir struct {
	root string
}

// New returns the home directory at path. An empty path falls back to
// $TAKEOFF_HOME and then ~/.takeoff.
func New(path string) (*Dir, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(userHome, DefaultDirName)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid home directory %q: %w", path, err)
	}
	return &Dir{root: abs}, nil
}

func (d *Dir) Path() string { return d.root }

func (d *Dir) join(name string) string { return filepath.Join(d.root, name) }

func (d *Dir) DocumentsPath() string { return d.join(DocumentsDirName) }
func (d *Dir) ConfigPath() string    { return d.join(ConfigFileName) }
func (d *Dir) DatabasePath() string  { return d.join(DatabaseFileName) }
func (d *Dir) ProfilesPath() string  { return d.join(ProfilesFileName) }
func (d *Dir) RatesPath() string     { return d.join(RatesFileName) }

// EnsureExists creates the home and documents directories.
func (d *Dir) EnsureExists() error {
	if err := os.MkdirAll(d.DocumentsPath(), 0o755); err != nil {
		return fmt.Errorf("failed to create documents directory: %w", err)
	}
	return nil
}

// Exists reports whether the home directory exists.
func (d *Dir) Exists() bool {
	return isFile(d.root, true)
}

// ConfigExists reports whether config.yaml is present.
func (d *Dir) ConfigExists() bool {
	return isFile(d.ConfigPath(), false)
}

// Override picks the file to load for an optional data file. A configured
// path always wins; otherwise the file named name inside the home directory
// is used when present. An empty result means built-in defaults apply.
func (d *Dir) Override(configured, name string) string {
	if configured != "" {
		return configured
	}
	if p := d.join(name); isFile(p, false) {
		return p
	}
	return ""
}

func isFile(path string, dir bool) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir() == dir
}
