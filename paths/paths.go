// Package paths resolves where plural-refactor reads config.yaml and writes
// its log files.
//
// The sidecar is spawned by an editor host, so the host may pin both
// locations with PLURAL_REFACTOR_HOME. Without it, an existing
// ~/.plural-refactor/ is used as is; otherwise XDG_CONFIG_HOME and
// XDG_STATE_HOME are honored when either is set, and ~/.plural-refactor/ is
// the fallback.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	appDirName = "plural-refactor"
	// EnvHome overrides every other layout rule.
	EnvHome = "PLURAL_REFACTOR_HOME"
	// ConfigFileName is the optional YAML file read at startup.
	ConfigFileName = "config.yaml"
	logsDirName    = "logs"
)

// Layout names the rule that produced the directories.
type Layout string

const (
	LayoutOverride Layout = "override"
	LayoutHome     Layout = "home"
	LayoutXDG      Layout = "xdg"
)

type dirs struct {
	config string
	state  string
	layout Layout
}

var (
	mu     sync.Mutex
	cached *dirs
)

func lookup() (*dirs, error) {
	mu.Lock()
	defer mu.Unlock()
	if cached == nil {
		d, err := detect()
		if err != nil {
			return nil, err
		}
		cached = d
	}
	return cached, nil
}

func detect() (*dirs, error) {
	if dir := os.Getenv(EnvHome); dir != "" {
		if !filepath.IsAbs(dir) {
			return nil, fmt.Errorf("%s must be an absolute path, got %q", EnvHome, dir)
		}
		return &dirs{config: dir, state: dir, layout: LayoutOverride}, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to locate home directory: %w", err)
	}
	flat := filepath.Join(home, "."+appDirName)
	if info, err := os.Stat(flat); err == nil && info.IsDir() {
		return &dirs{config: flat, state: flat, layout: LayoutHome}, nil
	}

	configHome, stateHome := os.Getenv("XDG_CONFIG_HOME"), os.Getenv("XDG_STATE_HOME")
	if configHome == "" && stateHome == "" {
		return &dirs{config: flat, state: flat, layout: LayoutHome}, nil
	}
	if configHome == "" {
		configHome = filepath.Join(home, ".config")
	}
	if stateHome == "" {
		stateHome = filepath.Join(home, ".local", "state")
	}
	return &dirs{
		config: filepath.Join(configHome, appDirName),
		state:  filepath.Join(stateHome, appDirName),
		layout: LayoutXDG,
	}, nil
}

// CurrentLayout reports which rule is in effect.
func CurrentLayout() (Layout, error) {
	d, err := lookup()
	if err != nil {
		return "", err
	}
	return d.layout, nil
}

// ConfigDir returns the directory holding config.yaml.
func ConfigDir() (string, error) {
	d, err := lookup()
	if err != nil {
		return "", err
	}
	return d.config, nil
}

// ConfigFilePath returns the path of the optional YAML configuration file.
func ConfigFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}

// LogsDir returns the directory for log files.
func LogsDir() (string, error) {
	d, err := lookup()
	if err != nil {
		return "", err
	}
	return filepath.Join(d.state, logsDirName), nil
}

// Reset forgets the detected layout so the next call re-reads the environment.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	cached = nil
}
