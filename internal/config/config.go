// Package config loads and saves this module's persisted defaults: the
// deployment knobs (image, pull policy, startup timeout, standalone
// interpreter directory) an operator would otherwise have to repeat on
// every swerex-ctl invocation.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// configMu serializes concurrent config file access within this process.
var configMu sync.Mutex

const (
	configDir    = ".swerex"
	appStateFile = "app-state.json"
	legacyConfig = "config.json" // Deprecated: migrated to app-state.json
)

// PullPolicy controls whether a deployment backend attempts to pull its
// image before starting.
type PullPolicy string

const (
	PullNever   PullPolicy = "never"
	PullMissing PullPolicy = "missing"
	PullAlways  PullPolicy = "always"
)

// GlobalConfig is this module's persisted state, stored in
// ~/.swerex/app-state.json (internal, not meant to be hand-edited).
type GlobalConfig struct {
	Version int `json:"version"`

	// DefaultImage is the container image used when a deployment request
	// doesn't name one explicitly.
	DefaultImage string `json:"default_image,omitempty"`
	// PullPolicy is the default image acquisition policy.
	PullPolicy PullPolicy `json:"pull_policy,omitempty"`
	// StartupTimeoutSeconds bounds the liveness wait after a container
	// starts, before the deployment is declared a startup failure.
	StartupTimeoutSeconds int `json:"startup_timeout_seconds,omitempty"`
	// StandaloneInterpreterDir, if set, points at a directory containing
	// a self-contained runtime interpreter to bake into a layered image
	// instead of relying on the base image's own interpreter.
	StandaloneInterpreterDir string `json:"standalone_interpreter_dir,omitempty"`
	// ExecutableBaseURL is the release URL template used to download the
	// per-architecture swerex-remote binary when no standalone
	// interpreter directory is configured.
	ExecutableBaseURL string `json:"executable_base_url,omitempty"`
}

// DefaultConfig returns the configuration used when no app-state file
// exists yet.
func DefaultConfig() *GlobalConfig {
	return &GlobalConfig{
		Version:               1,
		PullPolicy:            PullMissing,
		StartupTimeoutSeconds: 180,
	}
}

// ConfigDir returns the path to this module's config directory
// (~/.swerex).
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, configDir), nil
}

// ConfigPath returns the full path to the app state file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appStateFile), nil
}

func legacyConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, legacyConfig), nil
}

// Load loads the persisted configuration from disk, returning
// DefaultConfig if none exists yet. A legacy config.json from an older
// layout is migrated into app-state.json transparently.
func Load() (*GlobalConfig, error) {
	configMu.Lock()
	defer configMu.Unlock()

	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if cfg, ok := migrateLegacy(path); ok {
			return cfg, nil
		}
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, err
	}

	var cfg GlobalConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// migrateLegacy reads a legacy config.json, if present, writes it out at
// the new app-state.json path, and removes the old file. It reports
// whether a legacy config was found and migrated.
func migrateLegacy(newPath string) (*GlobalConfig, bool) {
	legacyPath, err := legacyConfigPath()
	if err != nil {
		return nil, false
	}
	legacyData, err := os.ReadFile(legacyPath)
	if err != nil {
		return nil, false
	}
	var cfg GlobalConfig
	if err := json.Unmarshal(legacyData, &cfg); err != nil {
		return nil, false
	}
	if saveData, err := json.MarshalIndent(&cfg, "", "  "); err == nil {
		_ = os.WriteFile(newPath, saveData, 0o644)
	}
	_ = os.Remove(legacyPath)
	return &cfg, true
}

// Save persists cfg to the config directory, creating it if necessary.
func Save(cfg *GlobalConfig) error {
	configMu.Lock()
	defer configMu.Unlock()

	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	path := filepath.Join(dir, appStateFile)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tempPath, path)
}
