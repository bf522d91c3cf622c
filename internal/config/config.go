// Package config implements MeowDiff's JSON-file daemon configuration,
// adapted from the teacher's single flat Config struct.
package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
)

// Config holds all daemon configuration.
type Config struct {
	DataDir     string   `json:"data_dir"`
	SocketPath  string   `json:"socket_path"`
	WindowMS    int      `json:"window_ms"`
	Compression string   `json:"compression"`
	DefaultIgnore struct {
		Extra []string `json:"extra"`
	} `json:"default_ignore"`
}

// DefaultDataDir returns the default data directory (~/.meowdiff).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".meowdiff")
}

// Default returns a Config with sensible defaults: a 50ms batch window,
// zstd compression, and no extra ignore patterns beyond
// internal/ignore's built-in defaults.
func Default() *Config {
	dataDir := DefaultDataDir()
	cfg := &Config{
		DataDir:     dataDir,
		SocketPath:  filepath.Join(dataDir, "meowdiff.sock"),
		WindowMS:    50,
		Compression: "zstd",
	}
	cfg.DefaultIgnore.Extra = []string{}
	return cfg
}

// Load reads configuration from a JSON file, falling back to defaults
// for any unset fields. Unknown top-level keys are ignored with a logged
// warning.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err == nil {
		known := map[string]bool{"data_dir": true, "socket_path": true, "window_ms": true, "compression": true, "default_ignore": true}
		for key := range raw {
			if !known[key] {
				slog.Warn("config: ignoring unknown key", "key", key, "path", path)
			}
		}
	}

	if cfg.SocketPath == "" {
		cfg.SocketPath = filepath.Join(cfg.DataDir, "meowdiff.sock")
	}
	if cfg.WindowMS <= 0 {
		cfg.WindowMS = 50
	}
	if cfg.Compression == "" {
		cfg.Compression = "zstd"
	}

	return cfg, nil
}

// EnsureDataDir creates the data directory if it does not exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o755)
}

// ConfigPath returns the default path to the config file.
func ConfigPath() string {
	return filepath.Join(DefaultDataDir(), "config.json")
}
