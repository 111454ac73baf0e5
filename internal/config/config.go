package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds runtime settings for the healthvault CLI.
//
// Fields:
//   - DataDir: directory for the database, key material and queue state.
//   - DatabaseFile / QueueStateFile: resolved file paths, derived from
//     DataDir when not set explicitly.
//   - MaxRetries / BackoffCap: retry policy for the pending-operation queue.
//   - ProbeInterval / ProbeTimeout: connectivity monitor cadence.
type Config struct {
	DataDir        string
	DatabaseFile   string
	QueueStateFile string

	MaxRetries int
	BackoffCap time.Duration

	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.DataDir = defaultDataDir()
	c.MaxRetries = 5
	c.BackoffCap = 60 * time.Second
	c.ProbeInterval = 3 * time.Second
	c.ProbeTimeout = 2 * time.Second
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".healthvault"
	}
	return filepath.Join(home, ".healthvault")
}

// resolvePaths derives the file locations from DataDir unless the config
// already names them.
func (c *Config) resolvePaths() {
	if c.DatabaseFile == "" {
		c.DatabaseFile = filepath.Join(c.DataDir, "records.db")
	}
	if c.QueueStateFile == "" {
		c.QueueStateFile = filepath.Join(c.DataDir, "queue.json")
	}
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	cfg.resolvePaths()
	return cfg
}
