// internal/config/config.go
//
// This package handles configuration and the .gsync directory structure.
// Every checkout root managed by gsync gets a .gsync/ folder next to its
// .gsync.yaml spec.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// GsyncDir is the name of the directory we create in each checkout root
	GsyncDir = ".gsync"

	// EnvPrefix marks environment variables that override config.yaml.
	EnvPrefix = "GSYNC_"

	defaultDepsFile       = "DEPS"
	defaultRecursionLimit = 2
)

const defaultProjectConfigYAML = `# gsync configuration
version: 1

# Number of checkouts allowed to run at once.
jobs: 8

# Stop launching new checkouts after the first failure.
halt_on_error: false

# Depth at which manifest entries become bookkeeping only.
recursion_limit: 2

# Manifest file read from every checkout.
deps_file: DEPS

# debug, info, warn, error
log_level: info

# Extra deps_os sections to apply besides the host OS.
# target_os:
#   - android
`

// Settings models .gsync/config.yaml.
type Settings struct {
	Version        int      `yaml:"version"`
	Jobs           int      `yaml:"jobs"`
	HaltOnError    bool     `yaml:"halt_on_error"`
	RecursionLimit int      `yaml:"recursion_limit"`
	DepsFile       string   `yaml:"deps_file"`
	LogLevel       string   `yaml:"log_level"`
	TargetOS       []string `yaml:"target_os,omitempty"`
}

// Config holds the runtime configuration for a checkout root.
type Config struct {
	// Root is the directory holding .gsync.yaml
	Root string

	// StateDir is Root/.gsync
	StateDir string

	Settings Settings
}

// InitDir creates the .gsync directory structure in the given checkout root.
//
// Structure created:
// .gsync/
// ├── logs/         <- gsync.log and the run journal
// ├── state/        <- entries.json from the last run
// ├── metrics/      <- optional prometheus textfile exports
// └── config.yaml
func InitDir(root string) error {
	dir := filepath.Join(root, GsyncDir)
	dirs := []string{
		filepath.Join(dir, "logs"),
		filepath.Join(dir, "state"),
		filepath.Join(dir, "metrics"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return ensureProjectConfig(filepath.Join(dir, "config.yaml"))
}

// Load reads .gsync/.env, .gsync/config.yaml and GSYNC_* overrides, in that
// order. A missing config file leaves the defaults in place.
func Load(root string) (*Config, error) {
	cfg := &Config{
		Root:     root,
		StateDir: filepath.Join(root, GsyncDir),
		Settings: DefaultSettings(),
	}
	// Variables already set in the process win over the .env file.
	_ = godotenv.Load(cfg.EnvPath())
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	if err := cfg.Settings.applyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Settings.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// DefaultSettings returns the embedded defaults.
func DefaultSettings() Settings {
	var settings Settings
	if err := yaml.Unmarshal([]byte(defaultProjectConfigYAML), &settings); err != nil {
		panic(fmt.Sprintf("config: embedded defaults: %v", err))
	}
	settings.applyDefaults()
	return settings
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.StateDir, "logs")
}

// LogPath is the structured log file.
func (c *Config) LogPath() string {
	return filepath.Join(c.LogsDir(), "gsync.log")
}

// JournalPath is the human readable run journal.
func (c *Config) JournalPath() string {
	return filepath.Join(c.LogsDir(), "journal.log")
}

// MetricsDir returns the default directory for textfile exports
func (c *Config) MetricsDir() string {
	return filepath.Join(c.StateDir, "metrics")
}

// EnvPath returns the optional dotenv file.
func (c *Config) EnvPath() string {
	return filepath.Join(c.StateDir, ".env")
}

// ProjectConfigPath returns the on-disk location for the config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.StateDir, "config.yaml")
}

// Level maps log_level onto slog.
func (s Settings) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Save persists the current settings back to .gsync/config.yaml.
func (c *Config) Save() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	c.Settings.applyDefaults()
	if err := c.Settings.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(c.StateDir, 0o755); err != nil {
		return fmt.Errorf("config: ensure state dir: %w", err)
	}
	data, err := yaml.Marshal(c.Settings)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.ProjectConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("config: write config: %w", err)
	}
	return nil
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	parsed := c.Settings
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	parsed.applyDefaults()
	c.Settings = parsed
	return nil
}

func (s *Settings) applyDefaults() {
	if s.Version == 0 {
		s.Version = 1
	}
	if s.Jobs <= 0 {
		s.Jobs = 1
	}
	if s.RecursionLimit <= 0 {
		s.RecursionLimit = defaultRecursionLimit
	}
	s.DepsFile = strings.TrimSpace(s.DepsFile)
	if s.DepsFile == "" {
		s.DepsFile = defaultDepsFile
	}
	s.LogLevel = strings.ToLower(strings.TrimSpace(s.LogLevel))
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	s.TargetOS = normalizeList(s.TargetOS)
}

func (s *Settings) applyEnv(lookup func(string) (string, bool)) error {
	if value, ok := lookup(EnvPrefix + "JOBS"); ok {
		jobs, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%sJOBS: %w", EnvPrefix, err)
		}
		s.Jobs = jobs
	}
	if value, ok := lookup(EnvPrefix + "HALT_ON_ERROR"); ok {
		halt, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%sHALT_ON_ERROR: %w", EnvPrefix, err)
		}
		s.HaltOnError = halt
	}
	if value, ok := lookup(EnvPrefix + "RECURSION_LIMIT"); ok {
		limit, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%sRECURSION_LIMIT: %w", EnvPrefix, err)
		}
		s.RecursionLimit = limit
	}
	if value, ok := lookup(EnvPrefix + "DEPS_FILE"); ok {
		s.DepsFile = value
	}
	if value, ok := lookup(EnvPrefix + "LOG_LEVEL"); ok {
		s.LogLevel = value
	}
	if value, ok := lookup(EnvPrefix + "TARGET_OS"); ok {
		s.TargetOS = strings.Split(value, ",")
	}
	s.applyDefaults()
	return nil
}

func (s Settings) validate() error {
	if s.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error")
	}
	if strings.ContainsAny(s.DepsFile, `/\`) {
		return fmt.Errorf("deps_file must be a bare file name")
	}
	return nil
}

func normalizeList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || contains(out, v) {
			continue
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), target) {
			return true
		}
	}
	return false
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}
