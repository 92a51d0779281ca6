package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestLoadDefaultsWhenMissing(t *testing.T) {
	root := t.TempDir()
	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Settings.Version != 1 {
		t.Fatalf("expected default version == 1, got %d", cfg.Settings.Version)
	}
	if cfg.Settings.Jobs != 8 || cfg.Settings.RecursionLimit != 2 || cfg.Settings.DepsFile != "DEPS" {
		t.Fatalf("unexpected defaults %+v", cfg.Settings)
	}
	if cfg.Settings.Level() != slog.LevelInfo {
		t.Fatalf("expected info level, got %v", cfg.Settings.Level())
	}
	if cfg.StateDir != filepath.Join(root, GsyncDir) {
		t.Fatalf("unexpected state dir %s", cfg.StateDir)
	}
}

func TestLoadParsesYaml(t *testing.T) {
	root := t.TempDir()
	configYAML := strings.TrimSpace(`
version: 1
jobs: 16
halt_on_error: true
recursion_limit: 3
deps_file: DEPS.yaml
log_level: DEBUG
target_os:
  - android
  - " ios "
  - android
`)
	writeConfig(t, root, configYAML)
	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	s := cfg.Settings
	if s.Jobs != 16 || !s.HaltOnError || s.RecursionLimit != 3 || s.DepsFile != "DEPS.yaml" {
		t.Fatalf("unexpected settings %+v", s)
	}
	if s.Level() != slog.LevelDebug {
		t.Fatalf("expected debug level, got %v", s.Level())
	}
	if !reflect.DeepEqual(s.TargetOS, []string{"android", "ios"}) {
		t.Fatalf("unexpected target os %v", s.TargetOS)
	}
}

func TestLoadKeepsDefaultsForOmittedKeys(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "halt_on_error: true\n")
	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Settings.Jobs != 8 || !cfg.Settings.HaltOnError {
		t.Fatalf("expected defaults merged with file, got %+v", cfg.Settings)
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "log_level: loud\n")
	if _, err := Load(root); err == nil || !strings.Contains(err.Error(), "log_level") {
		t.Fatalf("expected log_level error, got %v", err)
	}

	writeConfig(t, root, "deps_file: sub/DEPS\n")
	if _, err := Load(root); err == nil || !strings.Contains(err.Error(), "deps_file") {
		t.Fatalf("expected deps_file error, got %v", err)
	}
}

func TestEnvironmentOverridesConfig(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "jobs: 4\n")
	t.Setenv("GSYNC_JOBS", "12")
	t.Setenv("GSYNC_TARGET_OS", "linux,win")
	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Settings.Jobs != 12 {
		t.Fatalf("expected env override to 12, got %d", cfg.Settings.Jobs)
	}
	if !reflect.DeepEqual(cfg.Settings.TargetOS, []string{"linux", "win"}) {
		t.Fatalf("unexpected target os %v", cfg.Settings.TargetOS)
	}

	t.Setenv("GSYNC_HALT_ON_ERROR", "maybe")
	if _, err := Load(root); err == nil || !strings.Contains(err.Error(), "GSYNC_HALT_ON_ERROR") {
		t.Fatalf("expected parse error for halt override, got %v", err)
	}
}

func TestDotenvFileFeedsOverrides(t *testing.T) {
	root := t.TempDir()
	// Register cleanup for the variable godotenv is about to set.
	t.Setenv("GSYNC_LOG_LEVEL", "")
	os.Unsetenv("GSYNC_LOG_LEVEL")
	if err := os.MkdirAll(filepath.Join(root, GsyncDir), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, GsyncDir, ".env"), []byte("GSYNC_LOG_LEVEL=warn\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Settings.Level() != slog.LevelWarn {
		t.Fatalf("expected warn from .env, got %v", cfg.Settings.Level())
	}
}

func TestInitDirWritesDefaultConfigOnce(t *testing.T) {
	root := t.TempDir()
	if err := InitDir(root); err != nil {
		t.Fatalf("InitDir: %v", err)
	}
	for _, dir := range []string{"logs", "state", "metrics"} {
		if info, err := os.Stat(filepath.Join(root, GsyncDir, dir)); err != nil || !info.IsDir() {
			t.Fatalf("expected %s directory, err=%v", dir, err)
		}
	}
	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Settings.Jobs = 3
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := InitDir(root); err != nil {
		t.Fatalf("second InitDir: %v", err)
	}
	reloaded, err := Load(root)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Settings.Jobs != 3 {
		t.Fatalf("InitDir overwrote saved config: jobs=%d", reloaded.Settings.Jobs)
	}
}

func writeConfig(t *testing.T, root, content string) {
	t.Helper()
	dir := filepath.Join(root, GsyncDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
