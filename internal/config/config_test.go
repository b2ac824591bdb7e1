package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadProjectConfigDefaultsWhenMissing(t *testing.T) {
	projectDir := t.TempDir()
	arenaDir := filepath.Join(projectDir, ArenaDir)
	if err := os.MkdirAll(arenaDir, 0755); err != nil {
		t.Fatal(err)
	}
	c := &Config{ProjectDir: projectDir, ArenaProjectDir: arenaDir, Project: defaultProjectConfig()}
	if err := c.loadProjectConfig(); err != nil {
		t.Fatalf("loadProjectConfig returned error: %v", err)
	}
	if c.Project.Version != 1 {
		t.Fatalf("expected default version == 1, got %d", c.Project.Version)
	}
	if got := c.RosterPath(); got != filepath.Join(projectDir, "snakes_config.json") {
		t.Fatalf("unexpected roster path %s", got)
	}
	if c.Project.Readiness.Deadline != 60*time.Second {
		t.Fatalf("expected 60s readiness deadline, got %s", c.Project.Readiness.Deadline)
	}
}

func TestLoadProjectConfigParsesYaml(t *testing.T) {
	projectDir := t.TempDir()
	arenaDir := filepath.Join(projectDir, ArenaDir)
	if err := os.MkdirAll(arenaDir, 0755); err != nil {
		t.Fatal(err)
	}
	configYAML := strings.TrimSpace(`
version: 1
paths:
  roster: configs/league.yaml
  compose_file: /tmp/arena-compose.yml
commands:
  tournament: [python3, -m, eval.quick_tournament]
readiness:
  mode: FIXED
  fixed_wait: 5s
timeouts:
  tournament: 30m
`)
	if err := os.WriteFile(filepath.Join(arenaDir, "config.yaml"), []byte(configYAML), 0644); err != nil {
		t.Fatal(err)
	}
	c := &Config{ProjectDir: projectDir, ArenaProjectDir: arenaDir, Project: defaultProjectConfig()}
	if err := c.loadProjectConfig(); err != nil {
		t.Fatalf("loadProjectConfig returned error: %v", err)
	}
	if !strings.HasPrefix(c.RosterPath(), projectDir) {
		t.Fatalf("expected roster path to be resolved, got %s", c.RosterPath())
	}
	if c.ComposePath() != "/tmp/arena-compose.yml" {
		t.Fatalf("absolute compose path should be kept, got %s", c.ComposePath())
	}
	if c.Project.Readiness.Mode != ReadinessFixed {
		t.Fatalf("expected mode to be normalized, got %q", c.Project.Readiness.Mode)
	}
	if c.Project.Readiness.FixedWait != 5*time.Second {
		t.Fatalf("wrong fixed wait: %s", c.Project.Readiness.FixedWait)
	}
	if c.Project.Timeouts.Tournament != 30*time.Minute {
		t.Fatalf("wrong tournament timeout: %s", c.Project.Timeouts.Tournament)
	}
	if got := strings.Join(c.Project.Commands.Tournament, " "); got != "python3 -m eval.quick_tournament" {
		t.Fatalf("wrong tournament command: %s", got)
	}
	// Keys missing from the file keep their defaults.
	if c.Project.Paths.SourceDir != "your_snake" {
		t.Fatalf("expected default source dir, got %q", c.Project.Paths.SourceDir)
	}
}

func TestLoadProjectConfigValidation(t *testing.T) {
	projectDir := t.TempDir()
	arenaDir := filepath.Join(projectDir, ArenaDir)
	if err := os.MkdirAll(arenaDir, 0755); err != nil {
		t.Fatal(err)
	}
	invalid := "version: 1\nreadiness:\n  mode: eventually\n"
	if err := os.WriteFile(filepath.Join(arenaDir, "config.yaml"), []byte(invalid), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewConfig(projectDir); err == nil {
		t.Fatalf("expected validation error for unknown readiness mode")
	}
}

func TestInitArenaDirWritesDefaultConfig(t *testing.T) {
	projectDir := t.TempDir()
	if err := InitArenaDir(projectDir); err != nil {
		t.Fatalf("InitArenaDir: %v", err)
	}
	for _, sub := range []string{"logs", "state", "config.yaml"} {
		if _, err := os.Stat(filepath.Join(projectDir, ArenaDir, sub)); err != nil {
			t.Fatalf("expected %s to exist: %v", sub, err)
		}
	}
	cfg, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig on default file: %v", err)
	}
	if cfg.Project.Readiness.InitialInterval != 500*time.Millisecond {
		t.Fatalf("default file should decode initial interval, got %s", cfg.Project.Readiness.InitialInterval)
	}
	if cfg.Project.Timeouts.Upload != 5*time.Minute {
		t.Fatalf("default file should decode upload timeout, got %s", cfg.Project.Timeouts.Upload)
	}
}

func TestEnvOverridesApplyAfterFile(t *testing.T) {
	projectDir := t.TempDir()
	t.Setenv("ARENA_ROSTER", "other.json")
	t.Setenv("ARENA_TOURNAMENT_TIMEOUT", "90s")
	t.Setenv("ARENA_UNIQUE_RUN_ID", "yes")
	cfg, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	if cfg.RosterPath() != filepath.Join(projectDir, "other.json") {
		t.Fatalf("roster override ignored: %s", cfg.RosterPath())
	}
	if cfg.Project.Timeouts.Tournament != 90*time.Second {
		t.Fatalf("timeout override ignored: %s", cfg.Project.Timeouts.Tournament)
	}
	if !cfg.Project.RunID.Unique {
		t.Fatalf("expected unique run id from env")
	}
}

func TestDotEnvIsLoaded(t *testing.T) {
	projectDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(projectDir, ".env"), []byte("ARENA_CREDENTIALS=secrets/snap.json\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ARENA_CREDENTIALS", "")
	os.Unsetenv("ARENA_CREDENTIALS")
	cfg, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	if cfg.CredentialsPath() != filepath.Join(projectDir, "secrets", "snap.json") {
		t.Fatalf(".env value not applied: %s", cfg.CredentialsPath())
	}
}

func TestOverrideRejectsUnknownKeysAndBadDurations(t *testing.T) {
	cfg := &Config{ProjectDir: t.TempDir(), Project: defaultProjectConfig()}
	if err := cfg.Override("paths.nope", "x"); err == nil {
		t.Fatalf("expected unknown key error")
	}
	if err := cfg.Override("timeouts.upload", "soon"); err == nil {
		t.Fatalf("expected duration parse error")
	}
	if err := cfg.Override("commands.tournament", "python3 -m eval.other"); err != nil {
		t.Fatalf("override: %v", err)
	}
	if len(cfg.Project.Commands.Tournament) != 3 {
		t.Fatalf("expected command split into fields, got %v", cfg.Project.Commands.Tournament)
	}
	cfg.Project.Readiness.MaxInterval = time.Millisecond
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected max_interval < initial_interval to fail validation")
	}
}
