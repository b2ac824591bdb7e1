// internal/config/config.go
//
// This package handles configuration and the .arena directory structure.
// Every project that runs arena gets a .arena/ folder created in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// ArenaDir is the name of the directory we create in each project
	ArenaDir = ".arena"

	// ReadinessPoll polls every agent until it answers or its deadline passes.
	ReadinessPoll = "poll"
	// ReadinessFixed sleeps for FixedWait before a single probe per agent.
	ReadinessFixed = "fixed"
)

const defaultProjectConfigYAML = `# arena project configuration
version: 1

# Paths are resolved relative to the project directory.
paths:
  roster: snakes_config.json
  compose_file: docker-compose.test.yml
  credentials: eval/snapshot_config.json
  source_dir: your_snake
  entry_point: your_snake/main.py
  rules_cli: rules/battlesnake
  tournaments_dir: tournaments

commands:
  interpreter: python3
  tournament: [python3, -m, eval.trueskill_tournament]
  # Leave empty to use the built-in compose renderer and credentials validator.
  # renderer: [python3, generate_docker_compose.py]
  # validator: [python3, -m, eval.config]

readiness:
  mode: poll
  initial_interval: 500ms
  max_interval: 2s
  deadline: 60s
  fixed_wait: 20s

# Zero means wait as long as the process takes.
timeouts:
  tournament: 0s
  upload: 5m

run_id:
  unique: false
`

// PathsConfig lists every file and directory the pipeline touches.
type PathsConfig struct {
	Roster         string `yaml:"roster"`
	ComposeFile    string `yaml:"compose_file"`
	Credentials    string `yaml:"credentials"`
	SourceDir      string `yaml:"source_dir"`
	EntryPoint     string `yaml:"entry_point"`
	RulesCLI       string `yaml:"rules_cli"`
	TournamentsDir string `yaml:"tournaments_dir"`
}

// CommandsConfig holds the external processes arena shells out to.
type CommandsConfig struct {
	Interpreter string   `yaml:"interpreter"`
	Tournament  []string `yaml:"tournament"`
	Renderer    []string `yaml:"renderer,omitempty"`
	Validator   []string `yaml:"validator,omitempty"`
}

// ReadinessConfig controls how long arena waits for agents after start.
type ReadinessConfig struct {
	Mode            string        `yaml:"mode"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Deadline        time.Duration `yaml:"deadline"`
	FixedWait       time.Duration `yaml:"fixed_wait"`
}

// TimeoutsConfig bounds the long-running external calls.
type TimeoutsConfig struct {
	Tournament time.Duration `yaml:"tournament"`
	Upload     time.Duration `yaml:"upload"`
}

// RunIDConfig toggles the collision-resistant run id suffix.
type RunIDConfig struct {
	Unique bool `yaml:"unique"`
}

// ProjectConfig models .arena/config.yaml.
type ProjectConfig struct {
	Version   int             `yaml:"version"`
	Paths     PathsConfig     `yaml:"paths"`
	Commands  CommandsConfig  `yaml:"commands"`
	Readiness ReadinessConfig `yaml:"readiness"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
	RunID     RunIDConfig     `yaml:"run_id"`
}

// Config holds the runtime configuration for arena.
type Config struct {
	// ProjectDir is the directory arena was pointed at (usually the cwd)
	ProjectDir string

	// ArenaProjectDir is ProjectDir/.arena
	ArenaProjectDir string

	Project ProjectConfig
}

// InitArenaDir creates the .arena directory structure in the given project directory.
//
// Structure created:
// .arena/
// ├── logs/         <- run journal
// ├── state/        <- upload slot counter
// └── config.yaml
func InitArenaDir(projectDir string) error {
	arenaDir := filepath.Join(projectDir, ArenaDir)
	dirs := []string{
		filepath.Join(arenaDir, "logs"),
		filepath.Join(arenaDir, "state"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return ensureProjectConfig(filepath.Join(arenaDir, "config.yaml"))
}

// NewConfig loads .env, .arena/config.yaml and ARENA_* overrides, in that order.
func NewConfig(projectDir string) (*Config, error) {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("config: resolve project dir: %w", err)
	}
	// .env is optional; a missing file is the common case.
	_ = godotenv.Load(filepath.Join(abs, ".env"))

	cfg := &Config{
		ProjectDir:      abs,
		ArenaProjectDir: filepath.Join(abs, ArenaDir),
		Project:         defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Project.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.ArenaProjectDir, "logs")
}

// LogPath returns the run journal file.
func (c *Config) LogPath() string {
	return filepath.Join(c.LogsDir(), "arena.log")
}

// StateDir returns the path to the state directory
func (c *Config) StateDir() string {
	return filepath.Join(c.ArenaProjectDir, "state")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.ArenaProjectDir, "config.yaml")
}

// RosterPath returns the absolute roster file path.
func (c *Config) RosterPath() string { return c.resolve(c.Project.Paths.Roster) }

// ComposePath returns the absolute path of the generated topology file.
func (c *Config) ComposePath() string { return c.resolve(c.Project.Paths.ComposeFile) }

// CredentialsPath returns the absolute path of the optional upload credentials.
func (c *Config) CredentialsPath() string { return c.resolve(c.Project.Paths.Credentials) }

// SourceDir returns the agent-under-test source directory.
func (c *Config) SourceDir() string { return c.resolve(c.Project.Paths.SourceDir) }

// EntryPoint returns the agent-under-test entry point file.
func (c *Config) EntryPoint() string { return c.resolve(c.Project.Paths.EntryPoint) }

// RulesCLI returns the rules engine binary path.
func (c *Config) RulesCLI() string { return c.resolve(c.Project.Paths.RulesCLI) }

// TournamentsDir returns the directory the tournament writes results under.
func (c *Config) TournamentsDir() string { return c.resolve(c.Project.Paths.TournamentsDir) }

// Override applies a single key=value setting on top of the loaded config.
// Keys use the dotted YAML path, e.g. paths.roster or timeouts.upload.
func (c *Config) Override(key, value string) error {
	key = strings.ToLower(strings.TrimSpace(key))
	value = strings.TrimSpace(value)
	p := &c.Project
	switch key {
	case "paths.roster":
		p.Paths.Roster = value
	case "paths.compose_file":
		p.Paths.ComposeFile = value
	case "paths.credentials":
		p.Paths.Credentials = value
	case "paths.source_dir":
		p.Paths.SourceDir = value
	case "paths.entry_point":
		p.Paths.EntryPoint = value
	case "paths.rules_cli":
		p.Paths.RulesCLI = value
	case "paths.tournaments_dir":
		p.Paths.TournamentsDir = value
	case "commands.interpreter":
		p.Commands.Interpreter = value
	case "commands.tournament":
		p.Commands.Tournament = strings.Fields(value)
	case "commands.renderer":
		p.Commands.Renderer = strings.Fields(value)
	case "commands.validator":
		p.Commands.Validator = strings.Fields(value)
	case "readiness.mode":
		p.Readiness.Mode = strings.ToLower(value)
	case "readiness.initial_interval":
		return setDuration(&p.Readiness.InitialInterval, key, value)
	case "readiness.max_interval":
		return setDuration(&p.Readiness.MaxInterval, key, value)
	case "readiness.deadline":
		return setDuration(&p.Readiness.Deadline, key, value)
	case "readiness.fixed_wait":
		return setDuration(&p.Readiness.FixedWait, key, value)
	case "timeouts.tournament":
		return setDuration(&p.Timeouts.Tournament, key, value)
	case "timeouts.upload":
		return setDuration(&p.Timeouts.Upload, key, value)
	case "run_id.unique":
		p.RunID.Unique = parseBool(value)
	default:
		return fmt.Errorf("config: unknown setting %q", key)
	}
	return nil
}

// Validate re-checks the project config, e.g. after Override calls.
func (c *Config) Validate() error {
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (c *Config) resolve(candidate string) string {
	return resolvePath(c.ProjectDir, candidate)
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

	parsed := defaultProjectConfig()
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	parsed.applyDefaults()
	c.Project = parsed
	return nil
}

func (c *Config) applyEnvOverrides() error {
	pairs := []struct {
		env string
		key string
	}{
		{"ARENA_ROSTER", "paths.roster"},
		{"ARENA_COMPOSE_FILE", "paths.compose_file"},
		{"ARENA_CREDENTIALS", "paths.credentials"},
		{"ARENA_SOURCE_DIR", "paths.source_dir"},
		{"ARENA_INTERPRETER", "commands.interpreter"},
		{"ARENA_READINESS_MODE", "readiness.mode"},
		{"ARENA_READINESS_DEADLINE", "readiness.deadline"},
		{"ARENA_TOURNAMENT_TIMEOUT", "timeouts.tournament"},
		{"ARENA_UPLOAD_TIMEOUT", "timeouts.upload"},
		{"ARENA_UNIQUE_RUN_ID", "run_id.unique"},
	}
	for _, pair := range pairs {
		value := strings.TrimSpace(os.Getenv(pair.env))
		if value == "" {
			continue
		}
		if err := c.Override(pair.key, value); err != nil {
			return fmt.Errorf("config: %s: %w", pair.env, err)
		}
	}
	return nil
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version: 1,
		Paths: PathsConfig{
			Roster:         "snakes_config.json",
			ComposeFile:    "docker-compose.test.yml",
			Credentials:    "eval/snapshot_config.json",
			SourceDir:      "your_snake",
			EntryPoint:     "your_snake/main.py",
			RulesCLI:       "rules/battlesnake",
			TournamentsDir: "tournaments",
		},
		Commands: CommandsConfig{
			Interpreter: "python3",
			Tournament:  []string{"python3", "-m", "eval.trueskill_tournament"},
		},
		Readiness: ReadinessConfig{
			Mode:            ReadinessPoll,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			Deadline:        60 * time.Second,
			FixedWait:       20 * time.Second,
		},
		Timeouts: TimeoutsConfig{
			Upload: 5 * time.Minute,
		},
	}
}

func (pc *ProjectConfig) applyDefaults() {
	defaults := defaultProjectConfig()
	if pc.Version == 0 {
		pc.Version = 1
	}
	if strings.TrimSpace(pc.Commands.Interpreter) == "" {
		pc.Commands.Interpreter = defaults.Commands.Interpreter
	}
	if len(pc.Commands.Tournament) == 0 {
		pc.Commands.Tournament = defaults.Commands.Tournament
	}
	pc.Readiness.Mode = strings.ToLower(strings.TrimSpace(pc.Readiness.Mode))
	if pc.Readiness.Mode == "" {
		pc.Readiness.Mode = ReadinessPoll
	}
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	required := map[string]string{
		"paths.roster":          pc.Paths.Roster,
		"paths.compose_file":    pc.Paths.ComposeFile,
		"paths.credentials":     pc.Paths.Credentials,
		"paths.source_dir":      pc.Paths.SourceDir,
		"paths.tournaments_dir": pc.Paths.TournamentsDir,
	}
	for key, value := range required {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s is required", key)
		}
	}
	if len(pc.Commands.Tournament) == 0 {
		return fmt.Errorf("commands.tournament is required")
	}
	switch pc.Readiness.Mode {
	case ReadinessPoll:
		if pc.Readiness.InitialInterval <= 0 || pc.Readiness.Deadline <= 0 {
			return fmt.Errorf("readiness.initial_interval and readiness.deadline must be positive")
		}
		if pc.Readiness.MaxInterval < pc.Readiness.InitialInterval {
			return fmt.Errorf("readiness.max_interval must be >= readiness.initial_interval")
		}
	case ReadinessFixed:
		if pc.Readiness.FixedWait < 0 {
			return fmt.Errorf("readiness.fixed_wait must be >= 0")
		}
	default:
		return fmt.Errorf("readiness.mode must be 'poll' or 'fixed'")
	}
	if pc.Timeouts.Tournament < 0 || pc.Timeouts.Upload < 0 {
		return fmt.Errorf("timeouts must be >= 0")
	}
	return nil
}

func setDuration(target *time.Duration, key, value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*target = d
	return nil
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0644)
}
