// Package roster loads the agent roster and tournament parameters.
package roster

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultIterations = 100
	DefaultWorkers    = 8
)

var (
	ErrNotFound      = errors.New("roster file not found")
	ErrNoAgents      = errors.New("no snakes defined")
	ErrDuplicateName = errors.New("duplicate snake name")
	ErrDuplicatePort = errors.New("duplicate snake port")
	ErrInvalidAgent  = errors.New("invalid snake entry")
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// AgentSpec is one snake in the roster.
type AgentSpec struct {
	Name      string `json:"name" yaml:"name"`
	Port      int    `json:"port" yaml:"port"`
	Directory string `json:"directory,omitempty" yaml:"directory,omitempty"`
}

// Settings carries the tournament_settings block.
type Settings struct {
	Iterations int `json:"iterations_per_matchup,omitempty" yaml:"iterations_per_matchup,omitempty"`
	Workers    int `json:"workers,omitempty" yaml:"workers,omitempty"`
}

type document struct {
	Snakes   []AgentSpec `json:"snakes" yaml:"snakes"`
	Settings Settings    `json:"tournament_settings" yaml:"tournament_settings"`
}

// Tournament is the validated roster for one run.
type Tournament struct {
	// Path is the absolute roster file the tournament was loaded from.
	Path       string
	Agents     []AgentSpec
	Iterations int
	Workers    int
}

// Load reads the roster from disk. JSON and YAML are both accepted.
func Load(path string) (Tournament, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Tournament{}, fmt.Errorf("roster: resolve %s: %w", path, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Tournament{}, fmt.Errorf("roster: %s: %w", abs, ErrNotFound)
		}
		return Tournament{}, fmt.Errorf("roster: read %s: %w", abs, err)
	}
	doc, err := decode(abs, data)
	if err != nil {
		return Tournament{}, fmt.Errorf("roster: parse %s: %w", abs, err)
	}
	t := Tournament{
		Path:       abs,
		Agents:     doc.Snakes,
		Iterations: doc.Settings.Iterations,
		Workers:    doc.Settings.Workers,
	}
	if err := t.Normalize(filepath.Dir(abs)); err != nil {
		return Tournament{}, fmt.Errorf("roster: %s: %w", abs, err)
	}
	return t, nil
}

// Save writes the roster back out as JSON.
func Save(path string, t Tournament) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	doc := document{
		Snakes:   t.Agents,
		Settings: Settings{Iterations: t.Iterations, Workers: t.Workers},
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

func decode(path string, data []byte) (document, error) {
	var doc document
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err := yaml.Unmarshal(data, &doc)
		return doc, err
	default:
		err := json.Unmarshal(data, &doc)
		return doc, err
	}
}

// Normalize trims fields, applies defaults, resolves build directories
// against baseDir and enforces name and port uniqueness.
func (t *Tournament) Normalize(baseDir string) error {
	if len(t.Agents) == 0 {
		return ErrNoAgents
	}
	if t.Iterations == 0 {
		t.Iterations = DefaultIterations
	}
	if t.Workers == 0 {
		t.Workers = DefaultWorkers
	}
	if t.Iterations < 0 {
		return fmt.Errorf("iterations_per_matchup must be positive, got %d", t.Iterations)
	}
	if t.Workers < 0 {
		return fmt.Errorf("workers must be positive, got %d", t.Workers)
	}
	names := make(map[string]string, len(t.Agents))
	ports := make(map[int]string, len(t.Agents))
	for i := range t.Agents {
		agent, err := t.Agents[i].Normalize(baseDir)
		if err != nil {
			return fmt.Errorf("snake %d: %w", i, err)
		}
		key := strings.ToLower(agent.Name)
		if prev, ok := names[key]; ok {
			return fmt.Errorf("%w: %q and %q", ErrDuplicateName, prev, agent.Name)
		}
		if prev, ok := ports[agent.Port]; ok {
			return fmt.Errorf("%w: %d used by %q and %q", ErrDuplicatePort, agent.Port, prev, agent.Name)
		}
		names[key] = agent.Name
		ports[agent.Port] = agent.Name
		t.Agents[i] = agent
	}
	return nil
}

// Normalize ensures essential fields are present.
func (a AgentSpec) Normalize(baseDir string) (AgentSpec, error) {
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" {
		return AgentSpec{}, fmt.Errorf("%w: missing name", ErrInvalidAgent)
	}
	if !namePattern.MatchString(a.Name) {
		return AgentSpec{}, fmt.Errorf("%w: name %q must be letters, digits, '-' or '_'", ErrInvalidAgent, a.Name)
	}
	if a.Port < 1 || a.Port > 65535 {
		return AgentSpec{}, fmt.Errorf("%w: %s has port %d outside 1-65535", ErrInvalidAgent, a.Name, a.Port)
	}
	dir := strings.TrimSpace(a.Directory)
	if dir == "" {
		dir = a.Name
	}
	if !filepath.IsAbs(dir) && baseDir != "" {
		dir = filepath.Join(baseDir, dir)
	}
	a.Directory = filepath.Clean(dir)
	return a, nil
}

// EnvName returns the per-agent port variable name, e.g. MIKE_SNAKE_PORT.
func (a AgentSpec) EnvName() string {
	upper := strings.ToUpper(a.Name)
	return strings.ReplaceAll(upper, "-", "_") + "_PORT"
}

// Names returns agent names in roster order.
func (t Tournament) Names() []string {
	names := make([]string, len(t.Agents))
	for i, a := range t.Agents {
		names[i] = a.Name
	}
	return names
}

// SnakesArg renders the name:port list the tournament process expects.
func (t Tournament) SnakesArg() string {
	parts := make([]string, len(t.Agents))
	for i, a := range t.Agents {
		parts[i] = a.Name + ":" + strconv.Itoa(a.Port)
	}
	return strings.Join(parts, ",")
}

// PortEnv returns NAME_PORT=port pairs for child process environments.
func (t Tournament) PortEnv() []string {
	env := make([]string, len(t.Agents))
	for i, a := range t.Agents {
		env[i] = a.EnvName() + "=" + strconv.Itoa(a.Port)
	}
	return env
}
