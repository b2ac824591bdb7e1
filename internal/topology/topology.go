// Package topology renders the docker compose file that runs every agent.
package topology

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/arena/internal/command"
	"github.com/kingrea/arena/internal/roster"
)

const (
	// DefaultProject is the compose project name used for every run.
	DefaultProject = "arena"
	composeVersion = "3.3"
)

// Service is one running agent within the topology.
type Service struct {
	Agent     roster.AgentSpec
	Name      string
	Container string
	// Endpoint is the agent's base URL as reachable from the host.
	Endpoint string
}

// Topology is the rendered runtime description.
type Topology struct {
	File     string
	Project  string
	Services []Service
}

// Renderer turns a roster into a topology file at out.
type Renderer interface {
	Render(ctx context.Context, t roster.Tournament, out string) (Topology, error)
}

// ServiceName is the compose service key for an agent.
func ServiceName(a roster.AgentSpec) string {
	return strings.ToLower(a.Name + "-service")
}

// ContainerName is the container name for an agent.
func ContainerName(a roster.AgentSpec) string {
	return strings.ToLower(a.Name + "-test")
}

// Describe derives the topology for t without writing anything.
func Describe(t roster.Tournament, file, project string) Topology {
	if project == "" {
		project = DefaultProject
	}
	topo := Topology{File: file, Project: project, Services: make([]Service, 0, len(t.Agents))}
	for _, agent := range t.Agents {
		topo.Services = append(topo.Services, Service{
			Agent:     agent,
			Name:      ServiceName(agent),
			Container: ContainerName(agent),
			Endpoint:  "http://localhost:" + strconv.Itoa(agent.Port),
		})
	}
	return topo
}

type composeService struct {
	Build         string   `yaml:"build"`
	Ports         []string `yaml:"ports"`
	Environment   []string `yaml:"environment"`
	ContainerName string   `yaml:"container_name"`
}

type composeFile struct {
	Version  string     `yaml:"version"`
	Services *yaml.Node `yaml:"services"`
}

// ComposeRenderer writes the compose file in-process.
type ComposeRenderer struct {
	Project string
}

func (r ComposeRenderer) Render(_ context.Context, t roster.Tournament, out string) (Topology, error) {
	if len(t.Agents) == 0 {
		return Topology{}, fmt.Errorf("topology: %w", roster.ErrNoAgents)
	}
	data, err := Marshal(t, filepath.Dir(out))
	if err != nil {
		return Topology{}, err
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return Topology{}, fmt.Errorf("topology: create output dir: %w", err)
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return Topology{}, fmt.Errorf("topology: write %s: %w", out, err)
	}
	return Describe(t, out, r.Project), nil
}

// Marshal encodes t as a compose document. Build directories are written
// relative to baseDir when possible so the file stays portable.
func Marshal(t roster.Tournament, baseDir string) ([]byte, error) {
	services := &yaml.Node{Kind: yaml.MappingNode}
	for _, agent := range t.Agents {
		port := strconv.Itoa(agent.Port)
		svc := composeService{
			Build:         buildPath(baseDir, agent.Directory),
			Ports:         []string{port + ":" + port},
			Environment:   []string{"PORT=" + port, "SNAKE_NAME=" + agent.Name},
			ContainerName: ContainerName(agent),
		}
		var value yaml.Node
		if err := value.Encode(svc); err != nil {
			return nil, fmt.Errorf("topology: encode %s: %w", agent.Name, err)
		}
		key := &yaml.Node{Kind: yaml.ScalarNode, Value: ServiceName(agent)}
		services.Content = append(services.Content, key, &value)
	}
	data, err := yaml.Marshal(composeFile{Version: composeVersion, Services: services})
	if err != nil {
		return nil, fmt.Errorf("topology: encode compose file: %w", err)
	}
	return data, nil
}

func buildPath(baseDir, dir string) string {
	if baseDir == "" || !filepath.IsAbs(dir) {
		return filepath.ToSlash(dir)
	}
	rel, err := filepath.Rel(baseDir, dir)
	if err != nil {
		return filepath.ToSlash(dir)
	}
	if !strings.HasPrefix(rel, ".") {
		rel = "./" + rel
	}
	return filepath.ToSlash(rel)
}

// CommandRenderer delegates to an external renderer invoked as
// argv... --config <roster> --output <out>.
type CommandRenderer struct {
	Argv    []string
	Dir     string
	Project string
	Runner  command.Runner
}

func (r CommandRenderer) Render(ctx context.Context, t roster.Tournament, out string) (Topology, error) {
	if len(r.Argv) == 0 {
		return Topology{}, errors.New("topology: renderer command is empty")
	}
	runner := r.Runner
	if runner == nil {
		runner = command.ExecRunner{}
	}
	args := append(append([]string{}, r.Argv[1:]...), "--config", t.Path, "--output", out)
	_, err := runner.Run(ctx, command.Spec{
		Name: r.Argv[0],
		Args: args,
		Dir:  r.Dir,
		Env:  t.PortEnv(),
	})
	if err != nil {
		return Topology{}, fmt.Errorf("topology: render: %w", err)
	}
	if _, err := os.Stat(out); err != nil {
		return Topology{}, fmt.Errorf("topology: renderer produced no file: %w", err)
	}
	return Describe(t, out, r.Project), nil
}
