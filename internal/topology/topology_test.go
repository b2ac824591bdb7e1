package topology

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/arena/internal/command"
	"github.com/kingrea/arena/internal/roster"
)

type decodedService struct {
	Build         string   `yaml:"build"`
	Ports         []string `yaml:"ports"`
	Environment   []string `yaml:"environment"`
	ContainerName string   `yaml:"container_name"`
}

type decodedCompose struct {
	Version  string                    `yaml:"version"`
	Services map[string]decodedService `yaml:"services"`
}

func tournamentOf(dir string, n int) roster.Tournament {
	t := roster.Tournament{Path: filepath.Join(dir, "snakes_config.json"), Iterations: 1, Workers: 1}
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("Snake%d", i)
		t.Agents = append(t.Agents, roster.AgentSpec{
			Name:      name,
			Port:      7100 + i,
			Directory: filepath.Join(dir, "example_snakes", name),
		})
	}
	return t
}

func TestComposeRendererEmitsOneServicePerAgent(t *testing.T) {
	for _, n := range []int{1, 2, 5, 12} {
		t.Run(fmt.Sprintf("%d agents", n), func(t *testing.T) {
			dir := t.TempDir()
			tour := tournamentOf(dir, n)
			out := filepath.Join(dir, "docker-compose.test.yml")
			topo, err := ComposeRenderer{}.Render(context.Background(), tour, out)
			if err != nil {
				t.Fatalf("Render: %v", err)
			}
			data, err := os.ReadFile(out)
			if err != nil {
				t.Fatalf("read compose: %v", err)
			}
			var doc decodedCompose
			if err := yaml.Unmarshal(data, &doc); err != nil {
				t.Fatalf("decode compose: %v", err)
			}
			if len(doc.Services) != n || len(topo.Services) != n {
				t.Fatalf("services = %d/%d, want %d", len(doc.Services), len(topo.Services), n)
			}
			for i, agent := range tour.Agents {
				svc, ok := doc.Services[strings.ToLower(agent.Name)+"-service"]
				if !ok {
					t.Fatalf("missing service for %s", agent.Name)
				}
				port := fmt.Sprint(agent.Port)
				if len(svc.Ports) != 1 || svc.Ports[0] != port+":"+port {
					t.Fatalf("ports = %v", svc.Ports)
				}
				if svc.ContainerName != strings.ToLower(agent.Name)+"-test" {
					t.Fatalf("container_name = %s", svc.ContainerName)
				}
				if svc.Build != "./example_snakes/"+agent.Name {
					t.Fatalf("build = %s", svc.Build)
				}
				if topo.Services[i].Endpoint != "http://localhost:"+port {
					t.Fatalf("endpoint = %s", topo.Services[i].Endpoint)
				}
			}
		})
	}
}

func TestMarshalKeepsRosterOrder(t *testing.T) {
	tour := roster.Tournament{Agents: []roster.AgentSpec{
		{Name: "Zed", Port: 9002, Directory: "zed"},
		{Name: "Amy", Port: 9001, Directory: "amy"},
	}}
	data, err := Marshal(tour, "")
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	text := string(data)
	if strings.Index(text, "zed-service") > strings.Index(text, "amy-service") {
		t.Fatalf("services out of roster order:\n%s", text)
	}
	if !strings.HasPrefix(text, "version: \"3.3\"") {
		t.Fatalf("unexpected header:\n%s", text)
	}
	if !strings.Contains(text, "SNAKE_NAME=Zed") {
		t.Fatalf("expected original-case SNAKE_NAME:\n%s", text)
	}
}

func TestComposeRendererRejectsEmptyRoster(t *testing.T) {
	_, err := ComposeRenderer{}.Render(context.Background(), roster.Tournament{}, filepath.Join(t.TempDir(), "c.yml"))
	if !errors.Is(err, roster.ErrNoAgents) {
		t.Fatalf("expected ErrNoAgents, got %v", err)
	}
}

type recordingRunner struct {
	spec command.Spec
	err  error
	out  string
}

func (r *recordingRunner) Run(_ context.Context, spec command.Spec) (command.Result, error) {
	r.spec = spec
	if r.err == nil && r.out != "" {
		_ = os.WriteFile(r.out, []byte("version: \"3.3\"\n"), 0o644)
	}
	return command.Result{}, r.err
}

func TestCommandRendererPassesRosterAndPortEnv(t *testing.T) {
	dir := t.TempDir()
	tour := tournamentOf(dir, 2)
	out := filepath.Join(dir, "compose.yml")
	runner := &recordingRunner{out: out}
	r := CommandRenderer{Argv: []string{"python3", "generate_docker_compose.py"}, Runner: runner}
	topo, err := r.Render(context.Background(), tour, out)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := "python3 generate_docker_compose.py --config " + tour.Path + " --output " + out
	if runner.spec.String() != want {
		t.Fatalf("command = %q, want %q", runner.spec.String(), want)
	}
	if strings.Join(runner.spec.Env, ",") != "SNAKE0_PORT=7100,SNAKE1_PORT=7101" {
		t.Fatalf("env = %v", runner.spec.Env)
	}
	if os.Getenv("SNAKE0_PORT") != "" {
		t.Fatalf("port env leaked into the parent process")
	}
	if len(topo.Services) != 2 || topo.Project != DefaultProject {
		t.Fatalf("unexpected topology %+v", topo)
	}
}

func TestCommandRendererPropagatesExitCode(t *testing.T) {
	dir := t.TempDir()
	runner := &recordingRunner{err: &command.ExitError{Command: "render", Code: 2}}
	r := CommandRenderer{Argv: []string{"render"}, Runner: runner}
	_, err := r.Render(context.Background(), tournamentOf(dir, 1), filepath.Join(dir, "c.yml"))
	if code, ok := command.ExitCode(err); !ok || code != 2 {
		t.Fatalf("expected exit code 2, got %d %v (%v)", code, ok, err)
	}
}
