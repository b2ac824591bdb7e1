package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kingrea/arena/internal/command"
	"github.com/kingrea/arena/internal/topology"
)

// ComposeRuntime drives `docker compose` for a rendered topology.
type ComposeRuntime struct {
	Binary string
	Dir    string
	Runner command.Runner
	// Output receives compose progress output when set.
	Output io.Writer
}

func (c ComposeRuntime) Up(ctx context.Context, topo topology.Topology) error {
	return c.compose(ctx, topo, "up", "-d", "--build")
}

func (c ComposeRuntime) Down(ctx context.Context, topo topology.Topology) error {
	return c.compose(ctx, topo, "down", "--remove-orphans")
}

func (c ComposeRuntime) compose(ctx context.Context, topo topology.Topology, args ...string) error {
	binary := c.Binary
	if binary == "" {
		binary = "docker"
	}
	runner := c.Runner
	if runner == nil {
		runner = command.ExecRunner{}
	}
	project := topo.Project
	if project == "" {
		project = topology.DefaultProject
	}
	full := append([]string{"compose", "-p", project, "-f", topo.File}, args...)
	_, err := runner.Run(ctx, command.Spec{
		Name:   binary,
		Args:   full,
		Dir:    c.Dir,
		Stdout: c.Output,
		Stderr: c.Output,
	})
	return err
}

// HTTPProber issues one GET against the agent's root endpoint.
type HTTPProber struct {
	Client *http.Client
}

func (p HTTPProber) Probe(ctx context.Context, endpoint string) error {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	url := strings.TrimRight(endpoint, "/") + "/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("GET %s: unexpected status %d", url, resp.StatusCode)
	}
	return nil
}
