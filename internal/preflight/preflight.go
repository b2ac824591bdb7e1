// Package preflight verifies the tools and files a run depends on before
// anything stateful happens.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/docker/docker/client"
	"golang.org/x/sync/errgroup"
)

const defaultCheckTimeout = 10 * time.Second

// Check is one independent precondition. Advisory checks are reported but
// never fail the run.
type Check struct {
	Name     string
	Advisory bool
	Run      func(ctx context.Context) (string, error)
}

// Result is the outcome of one check.
type Result struct {
	Name     string
	Advisory bool
	Detail   string
	Err      error
}

// Passed reports whether the check succeeded.
func (r Result) Passed() bool { return r.Err == nil }

// Report collects every result in declaration order.
type Report struct {
	Results []Result
}

// OK is false iff a fatal check failed.
func (r Report) OK() bool {
	for _, res := range r.Results {
		if res.Err != nil && !res.Advisory {
			return false
		}
	}
	return true
}

// Failures returns the failed fatal checks.
func (r Report) Failures() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Err != nil && !res.Advisory {
			out = append(out, res)
		}
	}
	return out
}

// Checker runs a fixed battery of checks.
type Checker struct {
	checks  []Check
	timeout time.Duration
}

// NewChecker prepares a checker for checks.
func NewChecker(checks ...Check) *Checker {
	return &Checker{checks: checks, timeout: defaultCheckTimeout}
}

// Run executes every check concurrently and waits for all of them.
func (c *Checker) Run(ctx context.Context) Report {
	results := make([]Result, len(c.checks))
	var g errgroup.Group
	for i, check := range c.checks {
		i, check := i, check
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			detail, err := check.Run(cctx)
			results[i] = Result{Name: check.Name, Advisory: check.Advisory, Detail: detail, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return Report{Results: results}
}

// Pinger reaches the container daemon.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DockerPinger pings the Docker Engine API using the standard DOCKER_*
// environment.
type DockerPinger struct{}

func (DockerPinger) Ping(ctx context.Context) error {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return err
	}
	defer cli.Close()
	_, err = cli.Ping(ctx)
	return err
}

// Options names the artifacts the standard battery inspects.
type Options struct {
	Interpreter     string
	RulesCLI        string
	DockerBinary    string
	RosterPath      string
	EntryPoint      string
	CredentialsPath string
	Pinger          Pinger
	LookPath        func(string) (string, error)
}

// Standard returns the default battery in reporting order.
func Standard(opts Options) []Check {
	lookPath := opts.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	pinger := opts.Pinger
	if pinger == nil {
		pinger = DockerPinger{}
	}
	docker := opts.DockerBinary
	if docker == "" {
		docker = "docker"
	}
	return []Check{
		{Name: "tournament interpreter", Run: onPath(lookPath, opts.Interpreter)},
		{Name: "rules engine", Run: executable(opts.RulesCLI, "build it with: cd rules && go build -o battlesnake ./cli/battlesnake")},
		{Name: "container runtime", Run: onPath(lookPath, docker)},
		{Name: "container daemon", Run: func(ctx context.Context) (string, error) {
			if err := pinger.Ping(ctx); err != nil {
				return "", fmt.Errorf("docker daemon is not reachable: %w", err)
			}
			return "reachable", nil
		}},
		{Name: "roster", Run: exists(opts.RosterPath, "")},
		{Name: "agent entry point", Run: exists(opts.EntryPoint, "")},
		{Name: "snapshot credentials", Advisory: true, Run: exists(opts.CredentialsPath, "uploads are skipped without it")},
	}
}

func onPath(lookPath func(string) (string, error), name string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		if name == "" {
			return "", errors.New("no command configured")
		}
		path, err := lookPath(name)
		if err != nil {
			return "", fmt.Errorf("%s not found on PATH", name)
		}
		return path, nil
	}
}

func executable(path, hint string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		info, err := os.Stat(path)
		if err != nil {
			return "", withHint(fmt.Errorf("%s not found", path), hint)
		}
		if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
			return "", withHint(fmt.Errorf("%s is not executable", path), hint)
		}
		return path, nil
	}
}

func exists(path, hint string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		if path == "" {
			return "", errors.New("no path configured")
		}
		if _, err := os.Stat(path); err != nil {
			return "", withHint(fmt.Errorf("%s not found", path), hint)
		}
		return path, nil
	}
}

func withHint(err error, hint string) error {
	if hint == "" {
		return err
	}
	return fmt.Errorf("%w (%s)", err, hint)
}
