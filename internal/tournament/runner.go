// Package tournament invokes the external round-robin tournament process
// and locates the results it writes.
package tournament

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/kingrea/arena/internal/command"
	"github.com/kingrea/arena/internal/roster"
)

// Request is one tournament invocation.
type Request struct {
	Run        Run
	Tournament roster.Tournament
}

// Outcome describes a completed tournament.
type Outcome struct {
	Run         Run
	ResultsPath string
	Duration    time.Duration
}

// Runner execs the tournament command.
type Runner struct {
	// Argv is the command prefix, e.g. python3 -m eval.trueskill_tournament.
	Argv []string
	// Dir is the working directory; results land under ResultsRoot.
	Dir         string
	ResultsRoot string
	// Timeout bounds the process. Zero waits as long as it takes.
	Timeout time.Duration
	Runner  command.Runner
	// Output receives the live tournament output.
	Output io.Writer
	Clock  func() time.Time
}

// Args builds the flags passed after Argv.
func Args(req Request) []string {
	return []string{
		"--snakes", req.Tournament.SnakesArg(),
		"--iterations", strconv.Itoa(req.Tournament.Iterations),
		"--workers", strconv.Itoa(req.Tournament.Workers),
		"--tournament-id", req.Run.ID,
	}
}

// Run blocks until the tournament process exits. A non-zero exit surfaces as
// a *command.ExitError carrying the child's status.
func (r Runner) Run(ctx context.Context, req Request) (Outcome, error) {
	if len(r.Argv) == 0 {
		return Outcome{}, errors.New("tournament: command is empty")
	}
	if req.Run.ID == "" {
		return Outcome{}, errors.New("tournament: run id is required")
	}
	runner := r.Runner
	if runner == nil {
		runner = command.ExecRunner{}
	}
	clock := r.Clock
	if clock == nil {
		clock = time.Now
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	started := clock()
	_, err := runner.Run(ctx, command.Spec{
		Name:   r.Argv[0],
		Args:   append(append([]string{}, r.Argv[1:]...), Args(req)...),
		Dir:    r.Dir,
		Env:    req.Tournament.PortEnv(),
		Stdout: r.Output,
		Stderr: r.Output,
	})
	outcome := Outcome{
		Run:         req.Run,
		ResultsPath: ResultsPath(r.ResultsRoot, req.Run.ID),
		Duration:    clock().Sub(started),
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && r.Timeout > 0 {
			return outcome, fmt.Errorf("tournament: exceeded %s budget: %w", r.Timeout, err)
		}
		return outcome, fmt.Errorf("tournament: %w", err)
	}
	return outcome, nil
}
