// Package command runs the external processes arena delegates to.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Spec describes one process invocation.
type Spec struct {
	Name string
	Args []string
	Dir  string
	// Env is appended to the parent environment for this child only.
	Env []string
	// Stdout and Stderr receive a live copy of the child's output when set.
	Stdout io.Writer
	Stderr io.Writer
}

// String renders the command line for logs.
func (s Spec) String() string {
	return strings.TrimSpace(s.Name + " " + strings.Join(s.Args, " "))
}

// Result captures the output of a finished process.
type Result struct {
	Stdout string
	Stderr string
}

// Runner starts a process and waits for it.
type Runner interface {
	Run(ctx context.Context, spec Spec) (Result, error)
}

// ExitError reports a process that ran and exited non-zero.
type ExitError struct {
	Command string
	Code    int
	Output  string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Command, e.Code)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

// ExitCode extracts the child's exit status from err.
func ExitCode(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}

// ExecRunner runs processes with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, spec Spec) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.Stdout = tee(&stdout, spec.Stdout)
	cmd.Stderr = tee(&stderr, spec.Stderr)
	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("%s: %w", spec.String(), ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		output := strings.TrimSpace(res.Stderr)
		if output == "" {
			output = strings.TrimSpace(res.Stdout)
		}
		return res, &ExitError{Command: spec.String(), Code: exitErr.ExitCode(), Output: output}
	}
	return res, fmt.Errorf("%s failed: %w", spec.String(), err)
}

func tee(buf *bytes.Buffer, extra io.Writer) io.Writer {
	if extra == nil {
		return buf
	}
	return io.MultiWriter(buf, extra)
}
