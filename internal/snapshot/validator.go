// Package snapshot decides whether a run may upload a code snapshot and
// performs the upload.
package snapshot

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/kingrea/arena/internal/command"
)

// Validator resolves a credentials file into a Result. Validators never
// fail: every problem becomes StatusInvalid.
type Validator interface {
	Validate(ctx context.Context, path string) Result
}

// FileValidator checks the credentials file in-process.
type FileValidator struct {
	// Getenv resolves the $USER fallback. Defaults to os.Getenv.
	Getenv func(string) string
}

func (v FileValidator) Validate(_ context.Context, path string) Result {
	creds, result, ok := load(path)
	if !ok {
		return result
	}
	if !creds.Enabled {
		result.Status = StatusDisabled
		result.Diagnostic = "snapshot uploads are disabled"
		return result
	}
	getenv := v.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	userID, errs := ValidateCredentials(creds, getenv)
	if len(errs) > 0 {
		result.Status = StatusInvalid
		result.Errors = errs
		result.Diagnostic = joinErrors(errs)
		return result
	}
	result.Status = StatusValid
	result.UserID = userID
	result.Credentials = creds
	return result
}

// CommandValidator delegates to an external validator invoked as
// argv... <path> --type snapshot. It reads VALIDATION_STATUS and USER_ID
// assignments from stdout.
type CommandValidator struct {
	Argv   []string
	Dir    string
	Runner command.Runner
}

func (v CommandValidator) Validate(ctx context.Context, path string) Result {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return noConfig(path)
		}
		return invalid(path, fmt.Errorf("stat credentials: %w", err))
	}
	if len(v.Argv) == 0 {
		return invalid(path, errors.New("validator command is empty"))
	}
	runner := v.Runner
	if runner == nil {
		runner = command.ExecRunner{}
	}
	args := append(append([]string{}, v.Argv[1:]...), path, "--type", "snapshot")
	res, err := runner.Run(ctx, command.Spec{Name: v.Argv[0], Args: args, Dir: v.Dir})
	if err != nil {
		var exitErr *command.ExitError
		if errors.As(err, &exitErr) {
			return Result{Status: StatusInvalid, Path: path, Diagnostic: exitErr.Output, Errors: []error{err}}
		}
		return invalid(path, err)
	}

	vars := parseAssignments(res.Stdout)
	token := vars["VALIDATION_STATUS"]
	status, known := ParseStatus(token)
	if !known {
		return invalid(path, fmt.Errorf("unrecognized validation status %q", token))
	}
	switch status {
	case StatusValid:
		creds, result, ok := load(path)
		if !ok {
			return result
		}
		userID := vars["USER_ID"]
		if userID == "" {
			return invalid(path, errors.New("validator reported VALID without USER_ID"))
		}
		result.Status = StatusValid
		result.UserID = userID
		result.Credentials = creds
		return result
	case StatusDisabled:
		return Result{Status: StatusDisabled, Path: path, Diagnostic: "snapshot uploads are disabled"}
	case StatusNoConfig:
		return noConfig(path)
	default:
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = "validator reported INVALID"
		}
		return invalid(path, errors.New(msg))
	}
}

// load reads and decodes path. ok is false when result is already terminal.
func load(path string) (*Credentials, Result, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, noConfig(path), false
		}
		return nil, invalid(path, fmt.Errorf("read credentials: %w", err)), false
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, invalid(path, fmt.Errorf("parse credentials: %w", err)), false
	}
	return &creds, Result{Path: path}, true
}

func noConfig(path string) Result {
	return Result{
		Status:     StatusNoConfig,
		Path:       path,
		Diagnostic: fmt.Sprintf("no snapshot config at %s; copy the template there to enable uploads", path),
	}
}

func invalid(path string, err error) Result {
	return Result{Status: StatusInvalid, Path: path, Diagnostic: err.Error(), Errors: []error{err}}
}

func joinErrors(errs []error) string {
	parts := make([]string, len(errs))
	for i, err := range errs {
		parts[i] = err.Error()
	}
	return strings.Join(parts, "; ")
}

// parseAssignments reads KEY='value' lines.
func parseAssignments(out string) map[string]string {
	vars := map[string]string{}
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		vars[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), `'"`)
	}
	return vars
}
