package main

import (
	"context"
	"fmt"
	"io"

	"github.com/kingrea/arena/internal/pipeline"
	"github.com/kingrea/arena/internal/snapshot"
)

// runValidateSnapshot prints the credentials status as shell assignments so
// the command can itself serve as commands.validator for another project.
func runValidateSnapshot(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("validate-snapshot", stderr)
	common := bindCommon(fs)
	if code := parseFlags(fs, args); code >= 0 {
		return code
	}
	cfg, err := common.load()
	if err != nil {
		fmt.Fprintf(stderr, "arena: %v\n", err)
		return pipeline.ExitFailure
	}
	path := cfg.CredentialsPath()
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	// The built-in validator is used even when commands.validator is set.
	result := snapshot.FileValidator{}.Validate(ctx, path)
	fmt.Fprintf(stdout, "VALIDATION_STATUS='%s'\n", statusToken(result.Status))
	if result.UserID != "" {
		fmt.Fprintf(stdout, "USER_ID='%s'\n", result.UserID)
	}
	if result.Diagnostic != "" {
		fmt.Fprintln(stderr, result.Diagnostic)
	}
	for _, verr := range result.Errors {
		fmt.Fprintf(stderr, "- %v\n", verr)
	}
	return 0
}

func statusToken(s snapshot.Status) string {
	switch s {
	case snapshot.StatusValid:
		return "VALID"
	case snapshot.StatusDisabled:
		return "DISABLED"
	case snapshot.StatusNoConfig:
		return "NO_CONFIG"
	default:
		return "INVALID"
	}
}
