package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kingrea/arena/internal/pipeline"
	"github.com/kingrea/arena/internal/snapshot"
	"github.com/kingrea/arena/internal/tournament"
)

// runUpload sends a stage snapshot (init or final) or re-sends the snapshot
// for an earlier tournament run.
func runUpload(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("upload", stderr)
	common := bindCommon(fs)
	stage := fs.String("stage", "", "init, final, or a tournament run id")
	if code := parseFlags(fs, args); code >= 0 {
		return code
	}
	identifier := strings.TrimSpace(*stage)
	if identifier == "" {
		fmt.Fprintln(stderr, "Usage: arena upload --stage init|final|<run-id>")
		return 2
	}
	cfg, err := common.load()
	if err != nil {
		fmt.Fprintf(stderr, "arena: %v\n", err)
		return pipeline.ExitFailure
	}
	a, err := newApp(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "arena: %v\n", err)
		return pipeline.ExitFailure
	}

	result := a.validator().Validate(ctx, cfg.CredentialsPath())
	if !result.ShouldUpload() {
		fmt.Fprintf(stderr, "arena: snapshot credentials are %s", result.Status)
		if result.Diagnostic != "" {
			fmt.Fprintf(stderr, ": %s", result.Diagnostic)
		}
		fmt.Fprintln(stderr)
		return pipeline.ExitFailure
	}
	req := snapshot.Request{Validation: result, Identifier: identifier}
	if tournament.IsTournamentID(identifier) {
		req.ResultsPath = tournament.ResultsPath(cfg.TournamentsDir(), identifier)
	}
	receipt, err := a.uploader().Upload(ctx, req)
	if err != nil {
		a.book.Error("upload %s failed: %v", identifier, err)
		fmt.Fprintf(stderr, "arena: upload failed: %v\n", err)
		if hint := snapshot.Guidance(err); hint != "" {
			fmt.Fprintln(stderr, hint)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return pipeline.ExitTimeout
		}
		return pipeline.ExitFailure
	}
	a.book.Info("uploaded %s snapshot (%d bytes, hash %s)", receipt.Identifier, receipt.TarballBytes, receipt.CodeHash)
	fmt.Fprintf(stdout, "Uploaded %s snapshot for %s\n", receipt.Identifier, result.UserID)
	if receipt.Slot > 0 {
		fmt.Fprintf(stdout, "  slot:   %d\n", receipt.Slot)
	}
	fmt.Fprintf(stdout, "  bytes:  %d\n  hash:   %s\n", receipt.TarballBytes, receipt.CodeHash)
	return 0
}
