package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/kingrea/arena/internal/command"
)

// Kind classifies a fatal pipeline failure.
type Kind int

const (
	KindPreflight Kind = iota + 1
	KindConfig
	KindTopology
	KindServices
	KindTournament
	KindTimeout
	KindCanceled
)

const (
	ExitFailure  = 1
	ExitTimeout  = 124
	ExitCanceled = 130
)

func (k Kind) String() string {
	switch k {
	case KindPreflight:
		return "preflight failure"
	case KindConfig:
		return "config error"
	case KindTopology:
		return "topology error"
	case KindServices:
		return "services error"
	case KindTournament:
		return "tournament failure"
	case KindTimeout:
		return "timeout"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Error is a fatal failure at a pipeline stage. Code is the process exit
// code the run should end with.
type Error struct {
	Kind  Kind
	Stage Stage
	Code  int
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ExitCode maps err to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var perr *Error
	if errors.As(err, &perr) && perr.Code != 0 {
		return perr.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ExitTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ExitCanceled
	}
	if code, ok := command.ExitCode(err); ok && code != 0 {
		return code
	}
	return ExitFailure
}

// classify wraps err as a stage failure. Cancellation and deadlines win
// over kind; a child's exit status becomes the code.
func classify(stage Stage, kind Kind, err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	e := &Error{Kind: kind, Stage: stage, Code: ExitFailure, Err: err}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		e.Kind, e.Code = KindTimeout, ExitTimeout
	case errors.Is(err, context.Canceled):
		e.Kind, e.Code = KindCanceled, ExitCanceled
	default:
		if code, ok := command.ExitCode(err); ok && code != 0 {
			e.Code = code
		}
	}
	return e
}
