package patchaction

import (
	"errors"
	"fmt"

	"github.com/fentz26/patchward/internal/models"
)

// ErrMissingArgument is returned when file or patch is empty.
var ErrMissingArgument = errors.New("missing required argument")

// ErrUnknownPhase is returned for an action phase outside check-state/fix-state.
var ErrUnknownPhase = errors.New("unknown action phase")

// Precondition failure reasons.
const (
	ReasonNotExist   = "does not exist"
	ReasonNotRegular = "not a regular file"
)

// PreconditionError means the target or patch is in a state no patch can fix.
type PreconditionError struct {
	Path   string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s %s", e.Path, e.Reason)
}

// AmbiguousStateError means the dry run could not tell applied from unapplied.
type AmbiguousStateError struct {
	Detail string
}

func (e *AmbiguousStateError) Error() string {
	return "cannot determine state: " + e.Detail
}

// ExecutionError means the patch tool failed while producing the patched file.
type ExecutionError struct {
	Detail string
	Err    error
}

func (e *ExecutionError) Error() string {
	return "patch failed: " + e.Detail
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// RenameError means the patched temporary file could not replace the target.
type RenameError struct {
	Src string
	Dst string
	Err error
}

func (e *RenameError) Error() string {
	return fmt.Sprintf("rename %s to %s: %v", e.Src, e.Dst, e.Err)
}

func (e *RenameError) Unwrap() error {
	return e.Err
}

// StatusFor maps an error to its envelope status.
func StatusFor(err error) int {
	var (
		pre *PreconditionError
		amb *AmbiguousStateError
		exe *ExecutionError
		ren *RenameError
	)
	switch {
	case err == nil:
		return models.StatusOK
	case errors.Is(err, ErrMissingArgument), errors.Is(err, ErrUnknownPhase):
		return models.StatusBadRequest
	case errors.As(err, &pre):
		return models.StatusPreconditionFailed
	case errors.As(err, &amb), errors.As(err, &exe), errors.As(err, &ren):
		return models.StatusInternalError
	default:
		return models.StatusInternalError
	}
}
