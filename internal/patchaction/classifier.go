package patchaction

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"

	"github.com/fentz26/patchward/internal/models"
	"github.com/fentz26/patchward/internal/patchtool"
)

// State is the classification of a target with respect to a patch.
type State int

const (
	// StateUnfixable: no application of the patch can reach the desired state.
	StateUnfixable State = iota
	// StateApplied: the desired state already holds.
	StateApplied
	// StateNeedsFixing: applying the patch reaches the desired state.
	StateNeedsFixing
)

func (s State) String() string {
	switch s {
	case StateApplied:
		return "applied"
	case StateNeedsFixing:
		return "needs_fixing"
	default:
		return "unfixable"
	}
}

// Classification is produced fresh by every check.
type Classification struct {
	State State
	// Unfixable is set when State is StateUnfixable.
	Unfixable *PreconditionError
	// Reverse undoes the fix; set when State is StateNeedsFixing.
	Reverse models.PatchArgs
}

// Classifier decides whether a target needs patching. It never writes.
type Classifier struct {
	tool   *patchtool.Tool
	logger *log.Logger
}

// NewClassifier creates a Classifier.
func NewClassifier(tool *patchtool.Tool, logger *log.Logger) *Classifier {
	return &Classifier{tool: tool, logger: orDiscard(logger)}
}

// Classify checks preconditions, then classifies by dry-running the patch in the
// direction opposite to the requested one: if the inverse applies cleanly,
// the requested change is already in effect.
func (c *Classifier) Classify(ctx context.Context, args models.PatchArgs) (Classification, error) {
	if err := validateArgs(args); err != nil {
		return Classification{}, err
	}
	if pre := checkPreconditions(args); pre != nil {
		return Classification{State: StateUnfixable, Unfixable: pre}, nil
	}

	outcome, result, err := c.tool.DryRun(ctx, args.File, args.Patch, !args.Reverse)
	if err != nil {
		return Classification{}, &AmbiguousStateError{Detail: err.Error()}
	}
	c.logger.Printf("dry run %s with %s (reverse=%t): %s", args.File, args.Patch, !args.Reverse, outcome)

	// Only exit status 1 means "not yet applied". Other failures, including
	// tools that use other codes for partial application, are not guessed at.
	switch outcome {
	case patchtool.OutcomeClean:
		return Classification{State: StateApplied}, nil
	case patchtool.OutcomeRejected:
		return Classification{State: StateNeedsFixing, Reverse: BuildReverse(args)}, nil
	default:
		return Classification{}, &AmbiguousStateError{Detail: result.Detail()}
	}
}

func validateArgs(args models.PatchArgs) error {
	if args.File == "" {
		return fmt.Errorf("%w: file", ErrMissingArgument)
	}
	if args.Patch == "" {
		return fmt.Errorf("%w: patch", ErrMissingArgument)
	}
	return nil
}

// checkPreconditions: the target must be a regular file and not a symlink;
// the patch may be a symlink but must resolve to a regular file.
func checkPreconditions(args models.PatchArgs) *PreconditionError {
	if pre := statPath(args.File); pre != nil {
		return pre
	}
	info, err := os.Lstat(args.File)
	if err != nil {
		return statError(args.File, err)
	}
	if info.Mode()&fs.ModeSymlink != 0 || !info.Mode().IsRegular() {
		return &PreconditionError{Path: args.File, Reason: ReasonNotRegular}
	}

	if pre := statPath(args.Patch); pre != nil {
		return pre
	}
	info, err = os.Stat(args.Patch)
	if err != nil {
		return statError(args.Patch, err)
	}
	if !info.Mode().IsRegular() {
		return &PreconditionError{Path: args.Patch, Reason: ReasonNotRegular}
	}
	return nil
}

// statPath follows symlinks, so a dangling link reports as missing.
func statPath(path string) *PreconditionError {
	if _, err := os.Stat(path); err != nil {
		return statError(path, err)
	}
	return nil
}

func statError(path string, err error) *PreconditionError {
	if errors.Is(err, fs.ErrNotExist) {
		return &PreconditionError{Path: path, Reason: ReasonNotExist}
	}
	return &PreconditionError{Path: path, Reason: fmt.Sprintf("cannot be inspected: %v", err)}
}
