// Package patchaction implements the idempotent, reversible patch action.
//
// A check classifies the target without writing; a fix applies the patch
// through a temporary file and an atomic rename. Undo is the same action with
// the reverse flag flipped, and a check that finds work to do returns exactly
// that undo action in its metadata.
package patchaction

import (
	"context"
	"fmt"
	"log"

	"github.com/fentz26/patchward/internal/models"
	"github.com/fentz26/patchward/internal/patchtool"
)

// Phase selects which half of the transaction protocol to run.
type Phase int

const (
	PhaseCheckState Phase = iota + 1
	PhaseFixState
)

func (p Phase) String() string {
	switch p {
	case PhaseCheckState:
		return "check-state"
	case PhaseFixState:
		return "fix-state"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// ParsePhase converts the wire name of a phase.
func ParsePhase(s string) (Phase, error) {
	switch s {
	case "check-state", "check":
		return PhaseCheckState, nil
	case "fix-state", "fix":
		return PhaseFixState, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownPhase, s)
	}
}

// Request is a single invocation of the action.
type Request struct {
	Phase Phase
	Args  models.PatchArgs
	// DryRun only changes what a check logs.
	DryRun bool
}

// Action is the entry point the transaction engine calls.
type Action struct {
	classifier *Classifier
	fixer      *Fixer
	logger     *log.Logger
}

// New creates an Action that drives tool and logs to logger.
func New(tool *patchtool.Tool, logger *log.Logger) *Action {
	logger = orDiscard(logger)
	return &Action{
		classifier: NewClassifier(tool, logger),
		fixer:      NewFixer(tool, logger),
		logger:     logger,
	}
}

// Run executes one phase and reports the outcome as an envelope.
func (a *Action) Run(ctx context.Context, req Request) models.Result {
	if err := validateArgs(req.Args); err != nil {
		return errorResult(err)
	}
	switch req.Phase {
	case PhaseCheckState:
		return a.check(ctx, req)
	case PhaseFixState:
		return a.fix(ctx, req)
	default:
		return errorResult(fmt.Errorf("%w: %s", ErrUnknownPhase, req.Phase))
	}
}

func (a *Action) check(ctx context.Context, req Request) models.Result {
	c, err := a.classifier.Classify(ctx, req.Args)
	if err != nil {
		a.logger.Printf("check %s: %v", req.Args.File, err)
		return errorResult(err)
	}

	switch c.State {
	case StateUnfixable:
		a.logger.Printf("check %s: unfixable: %v", req.Args.File, c.Unfixable)
		return models.Result{
			Status:  models.StatusPreconditionFailed,
			Message: c.Unfixable.Error(),
			Result:  c.State.String(),
		}
	case StateApplied:
		return models.Result{
			Status:  models.StatusNotModified,
			Message: fmt.Sprintf("%s is already patched with %s", req.Args.File, req.Args.Patch),
			Result:  c.State.String(),
		}
	default:
		if req.DryRun {
			a.logger.Printf("would apply %s to %s (reverse=%t)", req.Args.Patch, req.Args.File, req.Args.Reverse)
		}
		return models.Result{
			Status:  models.StatusOK,
			Message: fmt.Sprintf("%s needs patching with %s", req.Args.File, req.Args.Patch),
			Result:  c.State.String(),
			Metadata: map[string]interface{}{
				models.UndoActionsKey: UndoActions(c.Reverse),
			},
		}
	}
}

func (a *Action) fix(ctx context.Context, req Request) models.Result {
	if err := a.fixer.Fix(ctx, req.Args); err != nil {
		a.logger.Printf("fix %s: %v", req.Args.File, err)
		return errorResult(err)
	}
	return models.Result{
		Status:  models.StatusOK,
		Message: fmt.Sprintf("patched %s with %s", req.Args.File, req.Args.Patch),
	}
}

func errorResult(err error) models.Result {
	return models.Result{Status: StatusFor(err), Message: err.Error()}
}
