package patchaction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/fentz26/patchward/internal/models"
	"github.com/fentz26/patchward/internal/patchtool"
)

// Fixer applies a patch by writing the patched content to a temporary file
// next to the target and renaming it over the target.
type Fixer struct {
	tool   *patchtool.Tool
	logger *log.Logger

	// rename is os.Rename outside of tests.
	rename func(oldpath, newpath string) error
}

// NewFixer creates a Fixer.
func NewFixer(tool *patchtool.Tool, logger *log.Logger) *Fixer {
	return &Fixer{tool: tool, logger: orDiscard(logger), rename: os.Rename}
}

// Fix patches args.File in the direction given by args.Reverse. On any error
// the target keeps its previous content and the temporary file is gone.
func (f *Fixer) Fix(ctx context.Context, args models.PatchArgs) error {
	if err := validateArgs(args); err != nil {
		return err
	}
	if pre := checkPreconditions(args); pre != nil {
		return pre
	}

	// Same directory as the target so the rename stays on one filesystem.
	tmp, err := os.CreateTemp(filepath.Dir(args.File), "."+filepath.Base(args.File)+".patchward-*")
	if err != nil {
		return &ExecutionError{Detail: fmt.Sprintf("create temporary file: %v", err), Err: err}
	}
	tmpPath := tmp.Name()

	renamed := false
	defer func() {
		if renamed {
			return
		}
		if err := os.Remove(tmpPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			f.logger.Printf("remove temporary file %s: %v", tmpPath, err)
		}
	}()

	if err := tmp.Close(); err != nil {
		return &ExecutionError{Detail: fmt.Sprintf("close temporary file: %v", err), Err: err}
	}

	if err := f.tool.Apply(ctx, args.File, args.Patch, tmpPath, args.Reverse); err != nil {
		var failed *patchtool.FailedError
		if errors.As(err, &failed) {
			return &ExecutionError{Detail: failed.Result.Detail(), Err: err}
		}
		return &ExecutionError{Detail: err.Error(), Err: err}
	}

	info, err := os.Stat(args.File)
	if err != nil {
		return &ExecutionError{Detail: fmt.Sprintf("stat target: %v", err), Err: err}
	}
	if err := os.Chmod(tmpPath, info.Mode().Perm()); err != nil {
		return &ExecutionError{Detail: fmt.Sprintf("chmod temporary file: %v", err), Err: err}
	}

	if err := f.rename(tmpPath, args.File); err != nil {
		return &RenameError{Src: tmpPath, Dst: args.File, Err: err}
	}
	renamed = true

	f.logger.Printf("patched %s with %s (reverse=%t)", args.File, args.Patch, args.Reverse)
	return nil
}

func orDiscard(logger *log.Logger) *log.Logger {
	if logger == nil {
		return log.New(io.Discard, "", 0)
	}
	return logger
}
