// Package patchtool drives an external patch(1) executable through a connector.
//
// The tool is used as an oracle: a dry run answers "does this patch apply
// cleanly?" with a three-way outcome, and an apply writes the fully patched
// result to a separate output file so the target is never edited in place.
// The executable must support GNU patch's --dry-run, --output, --input,
// --reverse, --fuzz, --batch, --force, --no-backup-if-mismatch and "-r -".
package patchtool

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fentz26/patchward/internal/connectors"
)

// Command is the allowlisted command name the connector resolves to a binary.
const Command = "patch"

// Outcome is the three-way result of a dry run.
type Outcome int

const (
	// OutcomeClean means the patch applies cleanly (exit status 0).
	OutcomeClean Outcome = iota
	// OutcomeRejected means at least one hunk does not apply (exit status 1).
	OutcomeRejected
	// OutcomeError is anything else: exit > 1, a signal, or a spawn failure.
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeClean:
		return "clean"
	case OutcomeRejected:
		return "rejected"
	default:
		return "error"
	}
}

// Tool invokes patch(1).
type Tool struct {
	conn connectors.Connector
}

// New creates a Tool that runs patch through conn.
func New(conn connectors.Connector) *Tool {
	return &Tool{conn: conn}
}

// commonArgs: never prompt, never guess on fuzzy context, never leave
// backups or .rej files next to the target.
func commonArgs(reverse bool) []string {
	args := []string{"--force", "--batch", "--fuzz=0", "--no-backup-if-mismatch", "-r", "-"}
	if reverse {
		args = append(args, "--reverse")
	}
	return args
}

// DryRunArgs returns the argument vector for a dry run of patch against target.
func DryRunArgs(target, patch string, reverse bool) []string {
	args := commonArgs(reverse)
	args = append(args, "--dry-run", "--input="+patch, positional(target))
	return args
}

// ApplyArgs returns the argument vector that applies patch to target,
// writing the result to output instead of modifying target.
func ApplyArgs(target, patch, output string, reverse bool) []string {
	args := commonArgs(reverse)
	args = append(args, "--output="+output, "--input="+patch, positional(target))
	return args
}

// positional keeps a relative path that starts with '-' from being parsed as a flag.
func positional(path string) string {
	if strings.HasPrefix(path, "-") {
		return "." + string(filepath.Separator) + path
	}
	return path
}

// DryRun runs patch without writing. The returned result is nil only on spawn failure,
// in which case err is non-nil and the outcome is OutcomeError.
func (t *Tool) DryRun(ctx context.Context, target, patch string, reverse bool) (Outcome, *connectors.ExecResult, error) {
	result, err := t.conn.Execute(ctx, Command, DryRunArgs(target, patch, reverse))
	if err != nil {
		return OutcomeError, nil, err
	}
	switch {
	case result.Signal != "":
		return OutcomeError, result, nil
	case result.ExitCode == 0:
		return OutcomeClean, result, nil
	case result.ExitCode == 1:
		return OutcomeRejected, result, nil
	default:
		return OutcomeError, result, nil
	}
}

// Apply writes the patched content of target to output.
func (t *Tool) Apply(ctx context.Context, target, patch, output string, reverse bool) error {
	result, err := t.conn.Execute(ctx, Command, ApplyArgs(target, patch, output, reverse))
	if err != nil {
		return fmt.Errorf("run %s: %w", Command, err)
	}
	if !result.Success() {
		return &FailedError{Result: result}
	}
	return nil
}

// FailedError reports a patch run that completed unsuccessfully.
type FailedError struct {
	Result *connectors.ExecResult
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("%s failed: %s", Command, e.Result.Detail())
}
