// Package localexec provides a local command executor with an allowlist.
package localexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"

	"github.com/fentz26/patchward/internal/connectors"
)

// allowedCommands defines the strict allowlist of executable commands and
// the flags each may receive. Arguments that are not flags (paths, "-") pass.
var allowedCommands = map[string][]string{
	"patch": {
		"--force",
		"--batch",
		"--fuzz=0",
		"--no-backup-if-mismatch",
		"-r",
		"--dry-run",
		"--reverse",
	},
}

// allowedPrefixes are flags that carry a value after '='.
var allowedPrefixes = map[string][]string{
	"patch": {"--input=", "--output="},
}

// LocalExec implements the Connector interface for local command execution.
type LocalExec struct {
	workDir  string
	binaries map[string]string
}

// Option configures a LocalExec.
type Option func(*LocalExec)

// WithBinary maps an allowlisted command name to the executable that runs it,
// e.g. "patch" -> "/usr/local/bin/gpatch".
func WithBinary(name, path string) Option {
	return func(l *LocalExec) {
		if path != "" {
			l.binaries[name] = path
		}
	}
}

// New creates a new LocalExec connector.
func New(workDir string, opts ...Option) *LocalExec {
	l := &LocalExec{workDir: workDir, binaries: make(map[string]string)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns the connector identifier.
func (l *LocalExec) Name() string {
	return "localexec"
}

// IsAllowed checks if a command and every flag it receives is in the allowlist.
func (l *LocalExec) IsAllowed(cmd string, args []string) bool {
	flags, ok := allowedCommands[cmd]
	if !ok {
		return false
	}

	if len(args) == 0 {
		return false
	}

	for _, arg := range args {
		if arg == "-" || !strings.HasPrefix(arg, "-") {
			continue
		}
		if !contains(flags, arg) && !hasAllowedPrefix(allowedPrefixes[cmd], arg) {
			return false
		}
	}
	return true
}

// Execute runs a command if it's in the allowlist.
func (l *LocalExec) Execute(ctx context.Context, cmd string, args []string) (*connectors.ExecResult, error) {
	if !l.IsAllowed(cmd, args) {
		return nil, fmt.Errorf("command not allowed: %s %s", cmd, strings.Join(args, " "))
	}

	bin := cmd
	if path, ok := l.binaries[cmd]; ok {
		bin = path
	}

	execCmd := exec.CommandContext(ctx, bin, args...)
	if l.workDir != "" {
		execCmd.Dir = l.workDir
	}

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	err := execCmd.Run()

	result := &connectors.ExecResult{
		Command: cmd,
		Args:    args,
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("exec error: %w", err)
		}
		result.ExitCode = exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			result.Signal = ws.Signal().String()
		}
	}
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	return result, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func hasAllowedPrefix(prefixes []string, arg string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(arg, p) && len(arg) > len(p) {
			return true
		}
	}
	return false
}
