// Package connectors defines the connector interface for patchward.
package connectors

import (
	"context"
	"fmt"
	"strings"
)

// ExecResult holds the result of a command execution.
// A process that ran to completion (or was killed) is described here; Signal
// is set instead of a meaningful ExitCode when the process died from a signal.
type ExecResult struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exit_code"`
	Signal   string   `json:"signal,omitempty"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// Success reports whether the process exited with status 0.
func (r *ExecResult) Success() bool {
	return r.Signal == "" && r.ExitCode == 0
}

// Detail renders the exit status and captured output for diagnostics.
func (r *ExecResult) Detail() string {
	var b strings.Builder
	if r.Signal != "" {
		fmt.Fprintf(&b, "killed by signal %s", r.Signal)
	} else {
		fmt.Fprintf(&b, "exit status %d", r.ExitCode)
	}
	if s := strings.TrimSpace(r.Stderr); s != "" {
		fmt.Fprintf(&b, ": %s", s)
	} else if s := strings.TrimSpace(r.Stdout); s != "" {
		fmt.Fprintf(&b, ": %s", s)
	}
	return b.String()
}

// Connector defines the interface for executing commands.
type Connector interface {
	// Name returns the connector identifier.
	Name() string

	// Execute runs a command and returns the result. A non-nil error means
	// the command could not be started or waited on.
	Execute(ctx context.Context, cmd string, args []string) (*ExecResult, error)

	// IsAllowed checks if a command is allowed to execute.
	IsAllowed(cmd string, args []string) bool
}
