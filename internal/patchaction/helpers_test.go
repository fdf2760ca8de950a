package patchaction

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fentz26/patchward/internal/connectors"
	"github.com/fentz26/patchward/internal/patchtool"
	"github.com/stretchr/testify/require"
)

// fakeConnector answers dry runs and applies without running patch(1).
type fakeConnector struct {
	dryRunExit   int
	dryRunSignal string
	dryRunErr    error

	applyExit    int
	applyStderr  string
	applyContent string
	applyErr     error

	dryRuns [][]string
	applies [][]string
}

func (f *fakeConnector) Name() string { return "fake" }

func (f *fakeConnector) IsAllowed(cmd string, args []string) bool { return cmd == patchtool.Command }

func (f *fakeConnector) Execute(ctx context.Context, cmd string, args []string) (*connectors.ExecResult, error) {
	for _, a := range args {
		if a == "--dry-run" {
			f.dryRuns = append(f.dryRuns, args)
			if f.dryRunErr != nil {
				return nil, f.dryRunErr
			}
			return &connectors.ExecResult{Command: cmd, Args: args, ExitCode: f.dryRunExit, Signal: f.dryRunSignal, Stderr: "dry run stderr"}, nil
		}
	}

	f.applies = append(f.applies, args)
	if f.applyErr != nil {
		return nil, f.applyErr
	}
	if f.applyExit == 0 {
		for _, a := range args {
			if out, ok := strings.CutPrefix(a, "--output="); ok {
				if err := os.WriteFile(out, []byte(f.applyContent), 0o600); err != nil {
					return nil, err
				}
			}
		}
	}
	return &connectors.ExecResult{Command: cmd, Args: args, ExitCode: f.applyExit, Stderr: f.applyStderr}, nil
}

func hasArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

// fixture creates a target file and a patch file in a fresh directory.
func fixture(t *testing.T, content string) (dir, target, patch string) {
	t.Helper()
	dir = t.TempDir()
	target = filepath.Join(dir, "a.txt")
	patch = filepath.Join(dir, "a.diff")
	require.NoError(t, os.WriteFile(target, []byte(content), 0o644))
	require.NoError(t, os.WriteFile(patch, []byte(fooToBar), 0o644))
	return dir, target, patch
}

const fooToBar = "--- a.txt\n+++ a.txt\n@@ -1 +1 @@\n-foo\n+bar\n"

func readString(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// dirNames lists the entries of dir, to catch leftover temporary files.
func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
