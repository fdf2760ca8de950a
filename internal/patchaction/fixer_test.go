package patchaction

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fentz26/patchward/internal/models"
	"github.com/fentz26/patchward/internal/patchtool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixWritesThroughTempFile(t *testing.T) {
	dir, target, patch := fixture(t, "foo\n")
	require.NoError(t, os.Chmod(target, 0o640))

	conn := &fakeConnector{applyContent: "bar\n"}
	f := NewFixer(patchtool.New(conn), nil)

	require.NoError(t, f.Fix(context.Background(), models.PatchArgs{File: target, Patch: patch}))
	assert.Equal(t, "bar\n", readString(t, target))
	assert.ElementsMatch(t, []string{"a.txt", "a.diff"}, dirNames(t, dir))

	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm(), "replacement keeps the target's mode")

	require.Len(t, conn.applies, 1)
	args := conn.applies[0]
	assert.False(t, hasArg(args, "--dry-run"))
	assert.False(t, hasArg(args, "--reverse"))
	assert.Equal(t, target, args[len(args)-1])
}

func TestFixToolFailureLeavesTargetUntouched(t *testing.T) {
	dir, target, patch := fixture(t, "foo\n")
	before, err := os.Stat(target)
	require.NoError(t, err)

	conn := &fakeConnector{applyExit: 2, applyStderr: "patch: **** Only garbage was found in the patch input."}
	err = NewFixer(patchtool.New(conn), nil).Fix(context.Background(), models.PatchArgs{File: target, Patch: patch})

	var exe *ExecutionError
	require.ErrorAs(t, err, &exe)
	assert.Contains(t, err.Error(), "exit status 2")
	assert.Contains(t, err.Error(), "Only garbage")
	assert.Equal(t, models.StatusInternalError, StatusFor(err))

	assert.Equal(t, "foo\n", readString(t, target))
	after, err := os.Stat(target)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
	assert.ElementsMatch(t, []string{"a.txt", "a.diff"}, dirNames(t, dir), "no temporary file left behind")
}

func TestFixSpawnFailureCleansUp(t *testing.T) {
	dir, target, patch := fixture(t, "foo\n")

	conn := &fakeConnector{applyErr: errors.New("exec: \"patch\": executable file not found")}
	err := NewFixer(patchtool.New(conn), nil).Fix(context.Background(), models.PatchArgs{File: target, Patch: patch})

	var exe *ExecutionError
	require.ErrorAs(t, err, &exe)
	assert.Contains(t, err.Error(), "executable file not found")
	assert.ElementsMatch(t, []string{"a.txt", "a.diff"}, dirNames(t, dir))
}

func TestFixRenameFailure(t *testing.T) {
	dir, target, patch := fixture(t, "foo\n")

	f := NewFixer(patchtool.New(&fakeConnector{applyContent: "bar\n"}), nil)
	var renamedFrom string
	f.rename = func(oldpath, newpath string) error {
		renamedFrom = oldpath
		return errors.New("invalid cross-device link")
	}

	err := f.Fix(context.Background(), models.PatchArgs{File: target, Patch: patch})
	var ren *RenameError
	require.ErrorAs(t, err, &ren)
	assert.Equal(t, renamedFrom, ren.Src)
	assert.Equal(t, target, ren.Dst)
	assert.Equal(t, filepath.Dir(target), filepath.Dir(ren.Src), "temp file is co-located with the target")
	assert.Contains(t, err.Error(), target)

	assert.Equal(t, "foo\n", readString(t, target))
	assert.ElementsMatch(t, []string{"a.txt", "a.diff"}, dirNames(t, dir))
}

func TestFixRejectsUnfixableInput(t *testing.T) {
	dir, _, patch := fixture(t, "foo\n")

	conn := &fakeConnector{}
	err := NewFixer(patchtool.New(conn), nil).Fix(context.Background(), models.PatchArgs{File: filepath.Join(dir, "missing"), Patch: patch})

	var pre *PreconditionError
	require.ErrorAs(t, err, &pre)
	assert.Equal(t, ReasonNotExist, pre.Reason)
	assert.Empty(t, conn.applies)
	assert.Equal(t, models.StatusPreconditionFailed, StatusFor(err))
}

func TestFixCancelledContext(t *testing.T) {
	dir, target, patch := fixture(t, "foo\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A killed subprocess surfaces as a signalled, unsuccessful run.
	conn := &fakeConnector{applyExit: -1, applyStderr: ""}
	err := NewFixer(patchtool.New(conn), nil).Fix(ctx, models.PatchArgs{File: target, Patch: patch})
	require.Error(t, err)
	assert.Equal(t, "foo\n", readString(t, target))
	assert.ElementsMatch(t, []string{"a.txt", "a.diff"}, dirNames(t, dir))
}
