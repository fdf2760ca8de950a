package patchaction

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/fentz26/patchward/internal/connectors/localexec"
	"github.com/fentz26/patchward/internal/models"
	"github.com/fentz26/patchward/internal/patchtool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRealAction(t *testing.T) *Action {
	t.Helper()
	if _, err := exec.LookPath("patch"); err != nil {
		t.Skip("patch not installed")
	}
	return New(patchtool.New(localexec.New("")), nil)
}

func check(t *testing.T, a *Action, args models.PatchArgs) models.Result {
	t.Helper()
	return a.Run(context.Background(), Request{Phase: PhaseCheckState, Args: args})
}

func fix(t *testing.T, a *Action, args models.PatchArgs) models.Result {
	t.Helper()
	return a.Run(context.Background(), Request{Phase: PhaseFixState, Args: args})
}

func TestScenarioFooToBar(t *testing.T) {
	a := newRealAction(t)
	_, target, patch := fixture(t, "foo\n")
	args := models.PatchArgs{File: target, Patch: patch}

	res := check(t, a, args)
	require.Equal(t, models.StatusOK, res.Status, res.Message)
	assert.Equal(t, []models.UndoAction{{Name: "patch", Args: models.PatchArgs{File: target, Patch: patch, Reverse: true}}}, res.UndoActions())

	res = fix(t, a, args)
	require.Equal(t, models.StatusOK, res.Status, res.Message)
	assert.Equal(t, "bar\n", readString(t, target))

	res = check(t, a, args)
	assert.Equal(t, models.StatusNotModified, res.Status, res.Message)
}

func TestIdempotence(t *testing.T) {
	a := newRealAction(t)
	_, target, patch := fixture(t, "foo\n")
	args := models.PatchArgs{File: target, Patch: patch}

	require.Equal(t, models.StatusOK, check(t, a, args).Status)
	require.Equal(t, models.StatusOK, fix(t, a, args).Status)
	afterFirst := readString(t, target)

	assert.Equal(t, models.StatusNotModified, check(t, a, args).Status)
	assert.Equal(t, afterFirst, readString(t, target))
}

func TestRoundTrip(t *testing.T) {
	a := newRealAction(t)
	original := "foo\nsecond line\nthird line\n"
	dir := t.TempDir()
	target := filepath.Join(dir, "multi.txt")
	patch := filepath.Join(dir, "multi.diff")
	require.NoError(t, os.WriteFile(target, []byte(original), 0o644))
	require.NoError(t, os.WriteFile(patch, []byte(
		"--- multi.txt\n+++ multi.txt\n@@ -1,3 +1,4 @@\n-foo\n+bar\n second line\n third line\n+fourth line\n"), 0o644))

	args := models.PatchArgs{File: target, Patch: patch}
	require.Equal(t, models.StatusOK, check(t, a, args).Status)
	require.Equal(t, models.StatusOK, fix(t, a, args).Status)
	assert.Equal(t, "bar\nsecond line\nthird line\nfourth line\n", readString(t, target))

	undo := BuildReverse(args)
	require.Equal(t, models.StatusOK, check(t, a, undo).Status)
	require.Equal(t, models.StatusOK, fix(t, a, undo).Status)
	assert.Equal(t, original, readString(t, target))
	assert.ElementsMatch(t, []string{"multi.txt", "multi.diff"}, dirNames(t, dir))
}

func TestAtomicityMalformedPatch(t *testing.T) {
	a := newRealAction(t)
	dir, target, patch := fixture(t, "foo\n")
	require.NoError(t, os.WriteFile(patch, []byte("this is not a diff\n@@ garbage @@\n"), 0o644))
	before, err := os.Stat(target)
	require.NoError(t, err)

	res := fix(t, a, models.PatchArgs{File: target, Patch: patch})
	assert.Equal(t, models.StatusInternalError, res.Status, res.Message)

	assert.Equal(t, "foo\n", readString(t, target))
	after, err := os.Stat(target)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
	assert.ElementsMatch(t, []string{"a.txt", "a.diff"}, dirNames(t, dir))
}

func TestConflictingContentIsNotGuessed(t *testing.T) {
	a := newRealAction(t)
	dir, target, patch := fixture(t, "something else entirely\n")

	// Neither the forward nor the reverse patch matches: the dry run says
	// "needs fixing" and the fix fails without touching the file.
	args := models.PatchArgs{File: target, Patch: patch}
	require.Equal(t, models.StatusOK, check(t, a, args).Status)

	res := fix(t, a, args)
	assert.Equal(t, models.StatusInternalError, res.Status)
	assert.Equal(t, "something else entirely\n", readString(t, target))
	assert.ElementsMatch(t, []string{"a.txt", "a.diff"}, dirNames(t, dir))
}

func TestReverseActionCorrectness(t *testing.T) {
	a := newRealAction(t)
	_, target, patch := fixture(t, "foo\n")
	args := models.PatchArgs{File: target, Patch: patch}

	res := check(t, a, args)
	require.Equal(t, models.StatusOK, res.Status)
	undo := res.UndoActions()
	require.Len(t, undo, 1)
	assert.True(t, undo[0].Args.Reverse)
	assert.Equal(t, args.File, undo[0].Args.File)
	assert.Equal(t, args.Patch, undo[0].Args.Patch)

	require.Equal(t, models.StatusOK, fix(t, a, args).Status)
	require.Equal(t, models.StatusOK, fix(t, a, undo[0].Args).Status)
	assert.Equal(t, "foo\n", readString(t, target))

	// The original arguments apply again after the undo.
	assert.Equal(t, models.StatusOK, check(t, a, args).Status)
	require.Equal(t, models.StatusOK, fix(t, a, args).Status)
	assert.Equal(t, "bar\n", readString(t, target))
}

func TestPreconditionsNeverReachTool(t *testing.T) {
	a := newRealAction(t)
	dir, target, patch := fixture(t, "foo\n")
	link := filepath.Join(dir, "link.txt")
	require.NoError(t, os.Symlink(target, link))

	for _, file := range []string{link, dir, filepath.Join(dir, "missing.txt")} {
		res := check(t, a, models.PatchArgs{File: file, Patch: patch})
		assert.Equal(t, models.StatusPreconditionFailed, res.Status, file)
		res = fix(t, a, models.PatchArgs{File: file, Patch: patch})
		assert.Equal(t, models.StatusPreconditionFailed, res.Status, file)
	}
	assert.Equal(t, "foo\n", readString(t, target))
}
