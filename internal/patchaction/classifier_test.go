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

func TestClassifyPreconditions(t *testing.T) {
	dir, target, patch := fixture(t, "foo\n")

	link := filepath.Join(dir, "link.txt")
	require.NoError(t, os.Symlink(target, link))
	dangling := filepath.Join(dir, "dangling.txt")
	require.NoError(t, os.Symlink(filepath.Join(dir, "gone"), dangling))
	subdir := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(subdir, 0o755))

	tests := []struct {
		name     string
		args     models.PatchArgs
		wantPath string
		reason   string
	}{
		{"missing target", models.PatchArgs{File: filepath.Join(dir, "nope"), Patch: patch}, filepath.Join(dir, "nope"), ReasonNotExist},
		{"dangling symlink target", models.PatchArgs{File: dangling, Patch: patch}, dangling, ReasonNotExist},
		{"symlink target", models.PatchArgs{File: link, Patch: patch}, link, ReasonNotRegular},
		{"directory target", models.PatchArgs{File: subdir, Patch: patch}, subdir, ReasonNotRegular},
		{"missing patch", models.PatchArgs{File: target, Patch: filepath.Join(dir, "none.diff")}, filepath.Join(dir, "none.diff"), ReasonNotExist},
		{"directory patch", models.PatchArgs{File: target, Patch: subdir}, subdir, ReasonNotRegular},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &fakeConnector{}
			c := NewClassifier(patchtool.New(conn), nil)

			got, err := c.Classify(context.Background(), tt.args)
			require.NoError(t, err)
			assert.Equal(t, StateUnfixable, got.State)
			require.NotNil(t, got.Unfixable)
			assert.Equal(t, tt.wantPath, got.Unfixable.Path)
			assert.Equal(t, tt.reason, got.Unfixable.Reason)
			assert.Empty(t, conn.dryRuns, "tool must not run for unfixable input")
			assert.Empty(t, conn.applies)
		})
	}
}

func TestClassifyAcceptsSymlinkedPatch(t *testing.T) {
	dir, target, patch := fixture(t, "foo\n")
	link := filepath.Join(dir, "link.diff")
	require.NoError(t, os.Symlink(patch, link))

	conn := &fakeConnector{dryRunExit: 1}
	got, err := NewClassifier(patchtool.New(conn), nil).Classify(context.Background(), models.PatchArgs{File: target, Patch: link})
	require.NoError(t, err)
	assert.Equal(t, StateNeedsFixing, got.State)
	assert.Len(t, conn.dryRuns, 1)
}

func TestClassifyDryRun(t *testing.T) {
	_, target, patch := fixture(t, "foo\n")

	t.Run("exit 0 means already applied", func(t *testing.T) {
		conn := &fakeConnector{dryRunExit: 0}
		got, err := NewClassifier(patchtool.New(conn), nil).Classify(context.Background(), models.PatchArgs{File: target, Patch: patch})
		require.NoError(t, err)
		assert.Equal(t, StateApplied, got.State)
	})

	t.Run("exit 1 means needs fixing", func(t *testing.T) {
		conn := &fakeConnector{dryRunExit: 1}
		args := models.PatchArgs{File: target, Patch: patch}
		got, err := NewClassifier(patchtool.New(conn), nil).Classify(context.Background(), args)
		require.NoError(t, err)
		assert.Equal(t, StateNeedsFixing, got.State)
		assert.Equal(t, models.PatchArgs{File: target, Patch: patch, Reverse: true}, got.Reverse)
	})

	for _, tc := range []struct {
		name string
		conn *fakeConnector
	}{
		{"exit 2", &fakeConnector{dryRunExit: 2}},
		{"signal", &fakeConnector{dryRunExit: -1, dryRunSignal: "killed"}},
		{"spawn failure", &fakeConnector{dryRunErr: errors.New("exec: \"patch\": executable file not found")}},
	} {
		t.Run(tc.name+" is ambiguous", func(t *testing.T) {
			_, err := NewClassifier(patchtool.New(tc.conn), nil).Classify(context.Background(), models.PatchArgs{File: target, Patch: patch})
			var amb *AmbiguousStateError
			require.ErrorAs(t, err, &amb)
			assert.Contains(t, err.Error(), "cannot determine state")
			assert.Equal(t, models.StatusInternalError, StatusFor(err))
		})
	}
}

func TestClassifyChecksOppositeDirection(t *testing.T) {
	_, target, patch := fixture(t, "foo\n")

	forward := &fakeConnector{dryRunExit: 1}
	_, err := NewClassifier(patchtool.New(forward), nil).Classify(context.Background(), models.PatchArgs{File: target, Patch: patch})
	require.NoError(t, err)
	require.Len(t, forward.dryRuns, 1)
	assert.True(t, hasArg(forward.dryRuns[0], "--reverse"), "forward request dry-runs the reverse patch")

	reverse := &fakeConnector{dryRunExit: 1}
	got, err := NewClassifier(patchtool.New(reverse), nil).Classify(context.Background(), models.PatchArgs{File: target, Patch: patch, Reverse: true})
	require.NoError(t, err)
	require.Len(t, reverse.dryRuns, 1)
	assert.False(t, hasArg(reverse.dryRuns[0], "--reverse"), "reverse request dry-runs the forward patch")
	assert.False(t, got.Reverse.Reverse)
}

func TestClassifyMissingArgument(t *testing.T) {
	c := NewClassifier(patchtool.New(&fakeConnector{}), nil)

	_, err := c.Classify(context.Background(), models.PatchArgs{Patch: "x.diff"})
	require.ErrorIs(t, err, ErrMissingArgument)

	_, err = c.Classify(context.Background(), models.PatchArgs{File: "x.txt"})
	require.ErrorIs(t, err, ErrMissingArgument)
}
