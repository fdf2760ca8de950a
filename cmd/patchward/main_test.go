package main

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"unicode/utf8"

	"github.com/fentz26/patchward/internal/config"
	"github.com/fentz26/patchward/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitActionsPairsAbsolutePaths(t *testing.T) {
	actions, err := submitActions([]string{"a.txt", "a.diff", "/abs/b.txt", "/abs/b.diff"}, true)
	require.NoError(t, err)
	require.Len(t, actions, 2)

	wantA, err := filepath.Abs("a.txt")
	require.NoError(t, err)
	assert.Equal(t, wantA, actions[0].File)
	assert.True(t, filepath.IsAbs(actions[0].Patch))
	assert.Equal(t, models.PatchArgs{File: "/abs/b.txt", Patch: "/abs/b.diff", Reverse: true}, actions[1])
}

func TestTxnSubmitRejectsOddArguments(t *testing.T) {
	assert.Error(t, txnSubmitCmd.Args(txnSubmitCmd, []string{"a.txt"}))
	assert.Error(t, txnSubmitCmd.Args(txnSubmitCmd, nil))
	assert.NoError(t, txnSubmitCmd.Args(txnSubmitCmd, []string{"a.txt", "a.diff"}))
}

func TestExitCodeFor(t *testing.T) {
	assert.Equal(t, 0, exitCodeFor(models.StatusOK))
	assert.Equal(t, 0, exitCodeFor(models.StatusNotModified))
	assert.Equal(t, 2, exitCodeFor(models.StatusBadRequest))
	assert.Equal(t, 3, exitCodeFor(models.StatusPreconditionFailed))
	assert.Equal(t, 1, exitCodeFor(models.StatusInternalError))
}

func TestCheckHealthReturnsPayloadOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"ok":false,"db":"sql: database is closed","version":"test","time":"now"}`))
	}))
	defer srv.Close()

	old := apiAddr
	apiAddr = srv.URL
	defer func() { apiAddr = old }()

	health, err := CheckHealth(srv.Client())
	require.Error(t, err)
	require.NotNil(t, health)
	assert.False(t, health.OK)
	assert.Equal(t, "test", health.Version)
}

func TestFormatUndo(t *testing.T) {
	assert.Equal(t, "-", formatUndo(nil))
	assert.Equal(t, "patch reverse", formatUndo([]models.UndoAction{
		{Name: models.PatchActionName, Args: models.PatchArgs{File: "a", Patch: "b", Reverse: true}},
	}))
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))

	got := truncate("ファイルが見つかりませんでした", 8)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "ファイルが...", got)
	assert.Equal(t, "日本語", truncate("日本語", 3))
}

func TestInitConfigWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	got, err := initConfig(path, false)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)

	_, err = initConfig(path, false)
	assert.ErrorContains(t, err, "already exists")

	_, err = initConfig(path, true)
	assert.NoError(t, err)
}
