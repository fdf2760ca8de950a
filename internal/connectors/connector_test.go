package connectors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecResultDetail(t *testing.T) {
	tests := []struct {
		name   string
		result ExecResult
		want   string
	}{
		{"exit with stderr", ExecResult{ExitCode: 2, Stderr: "patch: **** malformed patch\n"}, "exit status 2: patch: **** malformed patch"},
		{"exit with stdout only", ExecResult{ExitCode: 1, Stdout: "1 out of 1 hunk FAILED\n"}, "exit status 1: 1 out of 1 hunk FAILED"},
		{"signal", ExecResult{ExitCode: -1, Signal: "killed"}, "killed by signal killed"},
		{"clean", ExecResult{}, "exit status 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.result.Detail())
		})
	}
}

func TestExecResultSuccess(t *testing.T) {
	assert.True(t, (&ExecResult{}).Success())
	assert.False(t, (&ExecResult{ExitCode: 1}).Success())
	assert.False(t, (&ExecResult{Signal: "terminated"}).Success())
}
