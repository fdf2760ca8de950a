package controlplane

import (
	"context"
	"log"

	"github.com/fentz26/patchward/internal/connectors"
	"github.com/fentz26/patchward/internal/store"
)

// recordingConnector journals every tool invocation of one transaction.
type recordingConnector struct {
	connectors.Connector
	store  *store.Store
	txID   string
	logger *log.Logger
}

func (r *recordingConnector) Execute(ctx context.Context, cmd string, args []string) (*connectors.ExecResult, error) {
	run, err := r.store.CreateRun(r.txID, cmd, args)
	if err != nil {
		r.logger.Printf("record run for %s: %v", r.txID, err)
	}

	result, execErr := r.Connector.Execute(ctx, cmd, args)

	if run != nil {
		exitCode, stdout, stderr := -1, "", ""
		if execErr != nil {
			stderr = execErr.Error()
		} else {
			exitCode, stdout, stderr = result.ExitCode, result.Stdout, result.Stderr
		}
		if err := r.store.UpdateRun(run.ID, exitCode, stdout, stderr); err != nil {
			r.logger.Printf("update run %s: %v", run.ID, err)
		}
	}
	return result, execErr
}
