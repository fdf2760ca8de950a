// Package controlplane provides the HTTP API and transaction engine for patchward.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/fentz26/patchward/internal/audit"
	"github.com/fentz26/patchward/internal/connectors"
	"github.com/fentz26/patchward/internal/models"
	"github.com/fentz26/patchward/internal/patchaction"
	"github.com/fentz26/patchward/internal/patchtool"
	"github.com/fentz26/patchward/internal/store"
)

const defaultLockTTLSec = 300

// Service drives patch actions through check, fix and undo, and journals
// every transaction together with its undo actions.
type Service struct {
	store     *store.Store
	pdr       *audit.PDRWriter
	connector connectors.Connector
	logger    *log.Logger
	lockTTL   int
}

// NewService creates a new control plane service.
func NewService(s *store.Store, pdr *audit.PDRWriter, conn connectors.Connector, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Service{
		store:     s,
		pdr:       pdr,
		connector: conn,
		logger:    logger,
		lockTTL:   defaultLockTTLSec,
	}
}

// SetLockTTL sets how long a transaction may hold a target file.
func (s *Service) SetLockTTL(sec int) {
	if sec > 0 {
		s.lockTTL = sec
	}
}

// ConnectorName returns the name of the connector actions run through.
func (s *Service) ConnectorName() string {
	return s.connector.Name()
}

// --- Single actions ---

// RunAction runs one phase of the patch action outside any transaction.
func (s *Service) RunAction(ctx context.Context, req patchaction.Request) models.Result {
	action := patchaction.New(patchtool.New(s.connector), s.logger)
	res := action.Run(ctx, req)
	s.pdr.Record("action."+phaseName(req.Phase), req.Args, audit.OutcomeFor(res), "", res.Message)
	return res
}

// --- Transactions ---

// SubmitTransaction persists a pending transaction.
func (s *Service) SubmitTransaction(actions []models.PatchArgs, dryRun bool) (*models.Transaction, error) {
	if len(actions) == 0 {
		return nil, ErrNoActions
	}
	for i, a := range actions {
		if a.File == "" || a.Patch == "" {
			return nil, fmt.Errorf("action %d: %w", i+1, patchaction.ErrMissingArgument)
		}
	}

	tx, err := s.store.CreateTransaction(actions, dryRun)
	if err != nil {
		return nil, err
	}
	s.pdr.Record("tx.create", actions, audit.OutcomeSuccess, tx.ID, "")
	return tx, nil
}

// GetTransaction retrieves a transaction by ID.
func (s *Service) GetTransaction(id string) (*models.Transaction, error) {
	tx, err := s.store.GetTransaction(id)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, ErrNotFound
	}
	return tx, nil
}

// ListTransactions returns transactions, optionally filtered by status.
func (s *Service) ListTransactions(status string) ([]models.Transaction, error) {
	return s.store.ListTransactions(status)
}

// GetTransactionRuns returns the tool runs recorded for a transaction.
func (s *Service) GetTransactionRuns(id string) ([]models.ToolRun, error) {
	if _, err := s.GetTransaction(id); err != nil {
		return nil, err
	}
	return s.store.GetRunsForTransaction(id)
}

// ApplyTransaction starts a pending transaction and runs it to completion.
// A failed action is not an error: the returned transaction reports it.
func (s *Service) ApplyTransaction(ctx context.Context, id, holderID string) (*models.Transaction, error) {
	started, err := s.store.StartTransaction(id, holderID)
	if err != nil {
		return nil, err
	}
	if !started {
		if _, err := s.GetTransaction(id); err != nil {
			return nil, err
		}
		return nil, ErrInvalidState
	}

	tx, err := s.GetTransaction(id)
	if err != nil {
		return nil, err
	}
	return s.ExecuteTransaction(ctx, tx)
}

// ExecuteTransaction runs an already-claimed transaction. Each action is
// checked, then fixed when needed; on the first failure every applied action
// is undone in reverse order.
func (s *Service) ExecuteTransaction(ctx context.Context, tx *models.Transaction) (*models.Transaction, error) {
	action := s.journaledAction(tx.ID)

	var applied []models.TxAction
	var failure error
	for _, a := range tx.Actions {
		undo, err := s.applyAction(ctx, action, tx, a)
		// A fixed file is undone on failure even if its journal update failed.
		if undo != nil {
			a.Undo = undo
			applied = append(applied, a)
		}
		if err != nil {
			failure = fmt.Errorf("action %d (%s): %w", a.Seq, a.Args.File, err)
			break
		}
	}

	if failure == nil {
		if err := s.store.UpdateTransactionStatus(tx.ID, models.TxStatusCommitted, ""); err != nil {
			return nil, err
		}
		s.pdr.Record("tx.apply", tx.ID, audit.OutcomeSuccess, tx.ID, "")
		s.logger.Printf("transaction %s committed (%d actions)", tx.ID, len(tx.Actions))
		return s.GetTransaction(tx.ID)
	}

	s.logger.Printf("transaction %s failed: %v; rolling back %d actions", tx.ID, failure, len(applied))
	msg := failure.Error()
	if err := s.undoActions(ctx, action, tx.ID, applied); err != nil {
		msg += "; rollback incomplete: " + err.Error()
	}
	if err := s.store.UpdateTransactionStatus(tx.ID, models.TxStatusFailed, msg); err != nil {
		return nil, err
	}
	s.pdr.Record("tx.apply", tx.ID, audit.OutcomeFailed, tx.ID, msg)
	return s.GetTransaction(tx.ID)
}

// RollbackTransaction undoes a committed transaction using its journaled
// undo actions, last action first.
func (s *Service) RollbackTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	started, err := s.store.BeginRollback(id)
	if err != nil {
		return nil, err
	}
	if !started {
		if _, err := s.GetTransaction(id); err != nil {
			return nil, err
		}
		return nil, ErrInvalidState
	}

	tx, err := s.GetTransaction(id)
	if err != nil {
		return nil, err
	}

	var applied []models.TxAction
	for _, a := range tx.Actions {
		if a.Status == models.ActionStatusApplied {
			applied = append(applied, a)
		}
	}

	action := s.journaledAction(tx.ID)
	if err := s.undoActions(ctx, action, tx.ID, applied); err != nil {
		msg := "rollback incomplete: " + err.Error()
		if uerr := s.store.UpdateTransactionStatus(tx.ID, models.TxStatusFailed, msg); uerr != nil {
			return nil, uerr
		}
		s.pdr.Record("tx.rollback", tx.ID, audit.OutcomeFailed, tx.ID, msg)
		return s.GetTransaction(tx.ID)
	}

	if err := s.store.UpdateTransactionStatus(tx.ID, models.TxStatusRolledBack, ""); err != nil {
		return nil, err
	}
	s.pdr.Record("tx.rollback", tx.ID, audit.OutcomeSuccess, tx.ID, "")
	s.logger.Printf("transaction %s rolled back", tx.ID)
	return s.GetTransaction(tx.ID)
}

func (s *Service) journaledAction(txID string) *patchaction.Action {
	conn := &recordingConnector{Connector: s.connector, store: s.store, txID: txID, logger: s.logger}
	return patchaction.New(patchtool.New(conn), s.logger)
}

// applyAction returns the undo list when the action changed the file.
func (s *Service) applyAction(ctx context.Context, action *patchaction.Action, tx *models.Transaction, a models.TxAction) ([]models.UndoAction, error) {
	var undo []models.UndoAction
	err := s.withLock(tx.ID, a.Args.File, func() error {
		check := action.Run(ctx, patchaction.Request{Phase: patchaction.PhaseCheckState, Args: a.Args, DryRun: tx.DryRun})
		s.pdr.Record("action.check", a.Args, audit.OutcomeFor(check), tx.ID, check.Message)

		switch check.Status {
		case models.StatusNotModified:
			return s.store.UpdateAction(a.ID, models.ActionStatusUnchanged, check.Message, nil)
		case models.StatusOK:
		default:
			return errors.New(check.Message)
		}

		if tx.DryRun {
			return s.store.UpdateAction(a.ID, models.ActionStatusChecked, check.Message, check.UndoActions())
		}

		fix := action.Run(ctx, patchaction.Request{Phase: patchaction.PhaseFixState, Args: a.Args})
		s.pdr.Record("action.fix", a.Args, audit.OutcomeFor(fix), tx.ID, fix.Message)
		if fix.Status != models.StatusOK {
			return errors.New(fix.Message)
		}

		undo = check.UndoActions()
		return s.store.UpdateAction(a.ID, models.ActionStatusApplied, fix.Message, undo)
	})
	if err != nil {
		s.markFailed(a.ID, err.Error())
	}
	return undo, err
}

// undoActions runs the undo lists of applied actions, newest first. It keeps
// going after a failure so as much as possible is restored.
func (s *Service) undoActions(ctx context.Context, action *patchaction.Action, txID string, applied []models.TxAction) error {
	var failed []string
	for i := len(applied) - 1; i >= 0; i-- {
		a := applied[i]
		if err := s.runUndo(ctx, action, txID, a); err != nil {
			s.logger.Printf("undo action %d of %s: %v", a.Seq, txID, err)
			failed = append(failed, fmt.Sprintf("action %d: %v", a.Seq, err))
			if uerr := s.store.UpdateAction(a.ID, models.ActionStatusFailed, "undo failed: "+err.Error(), nil); uerr != nil {
				s.logger.Printf("update action %s: %v", a.ID, uerr)
			}
			continue
		}
		if err := s.store.UpdateAction(a.ID, models.ActionStatusUndone, "undone", nil); err != nil {
			return err
		}
	}
	if len(failed) > 0 {
		return errors.New(strings.Join(failed, "; "))
	}
	return nil
}

func (s *Service) runUndo(ctx context.Context, action *patchaction.Action, txID string, a models.TxAction) error {
	for i := len(a.Undo) - 1; i >= 0; i-- {
		u := a.Undo[i]
		if u.Name != models.PatchActionName {
			return fmt.Errorf("unknown undo action %q", u.Name)
		}
		err := s.withLock(txID, u.Args.File, func() error {
			check := action.Run(ctx, patchaction.Request{Phase: patchaction.PhaseCheckState, Args: u.Args})
			s.pdr.Record("undo.check", u.Args, audit.OutcomeFor(check), txID, check.Message)
			switch check.Status {
			case models.StatusNotModified:
				return nil
			case models.StatusOK:
			default:
				return errors.New(check.Message)
			}

			fix := action.Run(ctx, patchaction.Request{Phase: patchaction.PhaseFixState, Args: u.Args})
			s.pdr.Record("undo.fix", u.Args, audit.OutcomeFor(fix), txID, fix.Message)
			if fix.Status != models.StatusOK {
				return errors.New(fix.Message)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// withLock serializes work on one target file across transactions.
func (s *Service) withLock(txID, file string, fn func() error) error {
	resource := file
	if abs, err := filepath.Abs(file); err == nil {
		resource = abs
	}

	lock, err := s.store.AcquireLock(resource, txID, s.lockTTL)
	if err != nil {
		if errors.Is(err, store.ErrResourceLocked) {
			if held, gerr := s.store.GetLock(resource); gerr == nil && held != nil {
				return fmt.Errorf("%w: %s (held by %s until %s)", ErrResourceLocked, resource,
					held.HolderID, held.ExpiresAt.Format(time.RFC3339))
			}
			return fmt.Errorf("%w: %s", ErrResourceLocked, resource)
		}
		return err
	}
	defer func() {
		if err := s.store.ReleaseLock(lock.ID); err != nil {
			s.logger.Printf("release lock on %s: %v", resource, err)
		}
	}()
	return fn()
}

func (s *Service) markFailed(actionID, message string) {
	if err := s.store.UpdateAction(actionID, models.ActionStatusFailed, message, nil); err != nil {
		s.logger.Printf("update action %s: %v", actionID, err)
	}
}

func phaseName(p patchaction.Phase) string {
	switch p {
	case patchaction.PhaseCheckState:
		return "check"
	case patchaction.PhaseFixState:
		return "fix"
	default:
		return "unknown"
	}
}
