// Package store provides SQLite-backed persistence for patchward.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fentz26/patchward/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrResourceLocked indicates the resource is already locked by another holder.
var ErrResourceLocked = errors.New("resource already locked")

// Store provides access to the patchward SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer at a time
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'pending',
		dry_run INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		claimed_by TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tx_actions (
		id TEXT PRIMARY KEY,
		tx_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		file TEXT NOT NULL,
		patch TEXT NOT NULL,
		reverse INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		message TEXT,
		undo TEXT,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (tx_id) REFERENCES transactions(id)
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		tx_id TEXT NOT NULL,
		command TEXT NOT NULL,
		args TEXT,
		exit_code INTEGER,
		stdout TEXT,
		stderr TEXT,
		started_at DATETIME NOT NULL,
		ended_at DATETIME,
		FOREIGN KEY (tx_id) REFERENCES transactions(id)
	);

	CREATE TABLE IF NOT EXISTS pdr (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		tx_id TEXT,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS locks (
		id TEXT PRIMARY KEY,
		resource_id TEXT NOT NULL UNIQUE,
		holder_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);
	CREATE INDEX IF NOT EXISTS idx_tx_actions_tx_id ON tx_actions(tx_id);
	CREATE INDEX IF NOT EXISTS idx_runs_tx_id ON runs(tx_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Transaction Operations ---

// CreateTransaction inserts a pending transaction and its actions atomically.
func (s *Store) CreateTransaction(actions []models.PatchArgs, dryRun bool) (*models.Transaction, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	t := &models.Transaction{
		ID:        uuid.New().String(),
		Status:    models.TxStatusPending,
		DryRun:    dryRun,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = tx.Exec(
		`INSERT INTO transactions (id, status, dry_run, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.Status, dryRun, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	for i, args := range actions {
		a := models.TxAction{
			ID:        uuid.New().String(),
			TxID:      t.ID,
			Seq:       i + 1,
			Args:      args,
			Status:    models.ActionStatusPending,
			UpdatedAt: now,
		}
		_, err = tx.Exec(
			`INSERT INTO tx_actions (id, tx_id, seq, file, patch, reverse, status, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.TxID, a.Seq, args.File, args.Patch, args.Reverse, a.Status, a.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("insert action: %w", err)
		}
		t.Actions = append(t.Actions, a)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return t, nil
}

const txColumns = `id, status, dry_run, error, claimed_by, created_at, updated_at`

func scanTransaction(row interface{ Scan(...interface{}) error }) (*models.Transaction, error) {
	var t models.Transaction
	var txErr, claimedBy sql.NullString
	if err := row.Scan(&t.ID, &t.Status, &t.DryRun, &txErr, &claimedBy, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if txErr.Valid {
		t.Error = txErr.String
	}
	if claimedBy.Valid {
		t.ClaimedBy = claimedBy.String
	}
	return &t, nil
}

// GetTransaction retrieves a transaction and its actions by ID.
func (s *Store) GetTransaction(id string) (*models.Transaction, error) {
	t, err := scanTransaction(s.db.QueryRow(`SELECT `+txColumns+` FROM transactions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query transaction: %w", err)
	}

	actions, err := s.getActions(id)
	if err != nil {
		return nil, err
	}
	t.Actions = actions
	return t, nil
}

// ListTransactions returns all transactions, optionally filtered by status.
// Actions are not loaded.
func (s *Store) ListTransactions(status string) ([]models.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions`
	var args []interface{}

	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}

// UpdateTransactionStatus sets the status and error message of a transaction.
func (s *Store) UpdateTransactionStatus(id string, status models.TxStatus, errMsg string) error {
	_, err := s.db.Exec(
		`UPDATE transactions SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, nullString(errMsg), time.Now().UTC(), id,
	)
	return err
}

// ClaimPendingTransaction atomically moves the oldest pending transaction to
// running on behalf of holderID. It returns nil when nothing is pending.
func (s *Store) ClaimPendingTransaction(holderID string) (*models.Transaction, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRow(
		`SELECT id FROM transactions WHERE status = ? ORDER BY created_at ASC LIMIT 1`,
		models.TxStatusPending,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query pending transaction: %w", err)
	}

	now := time.Now().UTC()
	result, err := tx.Exec(
		`UPDATE transactions SET status = ?, claimed_by = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.TxStatusRunning, holderID, now, id, models.TxStatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("update transaction status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Claimed by another worker between select and update
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return s.GetTransaction(id)
}

// StartTransaction moves a pending transaction to running. It reports false
// when the transaction was not pending.
func (s *Store) StartTransaction(id, holderID string) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE transactions SET status = ?, claimed_by = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.TxStatusRunning, holderID, time.Now().UTC(), id, models.TxStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("start transaction: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return n == 1, nil
}

// BeginRollback moves a committed transaction back to running so that only
// one caller undoes it. It reports false when the transaction was not committed.
func (s *Store) BeginRollback(id string) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE transactions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.TxStatusRunning, time.Now().UTC(), id, models.TxStatusCommitted,
	)
	if err != nil {
		return false, fmt.Errorf("begin rollback: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return n == 1, nil
}

// --- Action Operations ---

func (s *Store) getActions(txID string) ([]models.TxAction, error) {
	rows, err := s.db.Query(
		`SELECT id, tx_id, seq, file, patch, reverse, status, message, undo, updated_at FROM tx_actions WHERE tx_id = ? ORDER BY seq ASC`,
		txID,
	)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var actions []models.TxAction
	for rows.Next() {
		var a models.TxAction
		var message, undo sql.NullString
		if err := rows.Scan(&a.ID, &a.TxID, &a.Seq, &a.Args.File, &a.Args.Patch, &a.Args.Reverse, &a.Status, &message, &undo, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		if message.Valid {
			a.Message = message.String
		}
		if undo.Valid && undo.String != "" {
			if err := json.Unmarshal([]byte(undo.String), &a.Undo); err != nil {
				return nil, fmt.Errorf("decode undo for action %s: %w", a.ID, err)
			}
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// UpdateAction records the outcome of an action and, when given, its undo list.
// A nil undo leaves the stored list unchanged.
func (s *Store) UpdateAction(id string, status models.ActionStatus, message string, undo []models.UndoAction) error {
	now := time.Now().UTC()
	if undo == nil {
		_, err := s.db.Exec(
			`UPDATE tx_actions SET status = ?, message = ?, updated_at = ? WHERE id = ?`,
			status, message, now, id,
		)
		return err
	}

	data, err := json.Marshal(undo)
	if err != nil {
		return fmt.Errorf("encode undo: %w", err)
	}
	_, err = s.db.Exec(
		`UPDATE tx_actions SET status = ?, message = ?, undo = ?, updated_at = ? WHERE id = ?`,
		status, message, string(data), now, id,
	)
	return err
}

// --- Run Operations ---

// CreateRun inserts a new tool run record.
func (s *Store) CreateRun(txID, command string, args []string) (*models.ToolRun, error) {
	now := time.Now().UTC()
	argsJSON, _ := json.Marshal(args)

	run := &models.ToolRun{
		ID:        uuid.New().String(),
		TxID:      txID,
		Command:   command,
		Args:      args,
		StartedAt: now,
	}

	_, err := s.db.Exec(
		`INSERT INTO runs (id, tx_id, command, args, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.TxID, run.Command, string(argsJSON), run.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// UpdateRun updates a run with results.
func (s *Store) UpdateRun(id string, exitCode int, stdout, stderr string) error {
	_, err := s.db.Exec(
		`UPDATE runs SET exit_code = ?, stdout = ?, stderr = ?, ended_at = ? WHERE id = ?`,
		exitCode, stdout, stderr, time.Now().UTC(), id,
	)
	return err
}

// GetRunsForTransaction returns all tool runs for a transaction, oldest first.
func (s *Store) GetRunsForTransaction(txID string) ([]models.ToolRun, error) {
	rows, err := s.db.Query(
		`SELECT id, tx_id, command, args, exit_code, stdout, stderr, started_at, ended_at FROM runs WHERE tx_id = ? ORDER BY started_at ASC`,
		txID,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []models.ToolRun
	for rows.Next() {
		var run models.ToolRun
		var argsJSON sql.NullString
		var endedAt sql.NullTime
		var exitCode sql.NullInt64
		var stdout, stderr sql.NullString

		if err := rows.Scan(&run.ID, &run.TxID, &run.Command, &argsJSON, &exitCode, &stdout, &stderr, &run.StartedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}

		if argsJSON.Valid && argsJSON.String != "" {
			json.Unmarshal([]byte(argsJSON.String), &run.Args)
		}
		if exitCode.Valid {
			run.ExitCode = int(exitCode.Int64)
		}
		if stdout.Valid {
			run.Stdout = stdout.String
		}
		if stderr.Valid {
			run.Stderr = stderr.String
		}
		if endedAt.Valid {
			run.EndedAt = endedAt.Time
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// --- PDR Operations ---

// WritePDR writes a Process Decision Record.
func (s *Store) WritePDR(action, inputsHash, outcome, txID, details string) (*models.PDREntry, error) {
	now := time.Now().UTC()
	pdr := &models.PDREntry{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		TxID:       txID,
		Details:    details,
		Timestamp:  now,
	}

	_, err := s.db.Exec(
		`INSERT INTO pdr (id, action, inputs_hash, outcome, tx_id, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pdr.ID, pdr.Action, pdr.InputsHash, pdr.Outcome, pdr.TxID, pdr.Details, pdr.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert pdr: %w", err)
	}
	return pdr, nil
}

// ListPDR returns decision records for a transaction, oldest first.
func (s *Store) ListPDR(txID string) ([]models.PDREntry, error) {
	rows, err := s.db.Query(
		`SELECT id, action, inputs_hash, outcome, tx_id, details, timestamp FROM pdr WHERE tx_id = ? ORDER BY timestamp ASC`,
		txID,
	)
	if err != nil {
		return nil, fmt.Errorf("query pdr: %w", err)
	}
	defer rows.Close()

	var entries []models.PDREntry
	for rows.Next() {
		var e models.PDREntry
		var tx, details sql.NullString
		if err := rows.Scan(&e.ID, &e.Action, &e.InputsHash, &e.Outcome, &tx, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pdr: %w", err)
		}
		e.TxID = tx.String
		e.Details = details.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Lock Operations ---

// AcquireLock attempts to acquire a lock on a resource atomically.
// It first cleans up expired locks, then attempts to insert a new lock.
// If a lock already exists, it returns ErrResourceLocked.
func (s *Store) AcquireLock(resourceID, holderID string, ttlSec int) (*models.Lock, error) {
	tx, err := s.db.BeginTx(context.Background(), &sql.TxOptions{Isolation: sql.LevelDefault})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	// Step 1: Clean up expired locks for this resource within the transaction
	_, err = tx.Exec(`DELETE FROM locks WHERE resource_id = ? AND expires_at <= ?`, resourceID, now)
	if err != nil {
		return nil, fmt.Errorf("clean expired locks: %w", err)
	}

	// Step 2: Check for existing non-expired lock
	var existingHolder string
	err = tx.QueryRow(
		`SELECT holder_id FROM locks WHERE resource_id = ? AND expires_at > ?`,
		resourceID, now,
	).Scan(&existingHolder)

	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("check existing lock: %w", err)
	}
	if err != sql.ErrNoRows {
		return nil, ErrResourceLocked
	}

	// Step 3: Insert new lock
	lock := &models.Lock{
		ID:         uuid.New().String(),
		ResourceID: resourceID,
		HolderID:   holderID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Duration(ttlSec) * time.Second),
	}

	_, err = tx.Exec(
		`INSERT INTO locks (id, resource_id, holder_id, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		lock.ID, lock.ResourceID, lock.HolderID, lock.CreatedAt, lock.ExpiresAt,
	)
	if err != nil {
		// UNIQUE constraint violation means another holder won the race
		if strings.Contains(strings.ToLower(err.Error()), "unique constraint") {
			return nil, ErrResourceLocked
		}
		return nil, fmt.Errorf("insert lock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return lock, nil
}

// GetLock retrieves a lock by resource ID if it exists and is not expired.
func (s *Store) GetLock(resourceID string) (*models.Lock, error) {
	lock := &models.Lock{}

	err := s.db.QueryRow(
		`SELECT id, resource_id, holder_id, created_at, expires_at FROM locks WHERE resource_id = ? AND expires_at > ?`,
		resourceID, time.Now().UTC(),
	).Scan(&lock.ID, &lock.ResourceID, &lock.HolderID, &lock.CreatedAt, &lock.ExpiresAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query lock: %w", err)
	}
	return lock, nil
}

// ReleaseLock releases a lock.
func (s *Store) ReleaseLock(lockID string) error {
	_, err := s.db.Exec(`DELETE FROM locks WHERE id = ?`, lockID)
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
