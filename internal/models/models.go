// Package models defines the core domain types for patchward.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status codes carried in a Result envelope. They follow HTTP semantics.
const (
	StatusOK                 = 200
	StatusNotModified        = 304
	StatusBadRequest         = 400
	StatusPreconditionFailed = 412
	StatusInternalError      = 500
)

// UndoActionsKey is the metadata key under which a check result carries its undo list.
const UndoActionsKey = "undo_actions"

// PatchActionName names the patch action inside an undo tuple.
const PatchActionName = "patch"

// PatchArgs are the inputs of the patch action.
type PatchArgs struct {
	File    string `json:"file"`
	Patch   string `json:"patch"`
	Reverse bool   `json:"reverse"`
}

// UndoAction is a (name, args) tuple handed to the transaction engine.
// It encodes as a two-element JSON array: ["patch", {"file":..,"patch":..,"reverse":..}].
type UndoAction struct {
	Name string
	Args PatchArgs
}

// MarshalJSON encodes the action as a tuple.
func (u UndoAction) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{u.Name, u.Args})
}

// UnmarshalJSON decodes the tuple form.
func (u *UndoAction) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("undo action: want 2 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &u.Name); err != nil {
		return fmt.Errorf("undo action name: %w", err)
	}
	if err := json.Unmarshal(raw[1], &u.Args); err != nil {
		return fmt.Errorf("undo action args: %w", err)
	}
	return nil
}

// Result is the envelope every action phase returns.
type Result struct {
	Status   int                    `json:"status"`
	Message  string                 `json:"message"`
	Result   interface{}            `json:"result,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// OK reports whether the status is a success (including the 304 no-op).
func (r Result) OK() bool {
	return r.Status == StatusOK || r.Status == StatusNotModified
}

// UndoActions extracts the undo list from the metadata, if present.
func (r Result) UndoActions() []UndoAction {
	if r.Metadata == nil {
		return nil
	}
	switch v := r.Metadata[UndoActionsKey].(type) {
	case []UndoAction:
		return v
	case nil:
		return nil
	default:
		// Envelopes decoded from JSON hold generic values; round-trip them.
		data, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		var out []UndoAction
		if err := json.Unmarshal(data, &out); err != nil {
			return nil
		}
		return out
	}
}

// TxStatus represents the current state of a transaction.
type TxStatus string

const (
	TxStatusPending    TxStatus = "pending"
	TxStatusRunning    TxStatus = "running"
	TxStatusCommitted  TxStatus = "committed"
	TxStatusFailed     TxStatus = "failed"
	TxStatusRolledBack TxStatus = "rolled_back"
)

// ActionStatus represents the state of a single action inside a transaction.
type ActionStatus string

const (
	ActionStatusPending   ActionStatus = "pending"
	ActionStatusChecked   ActionStatus = "checked"   // dry run: would be applied
	ActionStatusApplied   ActionStatus = "applied"   // fixed, undo recorded
	ActionStatusUnchanged ActionStatus = "unchanged" // already in desired state
	ActionStatusFailed    ActionStatus = "failed"
	ActionStatusUndone    ActionStatus = "undone"
)

// Transaction is an ordered group of patch actions applied together.
type Transaction struct {
	ID        string     `json:"id"`
	Status    TxStatus   `json:"status"`
	DryRun    bool       `json:"dry_run"`
	Error     string     `json:"error,omitempty"`
	ClaimedBy string     `json:"claimed_by,omitempty"`
	Actions   []TxAction `json:"actions"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TxAction is one patch action within a transaction, with its persisted undo list.
type TxAction struct {
	ID        string       `json:"id"`
	TxID      string       `json:"tx_id"`
	Seq       int          `json:"seq"`
	Args      PatchArgs    `json:"args"`
	Status    ActionStatus `json:"status"`
	Message   string       `json:"message,omitempty"`
	Undo      []UndoAction `json:"undo,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// ToolRun records one invocation of the external patch tool.
type ToolRun struct {
	ID        string    `json:"id"`
	TxID      string    `json:"tx_id"`
	Command   string    `json:"command"`
	Args      []string  `json:"args"`
	ExitCode  int       `json:"exit_code"`
	Stdout    string    `json:"stdout"`
	Stderr    string    `json:"stderr"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// Lock represents an expiring lock on a resource (a target file path).
type Lock struct {
	ID         string    `json:"id"`
	ResourceID string    `json:"resource_id"`
	HolderID   string    `json:"holder_id"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// PDREntry represents a Process Decision Record for audit.
type PDREntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	TxID       string    `json:"tx_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
