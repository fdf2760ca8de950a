package controlplane

import "errors"

// Sentinel errors for control plane operations.
var (
	ErrNotFound       = errors.New("transaction not found")
	ErrInvalidState   = errors.New("transaction is not in a valid state for this operation")
	ErrNoActions      = errors.New("transaction has no actions")
	ErrResourceLocked = errors.New("target file is locked by another transaction")
)
