// Package audit provides PDR (Process Decision Record) writing for patchward.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/fentz26/patchward/internal/models"
	"github.com/fentz26/patchward/internal/store"
)

// Outcomes recorded in decision records.
const (
	OutcomeSuccess = "success"
	OutcomeNoop    = "noop"
	OutcomeFailed  = "failed"
	OutcomeError   = "error"
)

// PDRWriter writes Process Decision Records for audit trails.
type PDRWriter struct {
	store *store.Store
}

// NewPDRWriter creates a new PDR writer.
func NewPDRWriter(s *store.Store) *PDRWriter {
	return &PDRWriter{store: s}
}

// Record writes a PDR entry for a state-mutating action.
func (w *PDRWriter) Record(action string, inputs interface{}, outcome, txID, details string) (*models.PDREntry, error) {
	inputsHash := hashInputs(inputs)
	return w.store.WritePDR(action, inputsHash, outcome, txID, details)
}

// OutcomeFor classifies an action envelope for the audit trail.
func OutcomeFor(res models.Result) string {
	switch {
	case res.Status == models.StatusNotModified:
		return OutcomeNoop
	case res.Status == models.StatusOK:
		return OutcomeSuccess
	case res.Status >= models.StatusInternalError:
		return OutcomeError
	default:
		return OutcomeFailed
	}
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs interface{}) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
