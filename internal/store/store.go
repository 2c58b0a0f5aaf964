// Package store provides keyed storage of transaction records. The store is
// the single source of truth for transaction status: every read-modify-write
// of a record goes through Update, which runs the mutator with per-id
// exclusivity so two racing writers can never both observe and act on the
// same stale state. That contract is what makes the approval pipeline's
// run-at-most-once flag safe without any locking in handler code.
package store

import (
	"errors"

	"github.com/eventpass/ticketpay/internal/models"
)

// ErrNotFound is returned when the requested transaction does not exist.
var ErrNotFound = errors.New("transaction not found")

// ErrExists is returned by Create when the id is already taken.
var ErrExists = errors.New("transaction already exists")

// TransactionStore is the storage contract shared by the in-memory and
// bolt-backed implementations. Get and Update return copies; callers never
// hold a pointer into store-owned state.
type TransactionStore interface {
	// Create persists a new record. The record's id must be unique.
	Create(tx *models.Transaction) error

	// Get returns the record for id, or ErrNotFound.
	Get(id string) (*models.Transaction, error)

	// Update loads the record for id, runs mutate on it, and persists the
	// result, all under per-id mutual exclusion. If mutate returns an error
	// the record is left unchanged and the error is returned. Returns the
	// record as persisted.
	Update(id string, mutate func(*models.Transaction) error) (*models.Transaction, error)

	// Close releases any resources held by the store.
	Close() error
}
