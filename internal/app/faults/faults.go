// Package faults defines the error taxonomy shared across the allocation
// layer. Callers classify failures with errors.Is against these sentinels;
// sites that add context wrap with %w so the class survives.
package faults

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a reference to an id that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState marks an operation attempted on a record whose status
	// does not permit it (e.g. approving an already-resolved allocation).
	ErrInvalidState = errors.New("invalid state")

	// ErrConflict marks a compare-and-swap transition that lost against a
	// concurrent caller. Distinct from ErrNotFound so callers can tell
	// "already resolved by someone else" from "never existed".
	ErrConflict = errors.New("concurrent transition conflict")

	// ErrLedgerUnavailable marks a transient ledger backend failure. The same
	// approval may be retried; the ledger rejects duplicate ids so a retry
	// never double-commits.
	ErrLedgerUnavailable = errors.New("ledger unavailable")

	// ErrLedgerRejected marks a permanent ledger refusal (duplicate id,
	// missing base allocation, malformed arguments). Not retryable with the
	// same arguments.
	ErrLedgerRejected = errors.New("ledger rejected")

	// ErrPostCommitConflict marks the case where the ledger commit succeeded
	// but the local transition lost a race. The on-chain write is durable and
	// not reflected locally; requires manual reconciliation.
	ErrPostCommitConflict = errors.New("ledger committed but local transition conflicted")

	// ErrInference marks a failed or timed-out inference call. The decision
	// is abandoned wholesale; no record is created.
	ErrInference = errors.New("inference failure")
)

// NotFound wraps ErrNotFound with the kind and id of the missing record.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

// InvalidState wraps ErrInvalidState with the observed status.
func InvalidState(kind, id, status string) error {
	return fmt.Errorf("%s %s is %s: %w", kind, id, status, ErrInvalidState)
}

// Conflict wraps ErrConflict for a record whose status moved underneath a
// transition.
func Conflict(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrConflict)
}
