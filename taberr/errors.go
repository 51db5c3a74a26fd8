// Package taberr defines the error taxonomy surfaced to the metadata catalog.
// Errors are created once and wrapped with context at call sites; use the
// Is* helpers (or errors.Cause) to classify an error received from any layer.
package taberr

import "github.com/pingcap/errors"

var (
	// ErrCoordinationUnavailable means the durable coordination store could
	// not be reached within the retry budget. Operations that see it must
	// fail, not proceed on possibly stale revision state.
	ErrCoordinationUnavailable = errors.New("coordination store unavailable")

	// ErrSchemaMismatch means an external table's store-side column families
	// do not cover the declared column mapping.
	ErrSchemaMismatch = errors.New("store schema does not match declared column mapping")

	// ErrAlreadyExists means a table creation precondition failed because the
	// store-side table is already present.
	ErrAlreadyExists = errors.New("table already exists")

	// ErrTableNotFound means a table required to pre-exist is missing.
	ErrTableNotFound = errors.New("table not found")

	// ErrInvalidTransactionState means commit or abort was called on a
	// transaction that already reached the other terminal state.
	ErrInvalidTransactionState = errors.New("invalid transaction state")

	// ErrStaleTransaction classifies a transaction aborted by the recovery
	// sweep because its writer stopped making progress.
	ErrStaleTransaction = errors.New("stale transaction")
)

// IsCoordinationUnavailable reports whether err is ErrCoordinationUnavailable
// anywhere in its cause chain.
func IsCoordinationUnavailable(err error) bool {
	return errors.Cause(err) == ErrCoordinationUnavailable
}

// IsSchemaMismatch reports whether err is ErrSchemaMismatch.
func IsSchemaMismatch(err error) bool {
	return errors.Cause(err) == ErrSchemaMismatch
}

// IsAlreadyExists reports whether err is ErrAlreadyExists.
func IsAlreadyExists(err error) bool {
	return errors.Cause(err) == ErrAlreadyExists
}

// IsTableNotFound reports whether err is ErrTableNotFound.
func IsTableNotFound(err error) bool {
	return errors.Cause(err) == ErrTableNotFound
}

// IsInvalidTransactionState reports whether err is ErrInvalidTransactionState.
func IsInvalidTransactionState(err error) bool {
	return errors.Cause(err) == ErrInvalidTransactionState
}
