// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service/scheduler layers.
var (
	// ErrValidation indicates caller input that fails basic validation. Wrapped
	// with the specific complaint, e.g. "validation: empty storeID".
	ErrValidation = errors.New("validation")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate indicates a unique constraint violation (e.g., a snapshot for
	// the same store and date is already enqueued).
	ErrDuplicate = errors.New("duplicate")

	// ErrAlreadyClaimed indicates another worker holds the execution lease for a
	// submission record.
	ErrAlreadyClaimed = errors.New("already claimed")

	// ErrTerminalState indicates a state transition was requested on a record
	// whose current status does not permit it.
	ErrTerminalState = errors.New("terminal state")

	// ErrAuthRevoked indicates the store's regulator credential is invalid or
	// revoked; not retried automatically, operator re-authorization required.
	ErrAuthRevoked = errors.New("credential revoked")

	// ErrNoCredential indicates the store has never been provisioned with a
	// regulator credential.
	ErrNoCredential = errors.New("no credential")

	// ErrRetryExhausted indicates a transient failure consumed the last retry
	// and the record was dead-lettered.
	ErrRetryExhausted = errors.New("retry budget exhausted")
)
