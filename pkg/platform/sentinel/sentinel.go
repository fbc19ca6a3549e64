package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not business-rule failures:
// - ErrNotFound: entity does not exist in store
// - ErrConflict: uniqueness constraint would be violated
// - ErrLockTimeout: row lock could not be acquired within the configured wait
// - ErrInvalidState: write rejected by a storage-level constraint
// - ErrUnavailable: store or sink unreachable
// - ErrNoTransaction: locked operation attempted outside a transaction
// - ErrLockNotHeld: mutation attempted on a row the transaction has not locked
//
// For business-rule violations, use pkg/domain-errors directly.
var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrLockTimeout   = errors.New("lock wait timeout")
	ErrInvalidState  = errors.New("invalid state")
	ErrUnavailable   = errors.New("unavailable")
	ErrNoTransaction = errors.New("no transaction in context")
	ErrLockNotHeld   = errors.New("row lock not held")
)
