package repos

import "errors"

var (
	// ErrAlreadyExists signals an idempotent re-invocation of ledger
	// creation. Callers treat it as success and reuse the existing ledger.
	ErrAlreadyExists = errors.New("ledger already exists")
	// ErrLedgerRace signals a compare-and-swap rejection; the caller retries
	// the atomic op or accepts that another writer won.
	ErrLedgerRace = errors.New("ledger status compare-and-swap rejected")
)
