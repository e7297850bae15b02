package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrConflict: a uniqueness or compare-and-set guard rejected the write
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrHalted: ledger writes for the tenant are halted pending manual review
// - ErrUnavailable: service or resource temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors
// directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrHalted       = errors.New("halted")
	ErrUnavailable  = errors.New("unavailable")
)
