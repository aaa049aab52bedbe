package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
//   - ErrNotFound: entity does not exist in store
//   - ErrAlreadyUsed: a unique key (notification reference) is already taken
//   - ErrConcurrentModification: a guarded update did not affect exactly one row
//   - ErrInvalidState: entity in wrong state for requested operation
//   - ErrUnavailable: service or resource temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrAlreadyUsed            = errors.New("already used")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrInvalidState           = errors.New("invalid state")
	ErrUnavailable            = errors.New("unavailable")
)
