package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into coded domain errors.
//
// These represent factual states about stored entities, not validation
// failures:
//   - ErrNotFound: entity does not exist in the store
//   - ErrDuplicate: unique key (content hash, settlement reference) already present
//   - ErrInvalidState: entity in a terminal or wrong state for the operation
//   - ErrUnavailable: backing store or stream temporarily unreachable
//
// For validation errors (bad amount, bad price), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicate    = errors.New("duplicate")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
