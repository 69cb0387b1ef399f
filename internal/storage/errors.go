package storage

import "errors"

// ErrClaimConflict is returned when a conditional status update affected zero
// rows: the guarded status changed underneath us, meaning another searcher
// claimed the participant first. It is a normal concurrency outcome, not a
// failure - callers move on to the next candidate.
var ErrClaimConflict = errors.New("claim conflict: status changed concurrently")

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("record not found")
