package models

import (
	"errors"
	"fmt"
)

// Error constants for sync job operations
var (
	ErrJobNotFound     = errors.New("sync job not found")
	ErrJobTerminal     = errors.New("sync job already in a terminal state")
	ErrInvalidDataKind = errors.New("invalid data kind")
	ErrInvalidStrategy = errors.New("invalid sync strategy")
)

// MissingKeyError marks a record that lacks its natural key. Such records
// are counted as skipped and never written.
type MissingKeyError struct {
	Kind DataKind
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("record has no natural key for kind %q", e.Kind)
}

// UpstreamFetchError is an HTTP or network failure fetching one page after
// retries were exhausted.
type UpstreamFetchError struct {
	Page       int
	StatusCode int
	Err        error
}

func (e *UpstreamFetchError) Error() string {
	return fmt.Sprintf("upstream fetch failed for page %d (status %d): %v", e.Page, e.StatusCode, e.Err)
}

func (e *UpstreamFetchError) Unwrap() error { return e.Err }

// StoreWriteError is a failure committing a write batch. In the resumable
// path this is fatal to the job: partial progress cannot be retried without
// risking duplicate processing of already-advanced pages.
type StoreWriteError struct {
	Ops int
	Err error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write of %d ops failed: %v", e.Ops, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// TimeoutError is a whole-operation wall-clock budget exceeded on the
// one-shot path, surfaced distinctly so callers can tell it from a hard
// upstream failure.
type TimeoutError struct {
	Budget string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("sync exceeded wall-clock budget of %s", e.Budget)
}
