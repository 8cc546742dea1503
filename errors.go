package followcache

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreClosed is returned for operations on a Store after Close.
	ErrStoreClosed = errors.New("followcache: store is closed")
	// ErrMalformedResponse means a collaborator answered without the entity
	// the operation asked for.
	ErrMalformedResponse = errors.New("followcache: malformed response")
)

// ValidationError means an input was rejected before any request was issued.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// FetchError means a page fetch failed. The cache state is left at its last
// valid value.
type FetchError struct {
	Login  string
	Cursor Cursor
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch following of %q (%s): %v", e.Login, e.Cursor, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// MutationError means a follow was not confirmed. The speculative entry has
// been rolled back by the time the caller sees it.
type MutationError struct {
	Login string
	Err   error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("follow %q: %v", e.Login, e.Err)
}

func (e *MutationError) Unwrap() error {
	return e.Err
}
