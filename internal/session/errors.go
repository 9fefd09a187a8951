package session

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions the transport layer turns into
// user-visible notices. These never escalate past the handler.
var (
	// ErrRateLimited is returned when the user has spent today's message budget.
	ErrRateLimited = errors.New("daily message limit reached")

	// ErrBusy is returned when a previous message for the same user is
	// still waiting on the reply generator.
	ErrBusy = errors.New("previous message still being processed")
)

var errUnknownState = errors.New("session in unknown state")

// GenerationError wraps a transient reply-generator failure. The state
// machine guarantees no log entry was written and no state advanced, so a
// retry on the next inbound message is safe.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("reply generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// PersistenceError wraps a storage failure. Requests fail hard on these;
// the in-memory session is left unchanged so state stays consistent with
// the store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
