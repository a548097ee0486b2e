package service

import (
	"errors"
	"fmt"

	"reef/domain/order"
)

// ErrTimeout: validation did not answer within the configured deadline.
// The request is abandoned; the client may retry.
var ErrTimeout = errors.New("operation timed out")

// ErrActorStopped: the pair actor is shutting down or restarting;
// in-flight requests fail transiently and the caller may retry.
var ErrActorStopped = errors.New("pair actor stopped")

// MatchingRolledBackError: the pool or a script refused an emitted
// exchange transaction. The submitted order was discarded and the
// resting counter order did not advance.
type MatchingRolledBackError struct {
	OrderID order.Digest
	Cause   error
}

func (e *MatchingRolledBackError) Error() string {
	return fmt.Sprintf("matching rolled back for order %s: %v", e.OrderID, e.Cause)
}

func (e *MatchingRolledBackError) Unwrap() error { return e.Cause }

// InternalError: persistence failed underneath the actor. The actor
// restarts from its journal; the request that hit it fails.
type InternalError struct {
	Cause error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal persistence failure: %v", e.Cause)
}

func (e *InternalError) Unwrap() error { return e.Cause }

// CancelRejectedError wraps a cancellation refusal with its reason.
type CancelRejectedError struct {
	Reason string
}

func (e *CancelRejectedError) Error() string { return e.Reason }
