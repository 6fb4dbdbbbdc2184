package order

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument        = errors.New("order: invalid argument")
	ErrOrderNotFound          = errors.New("order: not found")
	ErrInvalidTransition      = errors.New("order: invalid transition")
	ErrConcurrentModification = errors.New("order: concurrent modification")
)

// store-internal sentinel, never returned to callers.
var errVersionConflict = errors.New("order: version conflict")

// TransitionError reports a rejected transition together with the order's
// current status so callers can recover without re-reading the order.
// It matches ErrInvalidTransition under errors.Is.
type TransitionError struct {
	OrderID string
	Current Status
	Event   EventType
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %s: event %q not allowed from %s", e.OrderID, e.Event, e.Current)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
