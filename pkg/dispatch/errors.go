package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrReservedAddressee indicates registering the rewind sentinel.
	ErrReservedAddressee = errors.New("reserved addressee")
	// ErrDuplicateConsumer indicates the addressee is registered already.
	ErrDuplicateConsumer = errors.New("addressee already registered")
	// ErrNoConsumer indicates nothing is registered for the addressee.
	ErrNoConsumer = errors.New("no consumer")
)

// PassError fails a polling pass.
type PassError struct {
	Queue int
	Err   error
}

// Error implements error.
func (e *PassError) Error() string {
	return fmt.Sprintf("queue %d: %v", e.Queue, e.Err)
}

// Unwrap returns the backend error.
func (e *PassError) Unwrap() error {
	return e.Err
}
