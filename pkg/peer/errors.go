package peer

import "errors"

var (
	// ErrInvalidState indicates a request in flight, or a response with a
	// sequence not matching the request.
	ErrInvalidState = errors.New("invalid state")
	// ErrInvalidIndex indicates a response with a command not matching the request.
	ErrInvalidIndex = errors.New("invalid index")
	// ErrInvalidArgument indicates a command id not fitting in 7 bits.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrOwned indicates the channel already has a requester.
	ErrOwned = errors.New("channel already owned")
	// ErrClosed indicates the requester is closed.
	ErrClosed = errors.New("requester closed")
)
