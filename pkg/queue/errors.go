package queue

import "errors"

var (
	// ErrInvalidIndex indicates a queue id out of range.
	ErrInvalidIndex = errors.New("invalid queue index")
	// ErrInvalidArgument indicates a malformed argument.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidFrame indicates the queue content or head register is corrupted.
	ErrInvalidFrame = errors.New("invalid frame")
	// ErrRewindPending indicates a second rewind arrived before any frame
	// following the first one was consumed.
	ErrRewindPending = errors.New("rewind already pending")
	// ErrQueueFull indicates the producer has no space now, retry later.
	ErrQueueFull = errors.New("queue full")
	// ErrScratchTooSmall indicates a frame doesn't fit in a scratch element.
	ErrScratchTooSmall = errors.New("scratch too small")
	// ErrNotReady indicates the backend is not initialized.
	ErrNotReady = errors.New("backend not ready")
)
