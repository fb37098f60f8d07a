// Package rtos provides the task primitives the PMU core consumes:
// semaphores, bounded queues and a task scheduler.
package rtos

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout indicates a take/receive did not complete in time.
	ErrTimeout = errors.New("timeout")
	// ErrQueueFull indicates a non-blocking send found the queue full.
	ErrQueueFull = errors.New("queue full")
)

// Semaphore is a counting semaphore.
type Semaphore struct {
	ch chan struct{}
}

// NewSemaphore creates a semaphore with maximum count max and no tokens.
func NewSemaphore(max int) *Semaphore {
	return &Semaphore{ch: make(chan struct{}, max)}
}

// NewBinarySemaphore creates a semaphore with maximum count 1.
func NewBinarySemaphore() *Semaphore {
	return NewSemaphore(1)
}

// Give releases a token. Giving a full semaphore is a no-op.
func (s *Semaphore) Give() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Take acquires a token, waiting up to timeout.
// A zero timeout polls.
func (s *Semaphore) Take(timeout time.Duration) error {
	if timeout <= 0 {
		select {
		case <-s.ch:
			return nil
		default:
			return ErrTimeout
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.ch:
		return nil
	case <-timer.C:
		return ErrTimeout
	}
}

// TakeContext acquires a token, waiting until ctx is done.
func (s *Semaphore) TakeContext(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain removes all available tokens and returns the count removed.
func (s *Semaphore) Drain() (n int) {
	for {
		select {
		case <-s.ch:
			n++
		default:
			return
		}
	}
}

// Queue is a bounded mailbox.
type Queue struct {
	ch chan interface{}
}

// NewQueue creates a Queue with the given depth.
func NewQueue(depth int) *Queue {
	return &Queue{ch: make(chan interface{}, depth)}
}

// TrySend enqueues without blocking.
func (q *Queue) TrySend(item interface{}) error {
	select {
	case q.ch <- item:
		return nil
	default:
		return ErrQueueFull
	}
}

// Send enqueues, waiting until ctx is done.
func (q *Queue) Send(ctx context.Context, item interface{}) error {
	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive dequeues, waiting until ctx is done.
func (q *Queue) Receive(ctx context.Context) (interface{}, error) {
	select {
	case item := <-q.ch:
		return item, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ReceiveTimeout dequeues, waiting up to timeout.
func (q *Queue) ReceiveTimeout(timeout time.Duration) (interface{}, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case item := <-q.ch:
		return item, nil
	case <-timer.C:
		return nil, ErrTimeout
	}
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the depth.
func (q *Queue) Cap() int {
	return cap(q.ch)
}
