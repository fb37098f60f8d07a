// Package dispatch routes fetched commands, signals and timer events to
// the consumer tasks.
package dispatch

import (
	"fmt"
	"time"

	"github.com/robotalks/pmu.go/pkg/queue"
	"github.com/robotalks/pmu.go/pkg/rpc"
)

// Kind is the tag of an Envelope.
type Kind int

// Envelope kinds.
const (
	KindSignal Kind = iota + 1
	KindIncomingRPC
	KindTimerCallback
)

func (k Kind) String() string {
	switch k {
	case KindSignal:
		return "signal"
	case KindIncomingRPC:
		return "rpc"
	case KindTimerCallback:
		return "timer"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Envelope is delivered to a consumer task. It's one of
// *Signal, *IncomingRPC and *TimerCallback.
type Envelope interface {
	Kind() Kind
	envelope()
}

// Signal notifies a task of an asynchronous condition.
type Signal struct {
	Addressee uint8
	Bits      uint32
}

// Kind implements Envelope.
func (s *Signal) Kind() Kind { return KindSignal }

func (s *Signal) envelope() {}

// IncomingRPC carries a command fetched from a queue.
type IncomingRPC struct {
	Queue   int
	Header  rpc.Header
	Payload []byte
	Source  queue.Source
	Offset  uint32
	// Extra is only set when per-task buffers are active.
	Extra *queue.Location
}

// NewIncomingRPC wraps a fetched frame.
func NewIncomingRPC(f *queue.Frame) *IncomingRPC {
	return &IncomingRPC{
		Queue:   f.Queue,
		Header:  f.Header,
		Payload: f.Payload,
		Source:  f.Source,
		Offset:  f.Offset,
		Extra:   f.Location,
	}
}

// Kind implements Envelope.
func (r *IncomingRPC) Kind() Kind { return KindIncomingRPC }

func (r *IncomingRPC) envelope() {}

// TimerCallback notifies a task its timer fired.
type TimerCallback struct {
	ID    uint8
	Fired time.Time
	Count uint64
}

// Kind implements Envelope.
func (t *TimerCallback) Kind() Kind { return KindTimerCallback }

func (t *TimerCallback) envelope() {}

// Consumer receives envelopes. Deliver must not block: a full event queue
// is reported as an error and the envelope is dropped.
type Consumer interface {
	Deliver(Envelope) error
}

// ConsumerFunc is func form of Consumer.
type ConsumerFunc func(Envelope) error

// Deliver implements Consumer.
func (f ConsumerFunc) Deliver(env Envelope) error {
	return f(env)
}
