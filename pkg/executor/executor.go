// Package executor is the single path tasks send messages out of the PMU:
// to the host through the message queue, or to a peer over a mailbox.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/pmu.go/pkg/peer"
	"github.com/robotalks/pmu.go/pkg/queue"
	"github.com/robotalks/pmu.go/pkg/rpc"
	"github.com/robotalks/pmu.go/pkg/rtos"
)

var (
	// ErrWouldBlock indicates the message can't be queued now, retry later.
	ErrWouldBlock = errors.New("would block")
	// ErrNoChannel indicates the channel isn't configured.
	ErrNoChannel = errors.New("channel not available")
)

// Channel selects the destination.
type Channel int

// Channels.
const (
	ChannelHost Channel = iota
	ChannelPeer
	ChannelSecure
)

func (c Channel) String() string {
	switch c {
	case ChannelHost:
		return "host"
	case ChannelPeer:
		return "fbflcn"
	case ChannelSecure:
		return "sec"
	}
	return fmt.Sprintf("channel(%d)", int(c))
}

// Mode selects how Execute waits.
type Mode int

// Modes.
const (
	// NonBlocking returns once the message is queued.
	NonBlocking Mode = iota
	// Blocking waits for the host acknowledgement or the peer response.
	Blocking
)

// Message is an outgoing message.
type Message struct {
	// Host messages.
	Unit     uint8
	Function uint8
	Flags    uint8
	Payload  []byte
	// Reply is the header of the command being replied.
	Reply *rpc.Header

	// Peer messages.
	Cmd    peer.Command
	Data16 uint16
	Data32 uint32
}

// Result of Execute.
type Result struct {
	Seq      uint16
	Header   rpc.Header
	Response peer.Message
}

// Clock returns the timestamp stamped into headers.
type Clock func() uint32

// MicrosecondClock counts microseconds since it's created.
func MicrosecondClock() Clock {
	start := time.Now()
	return func() uint32 {
		return uint32(time.Since(start) / time.Microsecond)
	}
}

const conventionFlags = rpc.FlagResponse | rpc.FlagEvent | rpc.FlagAckRequired

type peerLink struct {
	req  *peer.Requester
	lock sync.Mutex
}

// Executor executes outgoing messages.
type Executor struct {
	Backend queue.Backend
	// Timeout bounds every blocking wait.
	Timeout time.Duration
	// RetryInterval is the back-off of a blocking post on a full queue.
	RetryInterval time.Duration
	Clock         Clock

	seq     rpc.Counter
	seqLock sync.Mutex
	acks    map[uint32]*rtos.Semaphore
	ackLock sync.Mutex
	peers   map[Channel]*peerLink
}

// New creates an Executor.
func New(backend queue.Backend) *Executor {
	return &Executor{
		Backend:       backend,
		Timeout:       time.Second,
		RetryInterval: time.Millisecond,
		Clock:         MicrosecondClock(),
		acks:          make(map[uint32]*rtos.Semaphore),
		peers:         make(map[Channel]*peerLink),
	}
}

// AttachPeer routes ch to the mailbox channel owned by r.
func (e *Executor) AttachPeer(ch Channel, r *peer.Requester) error {
	if ch == ChannelHost {
		return fmt.Errorf("%v: %w", ch, ErrNoChannel)
	}
	e.peers[ch] = &peerLink{req: r}
	return nil
}

// Execute sends msg over ch.
func (e *Executor) Execute(ctx context.Context, ch Channel, msg *Message, mode Mode) (*Result, error) {
	if ch == ChannelHost {
		return e.executeHost(ctx, msg, mode)
	}
	link := e.peers[ch]
	if link == nil {
		return nil, fmt.Errorf("%v: %w", ch, ErrNoChannel)
	}
	link.lock.Lock()
	defer link.lock.Unlock()
	if mode == NonBlocking {
		seq, err := link.req.PostRequest(msg.Cmd, msg.Data16, msg.Data32)
		if err != nil {
			return nil, err
		}
		return &Result{Seq: uint16(seq)}, nil
	}
	resp, err := link.req.Call(msg.Cmd, msg.Data16, msg.Data32, e.timeout(ctx))
	if err != nil {
		return nil, err
	}
	return &Result{Seq: uint16(resp.Seq), Response: resp}, nil
}

// AwaitPeer collects the response of a request posted by a NonBlocking
// Execute.
func (e *Executor) AwaitPeer(ch Channel, timeout time.Duration) (*Result, error) {
	link := e.peers[ch]
	if link == nil {
		return nil, fmt.Errorf("%v: %w", ch, ErrNoChannel)
	}
	link.lock.Lock()
	defer link.lock.Unlock()
	if err := link.req.Wait(timeout); err != nil {
		return nil, err
	}
	resp, err := link.req.GetResponse()
	if err != nil {
		return nil, err
	}
	return &Result{Seq: uint16(resp.Seq), Response: resp}, nil
}

// ResetPeer abandons the request in flight on ch.
func (e *Executor) ResetPeer(ch Channel) error {
	link := e.peers[ch]
	if link == nil {
		return fmt.Errorf("%v: %w", ch, ErrNoChannel)
	}
	link.lock.Lock()
	defer link.lock.Unlock()
	return link.req.Reset()
}

// Complete is called when the host acknowledges a message.
// It returns false if nothing waits for the acknowledgement.
func (e *Executor) Complete(seq uint16, response bool) bool {
	e.ackLock.Lock()
	sem := e.acks[ackKey(seq, response)]
	e.ackLock.Unlock()
	if sem == nil {
		glog.V(2).Infof("unexpected ack seq=%d response=%v", seq, response)
		return false
	}
	sem.Give()
	return true
}

func (e *Executor) stamp(msg *Message) rpc.Header {
	h := rpc.Header{
		Addressee: msg.Unit,
		Function:  msg.Function,
		Flags:     msg.Flags &^ conventionFlags,
		Timestamp: e.Clock(),
	}
	if msg.Reply != nil {
		if h.Addressee == 0 {
			h.Addressee = msg.Reply.Addressee
		}
		if h.Function == 0 {
			h.Function = msg.Reply.Function
		}
		h.Flags |= rpc.FlagResponse
		h.Seq = msg.Reply.Seq
		return h
	}
	h.Flags |= rpc.FlagEvent
	e.seqLock.Lock()
	h.Seq = e.seq.Next()
	e.seqLock.Unlock()
	return h
}

func (e *Executor) executeHost(ctx context.Context, msg *Message, mode Mode) (*Result, error) {
	h := e.stamp(msg)
	if h.Addressee == rpc.UnitRewind {
		return nil, fmt.Errorf("addressee %#02x: %w", h.Addressee, queue.ErrInvalidArgument)
	}
	if mode == NonBlocking {
		if err := e.Backend.Post(h, msg.Payload); err != nil {
			if errors.Is(err, queue.ErrQueueFull) {
				return nil, fmt.Errorf("%v: %w", h, ErrWouldBlock)
			}
			return nil, err
		}
		return &Result{Seq: h.Seq, Header: h}, nil
	}

	h.Flags |= rpc.FlagAckRequired
	key := ackKey(h.Seq, h.Flags&rpc.FlagResponse != 0)
	sem := rtos.NewBinarySemaphore()
	e.ackLock.Lock()
	e.acks[key] = sem
	e.ackLock.Unlock()
	defer func() {
		e.ackLock.Lock()
		delete(e.acks, key)
		e.ackLock.Unlock()
	}()

	waitCtx, cancel := context.WithTimeout(ctx, e.timeout(ctx))
	defer cancel()
	if err := e.postBlocking(waitCtx, h, msg.Payload); err != nil {
		return nil, waitErr(err)
	}
	if err := sem.TakeContext(waitCtx); err != nil {
		glog.Warningf("%v: ack timeout", h)
		return nil, waitErr(err)
	}
	return &Result{Seq: h.Seq, Header: h}, nil
}

func (e *Executor) postBlocking(ctx context.Context, h rpc.Header, payload []byte) error {
	for {
		err := e.Backend.Post(h, payload)
		if !errors.Is(err, queue.ErrQueueFull) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.RetryInterval):
		}
	}
}

func (e *Executor) timeout(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < e.Timeout {
			return d
		}
	}
	return e.Timeout
}

// waitErr reports an expired deadline, ours or the caller's, as
// rtos.ErrTimeout like the peer channels do. Cancellation is kept.
func waitErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return rtos.ErrTimeout
	}
	return err
}

func ackKey(seq uint16, response bool) uint32 {
	key := uint32(seq)
	if response {
		key |= 1 << 16
	}
	return key
}
