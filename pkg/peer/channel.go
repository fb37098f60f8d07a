package peer

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/pmu.go/pkg/hw"
	"github.com/robotalks/pmu.go/pkg/rtos"
)

// Registers of a mailbox channel. The request pair is written by the PMU,
// the response pair by the peer.
type Registers struct {
	ReqHead  hw.Register
	ReqTail  hw.Register
	RespHead hw.Register
	RespTail hw.Register
}

// Channel is a mailbox channel with at most one request in flight.
// Requests are only issued through the Requester returned by Open.
type Channel struct {
	Name string
	Regs Registers

	seq      uint8
	inFlight bool
	pending  Message
	sem      *rtos.Semaphore
	owner    *Requester
	lock     sync.Mutex
}

// NewChannel creates a Channel.
func NewChannel(name string, regs Registers) *Channel {
	return &Channel{Name: name, Regs: regs, sem: rtos.NewBinarySemaphore()}
}

// Open returns the only Requester of the channel. Another one can only be
// opened after it's closed.
func (c *Channel) Open() (*Requester, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.owner != nil {
		return nil, fmt.Errorf("%s: %w", c.Name, ErrOwned)
	}
	c.owner = &Requester{ch: c}
	return c.owner, nil
}

// Notify signals a response arrived. It's called from the response interrupt.
func (c *Channel) Notify() {
	c.sem.Give()
}

// NotifyOn notifies the channel on every write to the response head register.
func (c *Channel) NotifyOn(rf *hw.RegisterFile) {
	rf.Watch(c.Regs.RespHead.Addr, func(uint32, uint32) { c.Notify() })
}

// InFlight indicates a request is waiting for its response.
func (c *Channel) InFlight() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.inFlight
}

// Requester issues requests on a Channel.
// All methods fail with ErrClosed once it's closed.
type Requester struct {
	ch     *Channel
	closed int32
}

// Channel returns the channel.
func (r *Requester) Channel() *Channel {
	return r.ch
}

// PostRequest sends a request and returns its sequence id.
// It fails with ErrInvalidState if a request is in flight.
func (r *Requester) PostRequest(cmd Command, data16 uint16, data32 uint32) (uint8, error) {
	if err := r.check(); err != nil {
		return 0, err
	}
	if cmd > MaxCommand {
		return 0, fmt.Errorf("%s: %v: %w", r.ch.Name, cmd, ErrInvalidArgument)
	}
	c := r.ch
	c.lock.Lock()
	if c.inFlight {
		c.lock.Unlock()
		return 0, fmt.Errorf("%s: request seq=%d in flight: %w", c.Name, c.pending.Seq, ErrInvalidState)
	}
	c.seq++
	msg := Message{Seq: c.seq, Cmd: cmd, Data16: data16, Data32: data32}
	c.inFlight, c.pending = true, msg
	c.lock.Unlock()

	head, tail := msg.Pack()
	glog.V(2).Infof("%s: request %v", c.Name, msg)
	c.Regs.ReqTail.Set(tail)
	c.Regs.ReqHead.Set(head)
	return msg.Seq, nil
}

// Wait waits for the response notification. On timeout the request stays
// in flight.
func (r *Requester) Wait(timeout time.Duration) error {
	if err := r.check(); err != nil {
		return err
	}
	if err := r.ch.sem.Take(timeout); err != nil {
		glog.Warningf("%s: response timeout after %v", r.ch.Name, timeout)
		return err
	}
	return nil
}

// GetResponse reads the response of the request in flight. A response with
// a different sequence (ErrInvalidState) or command (ErrInvalidIndex) keeps
// the request in flight.
func (r *Requester) GetResponse() (Message, error) {
	if err := r.check(); err != nil {
		return Message{}, err
	}
	c := r.ch
	c.lock.Lock()
	defer c.lock.Unlock()
	if !c.inFlight {
		return Message{}, fmt.Errorf("%s: no request in flight: %w", c.Name, ErrInvalidState)
	}
	resp := Unpack(c.Regs.RespHead.Get(), c.Regs.RespTail.Get())
	if resp.Seq != c.pending.Seq {
		glog.Errorf("%s: response %v doesn't match request %v", c.Name, resp, c.pending)
		return resp, fmt.Errorf("%s: response seq %d, expect %d: %w", c.Name, resp.Seq, c.pending.Seq, ErrInvalidState)
	}
	if resp.Cmd != c.pending.Cmd {
		glog.Errorf("%s: response %v doesn't match request %v", c.Name, resp, c.pending)
		return resp, fmt.Errorf("%s: response %v, expect %v: %w", c.Name, resp.Cmd, c.pending.Cmd, ErrInvalidIndex)
	}
	c.inFlight = false
	glog.V(2).Infof("%s: response %v", c.Name, resp)
	return resp, nil
}

// Call posts a request and waits for its response.
func (r *Requester) Call(cmd Command, data16 uint16, data32 uint32, timeout time.Duration) (Message, error) {
	if _, err := r.PostRequest(cmd, data16, data32); err != nil {
		return Message{}, err
	}
	if err := r.Wait(timeout); err != nil {
		return Message{}, err
	}
	return r.GetResponse()
}

// Reset abandons the request in flight. It's the explicit recovery after
// a timeout or a mismatched response, and a late response of the abandoned
// request may still arrive.
func (r *Requester) Reset() error {
	if err := r.check(); err != nil {
		return err
	}
	c := r.ch
	c.lock.Lock()
	if c.inFlight {
		glog.Warningf("%s: reset, abandon request %v", c.Name, c.pending)
	}
	c.inFlight = false
	c.lock.Unlock()
	c.sem.Drain()
	return nil
}

// Close releases the ownership of the channel. The request in flight, if
// any, stays in flight for the next owner to collect or reset.
func (r *Requester) Close() error {
	if !atomic.CompareAndSwapInt32(&r.closed, 0, 1) {
		return fmt.Errorf("%s: %w", r.ch.Name, ErrClosed)
	}
	c := r.ch
	c.lock.Lock()
	if c.owner == r {
		c.owner = nil
	}
	c.lock.Unlock()
	return nil
}

func (r *Requester) check() error {
	if atomic.LoadInt32(&r.closed) != 0 {
		return fmt.Errorf("%s: %w", r.ch.Name, ErrClosed)
	}
	return nil
}
