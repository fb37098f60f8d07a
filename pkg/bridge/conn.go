package bridge

import (
	"container/list"
	"context"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/pmu.go/pkg/bridge/msgs"
)

// DefaultExpiration is the default expiration expecting a reply.
const DefaultExpiration = 2 * time.Second

// Result is the outcome of a command.
type Result struct {
	Frame *msgs.Frame
	Err   error
}

// Future delivers the Result of Conn.Do.
type Future struct {
	tag      uint32
	seq      uint32
	expireAt time.Time
	elem     *list.Element
	result   chan Result
}

// ResultChan returns the channel receiving the result.
func (f *Future) ResultChan() <-chan Result {
	return f.result
}

// Wait waits for the result.
func (f *Future) Wait(ctx context.Context) (*msgs.Frame, error) {
	select {
	case r := <-f.result:
		return r.Frame, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Future) complete(r Result) {
	f.result <- r
	close(f.result)
}

// Conn is a client of a bridge Server. A command is matched with its
// Status by tag, then with its reply by the host sequence in the Status.
type Conn struct {
	Expiration time.Duration
	// OnMessage receives the PMU messages not replying a command of this Conn.
	OnMessage func(*msgs.Frame)

	rw       PacketReadWriter
	tag      uint32
	pending  list.List
	byTag    map[uint32]*Future
	bySeq    map[uint32]*Future
	lock     sync.Mutex
	sendLock sync.Mutex
}

// NewConn creates a Conn. Run must be running for results to be delivered.
func NewConn(rw PacketReadWriter) *Conn {
	return &Conn{
		Expiration: DefaultExpiration,
		rw:         rw,
		tag:        rand.Uint32(),
		byTag:      make(map[uint32]*Future),
		bySeq:      make(map[uint32]*Future),
	}
}

// Do sends a command frame.
func (c *Conn) Do(frame *msgs.Frame) *Future {
	c.lock.Lock()
	c.tag++
	if c.tag == 0 {
		c.tag++
	}
	f := &Future{
		tag:      c.tag,
		expireAt: time.Now().Add(c.Expiration),
		result:   make(chan Result, 1),
	}
	f.elem = c.pending.PushBack(f)
	c.byTag[f.tag] = f
	c.lock.Unlock()

	pkt, err := (&msgs.Packet{Tag: f.tag, Frame: frame}).Encode()
	if err == nil {
		c.sendLock.Lock()
		err = c.rw.WritePacket(pkt)
		c.sendLock.Unlock()
	}
	if err != nil {
		c.lock.Lock()
		c.remove(f)
		c.lock.Unlock()
		f.complete(Result{Err: err})
	}
	return f
}

// Run implements rtos.Task.
func (c *Conn) Run(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	go c.purgeLoop(ctx, stop)
	for {
		pkt, err := c.rw.ReadPacket()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		p, err := msgs.Decode(pkt)
		if err != nil {
			glog.Warningf("bridge: bad packet: %v", err)
			continue
		}
		c.handle(p)
	}
}

// Close implements io.Closer.
func (c *Conn) Close() error {
	if closer, ok := c.rw.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (c *Conn) handle(p *msgs.Packet) {
	if p.Status != nil {
		c.lock.Lock()
		f := c.byTag[p.Tag]
		if f == nil {
			c.lock.Unlock()
			return
		}
		delete(c.byTag, p.Tag)
		if p.Status.Code != 0 {
			c.remove(f)
			c.lock.Unlock()
			f.complete(Result{Err: p.Status})
			return
		}
		f.seq = p.Status.Seq
		c.bySeq[f.seq] = f
		c.lock.Unlock()
		return
	}
	if p.Frame == nil {
		return
	}
	c.lock.Lock()
	f := c.bySeq[p.Frame.Seq]
	if f != nil && p.Frame.IsReply(f.seq) {
		c.remove(f)
		c.lock.Unlock()
		f.complete(Result{Frame: p.Frame, Err: p.Frame.Err()})
		return
	}
	c.lock.Unlock()
	if h := c.OnMessage; h != nil {
		h(p.Frame)
	}
}

// remove must be called with lock held.
func (c *Conn) remove(f *Future) {
	c.pending.Remove(f.elem)
	delete(c.byTag, f.tag)
	if f.seq != 0 && c.bySeq[f.seq] == f {
		delete(c.bySeq, f.seq)
	}
}

func (c *Conn) purgeLoop(ctx context.Context, stop <-chan struct{}) {
	period := c.Expiration / 4
	if period <= 0 {
		period = DefaultExpiration / 4
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case now := <-ticker.C:
			c.purgeExpired(now)
		}
	}
}

func (c *Conn) purgeExpired(now time.Time) {
	var expired []*Future
	c.lock.Lock()
	for c.pending.Len() > 0 {
		f := c.pending.Front().Value.(*Future)
		if f.expireAt.After(now) {
			break
		}
		c.remove(f)
		expired = append(expired, f)
	}
	c.lock.Unlock()
	for _, f := range expired {
		f.complete(Result{Err: context.DeadlineExceeded})
	}
}

// Call sends a command to queue and waits for the reply.
func (c *Conn) Call(ctx context.Context, queue int, unit, function uint8, payload []byte) (*msgs.Frame, error) {
	return c.Do(&msgs.Frame{
		Queue:    uint32(queue),
		Unit:     uint32(unit),
		Function: uint32(function),
		Payload:  payload,
	}).Wait(ctx)
}
