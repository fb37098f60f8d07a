package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/pmu.go/pkg/hw"
	"github.com/robotalks/pmu.go/pkg/queue"
	"github.com/robotalks/pmu.go/pkg/rpc"
)

// State is the state of the command processor.
type State int

// States.
const (
	StateIdle State = iota
	StateDraining
	StateDispatching
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDraining:
		return "draining"
	case StateDispatching:
		return "dispatching"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Stats counts processed items.
type Stats struct {
	Passes   uint64
	Failures uint64
	Frames   uint64
	Unrouted uint64
	Dropped  uint64
	Signals  uint64
}

// Processor drains the command queues and routes every frame to the
// consumer registered under its addressee.
// Bit n of the interrupt line is the doorbell of command queue n.
type Processor struct {
	Backend queue.Backend
	IRQ     *hw.Interrupt
	// Interval is the period of wake-ups without an interrupt, which also
	// resumes a failed processor. 0 disables them.
	Interval time.Duration
	// Unrouted receives frames without a registered consumer.
	Unrouted Consumer

	consumers map[uint8]Consumer
	state     State
	lastErr   error
	retry     bool
	stats     Stats
	lock      sync.RWMutex
}

// NewProcessor creates a Processor.
func NewProcessor(backend queue.Backend, irq *hw.Interrupt) *Processor {
	return &Processor{
		Backend:   backend,
		IRQ:       irq,
		Interval:  100 * time.Millisecond,
		consumers: make(map[uint8]Consumer),
	}
}

// Register routes frames to addressee to consumer.
func (p *Processor) Register(addressee uint8, consumer Consumer) error {
	if addressee == rpc.UnitRewind {
		return ErrReservedAddressee
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	if _, exist := p.consumers[addressee]; exist {
		return fmt.Errorf("%#02x: %w", addressee, ErrDuplicateConsumer)
	}
	p.consumers[addressee] = consumer
	return nil
}

// State returns the current state.
func (p *Processor) State() State {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.state
}

// Err returns the error failed the last pass.
func (p *Processor) Err() error {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.lastErr
}

// Stats returns a snapshot of the counters.
func (p *Processor) Stats() Stats {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.stats
}

// Resume clears the failed state. The next Poll drains all queues
// regardless of the doorbells acknowledged by the failed pass.
func (p *Processor) Resume() {
	p.lock.Lock()
	if p.state == StateFailed {
		p.state, p.retry = StateIdle, true
	}
	p.lock.Unlock()
}

// Poll runs one pass. The interrupt is masked during the pass and only
// unmasked after every signaled queue is drained. When the backend fails,
// the pass stops, the interrupt stays masked and the processor stays
// failed until Resume.
func (p *Processor) Poll(ctx context.Context) error {
	p.lock.Lock()
	if p.state == StateFailed {
		err := p.lastErr
		p.lock.Unlock()
		return err
	}
	retry := p.retry
	p.retry = false
	p.lock.Unlock()

	bits := p.IRQ.Status.Get() & p.IRQ.Bits
	if bits == 0 && !retry {
		p.setState(StateIdle)
		p.mask(p.IRQ.Bits)
		return nil
	}

	p.setState(StateDraining)
	p.mask(0)
	p.IRQ.Status.ClearBits(bits)
	p.count(func(s *Stats) { s.Passes++ })

	for id := 0; id < p.Backend.NumQueues(); id++ {
		if bits&(1<<uint(id)) == 0 && !retry {
			continue
		}
		if err := p.drain(ctx, id); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.lock.Lock()
			p.state, p.lastErr = StateFailed, err
			p.stats.Failures++
			p.lock.Unlock()
			glog.Errorf("command processor pass failed: %v", err)
			return err
		}
	}

	p.setState(StateIdle)
	p.mask(p.IRQ.Bits)
	return nil
}

func (p *Processor) drain(ctx context.Context, id int) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := p.Backend.FetchNext(id)
		if err != nil {
			return &PassError{Queue: id, Err: err}
		}
		if f == nil {
			return nil
		}
		p.dispatch(f)
		p.setState(StateDraining)
	}
}

func (p *Processor) dispatch(f *queue.Frame) {
	p.lock.Lock()
	p.state = StateDispatching
	p.stats.Frames++
	consumer := p.consumers[f.Header.Addressee]
	if consumer == nil {
		p.stats.Unrouted++
		consumer = p.Unrouted
	}
	p.lock.Unlock()

	if consumer == nil {
		glog.Warningf("q%d %v: no consumer, dropped", f.Queue, f.Header)
		p.count(func(s *Stats) { s.Dropped++ })
		return
	}
	glog.V(2).Infof("q%d dispatch %v", f.Queue, f.Header)
	if err := consumer.Deliver(NewIncomingRPC(f)); err != nil {
		glog.Warningf("q%d %v: deliver failed, dropped: %v", f.Queue, f.Header, err)
		p.count(func(s *Stats) { s.Dropped++ })
	}
}

// Raise delivers a Signal to the consumer of addressee.
func (p *Processor) Raise(addressee uint8, bits uint32) error {
	p.lock.Lock()
	consumer := p.consumers[addressee]
	p.stats.Signals++
	p.lock.Unlock()
	if consumer == nil {
		return fmt.Errorf("%#02x: %w", addressee, ErrNoConsumer)
	}
	return consumer.Deliver(&Signal{Addressee: addressee, Bits: bits})
}

// Run polls on every interrupt and every Interval until ctx is done.
// A failed processor is resumed on the next wake-up with the failure
// logged again, so a stuck queue shows up as a repeated error. While
// failed the interrupt is masked, so a doorbell wakes it instead.
func (p *Processor) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if p.Interval > 0 {
		ticker := time.NewTicker(p.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	p.Poll(ctx)
	for {
		var doorbell <-chan struct{}
		if p.State() == StateFailed {
			doorbell = p.IRQ.Doorbell()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.IRQ.C():
		case <-doorbell:
		case <-tick:
		}
		if p.State() == StateFailed {
			glog.Errorf("command processor resuming after failure: %v", p.Err())
			p.Resume()
		}
		p.Poll(ctx)
	}
}

func (p *Processor) setState(s State) {
	p.lock.Lock()
	p.state = s
	p.lock.Unlock()
}

func (p *Processor) count(fn func(*Stats)) {
	p.lock.Lock()
	fn(&p.stats)
	p.lock.Unlock()
}

func (p *Processor) mask(bits uint32) {
	if p.IRQ.Mask.Regs != nil {
		p.IRQ.Mask.Set(bits)
	}
}
