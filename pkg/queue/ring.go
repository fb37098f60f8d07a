// Package queue implements the ring buffers between the PMU and its
// peers, and the backends the command processor drains.
//
// A ring occupies [Start, End) of a memory aperture and is described by two
// registers: Head is the offset after the last committed frame (written by
// the producer only), Tail is the offset the consumer has swept up to
// (written by the consumer only). The ring is empty when the consumer's
// cursor equals Head. When a frame doesn't fit before End, the producer
// writes a rewind header (addressee rpc.UnitRewind) and continues at Start.
package queue

import (
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/pmu.go/pkg/hw"
	"github.com/robotalks/pmu.go/pkg/rpc"
)

// rewindSize is the space reserved after every frame for a rewind header.
var rewindSize = rpc.AlignUp(rpc.HeaderSize)

// Descriptor describes one ring.
type Descriptor struct {
	ID    int
	Start uint32
	End   uint32
	Head  hw.Register
	Tail  hw.Register
}

// Capacity returns the byte size of the ring.
func (d *Descriptor) Capacity() uint32 {
	return d.End - d.Start
}

// Reset clears the ring memory and points both registers to Start.
func (d *Descriptor) Reset(mem hw.Memory) error {
	if d.End <= d.Start || d.Capacity()%rpc.WordSize != 0 || d.Start%rpc.WordSize != 0 {
		return fmt.Errorf("queue %d [%#x, %#x): %w", d.ID, d.Start, d.End, ErrInvalidArgument)
	}
	if err := hw.Clear(mem, d.Start, d.Capacity()); err != nil {
		return err
	}
	d.Head.Set(d.Start)
	d.Tail.Set(d.Start)
	return nil
}

func (d *Descriptor) String() string {
	return fmt.Sprintf("q%d[%#x,%#x)", d.ID, d.Start, d.End)
}

// Reader is the consumer side of a ring.
// The cursor is owned by the reader: only one goroutine may use it.
type Reader struct {
	Desc *Descriptor
	Mem  hw.Memory

	cursor  uint32
	rewound bool
}

// NewReader creates a Reader with the cursor at Start.
func NewReader(desc *Descriptor, mem hw.Memory) *Reader {
	return &Reader{Desc: desc, Mem: mem, cursor: desc.Start}
}

// Cursor returns the read cursor.
func (r *Reader) Cursor() uint32 {
	return r.cursor
}

// Reset moves the cursor back to Start.
func (r *Reader) Reset() {
	r.cursor, r.rewound = r.Desc.Start, false
}

// Pending indicates there's something to read.
func (r *Reader) Pending() bool {
	return r.cursor != r.Desc.Head.Get()
}

// Next reads the next frame, or returns nil if the ring is empty.
// The cursor advances and the tail is swept before Next returns.
func (r *Reader) Next() ([]byte, error) {
	d := r.Desc
	for {
		head := d.Head.Get()
		if head < d.Start || head >= d.End {
			return nil, fmt.Errorf("%v head %#x: %w", d, head, ErrInvalidFrame)
		}
		if r.cursor == head {
			return nil, nil
		}
		if r.cursor+rpc.HeaderSize > d.End {
			return nil, fmt.Errorf("%v cursor %#x: %w", d, r.cursor, ErrInvalidFrame)
		}
		var hdr [rpc.HeaderSize]byte
		if err := r.Mem.ReadAt(r.cursor, hdr[:]); err != nil {
			return nil, err
		}
		h, _ := rpc.Decode(hdr[:])
		if h.IsRewind() {
			if r.rewound {
				return nil, fmt.Errorf("%v at %#x: %w", d, r.cursor, ErrRewindPending)
			}
			// a producer only wraps when the frame doesn't fit before End,
			// so the head committed after a rewind is behind the cursor.
			if r.cursor != d.Start && head > r.cursor {
				return nil, fmt.Errorf("%v rewind at %#x before head %#x: %w", d, r.cursor, head, ErrInvalidFrame)
			}
			r.rewound = true
			if r.cursor == d.Start {
				r.cursor += rewindSize
			} else {
				r.cursor = d.Start
			}
			glog.V(4).Infof("%v rewind, cursor %#x", d, r.cursor)
			r.sweep()
			// the head may have moved since the producer wrapped.
			continue
		}
		size := h.AlignedSize()
		if h.Size < rpc.HeaderSize || r.cursor+size > d.End ||
			(head > r.cursor && r.cursor+size > head) {
			return nil, fmt.Errorf("%v at %#x %v: %w", d, r.cursor, h, ErrInvalidFrame)
		}
		raw := make([]byte, h.Size)
		if err := r.Mem.ReadAt(r.cursor, raw); err != nil {
			return nil, err
		}
		r.cursor += size
		r.rewound = false
		r.sweep()
		return raw, nil
	}
}

func (r *Reader) sweep() {
	r.Desc.Tail.Set(r.cursor)
}

// Trigger raises the interrupt of the consumer.
type Trigger struct {
	Reg  hw.Register
	Bits uint32
}

// Fire sets the trigger bits.
func (t *Trigger) Fire() {
	if t != nil && t.Reg.Regs != nil {
		t.Reg.SetBits(t.Bits)
	}
}

// Producer is the producer side of a ring. It's safe for concurrent use.
type Producer struct {
	Desc    *Descriptor
	Mem     hw.Memory
	Trigger *Trigger

	wr   uint32
	lock sync.Mutex
}

// NewProducer creates a Producer writing at Start.
func NewProducer(desc *Descriptor, mem hw.Memory, trigger *Trigger) *Producer {
	return &Producer{Desc: desc, Mem: mem, Trigger: trigger, wr: desc.Start}
}

// Reset moves the write offset back to Start.
func (p *Producer) Reset() {
	p.lock.Lock()
	p.wr = p.Desc.Start
	p.lock.Unlock()
}

// Post writes a frame, commits it in Head and fires the trigger last.
// ErrQueueFull means there's no space now and the consumer must sweep first.
// The rewind addressee is reserved for the producer itself.
func (p *Producer) Post(h rpc.Header, payload []byte) error {
	if h.IsRewind() {
		return fmt.Errorf("%v addressee %#02x reserved: %w", p.Desc, h.Addressee, ErrInvalidArgument)
	}
	raw, err := rpc.Encode(h, payload)
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrInvalidArgument)
	}
	d := p.Desc
	size := rpc.AlignUp(uint32(len(raw)))
	if size+rewindSize >= d.Capacity() {
		return fmt.Errorf("%v frame size %d: %w", d, size, ErrInvalidArgument)
	}

	p.lock.Lock()
	defer p.lock.Unlock()
	tail := d.Tail.Get()
	wr := p.wr
	if wr >= tail {
		if wr+size+rewindSize > d.End {
			if d.Start+size >= tail {
				return ErrQueueFull
			}
			var rewind [rpc.HeaderSize]byte
			rpc.Header{Addressee: rpc.UnitRewind, Size: rpc.HeaderSize}.Put(rewind[:])
			if err := p.Mem.WriteAt(wr, rewind[:]); err != nil {
				return err
			}
			wr = d.Start
		}
	} else if wr+size >= tail {
		return ErrQueueFull
	}

	frame := make([]byte, size)
	copy(frame, raw)
	if err := p.Mem.WriteAt(wr, frame); err != nil {
		return err
	}
	p.wr = wr + size
	d.Head.Set(p.wr)
	p.Trigger.Fire()
	return nil
}
