package queue

import (
	"encoding/binary"
	"fmt"

	"github.com/robotalks/pmu.go/pkg/hw"
	"github.com/robotalks/pmu.go/pkg/rpc"
)

// Backend moves frames in and out of the PMU.
// FetchNext is only called from the command processor.
type Backend interface {
	// Init clears the queues, resets head/tail to the queue start and
	// publishes queue metadata for the host.
	Init() error
	// NumQueues returns the number of command queues.
	NumQueues() int
	// Pending indicates the command queue has unread frames.
	Pending(id int) (bool, error)
	// FetchNext returns the next frame of the command queue, nil if empty.
	FetchNext(id int) (*Frame, error)
	// Post writes an outgoing frame to the message queue.
	Post(h rpc.Header, payload []byte) error
}

// Source tells where the bytes of a Frame were read from.
type Source int

// Sources.
const (
	SourceQueue Source = iota
	SourceStaging
	SourceScratch
)

func (s Source) String() string {
	switch s {
	case SourceQueue:
		return "queue"
	case SourceStaging:
		return "staging"
	case SourceScratch:
		return "scratch"
	}
	return fmt.Sprintf("source(%d)", int(s))
}

// Location is where a per-task buffer backend put the frame.
type Location struct {
	Index         uint32
	ElementSize   uint32
	ScratchOffset uint32
	ScratchSize   uint32
}

// Frame is a fetched command.
type Frame struct {
	Queue   int
	Header  rpc.Header
	Payload []byte
	Raw     []byte
	Source  Source
	// Offset is where Raw lives in the memory indicated by Source.
	Offset   uint32
	Location *Location
}

func newFrame(id int, raw []byte, src Source, off uint32) (*Frame, error) {
	h, payload, err := rpc.DecodeFrame(raw)
	if err != nil {
		return nil, fmt.Errorf("queue %d: %v: %w", id, err, ErrInvalidFrame)
	}
	return &Frame{Queue: id, Header: h, Payload: payload, Raw: raw, Source: src, Offset: off}, nil
}

func alignedLen(raw []byte) uint32 {
	return rpc.AlignUp(uint32(len(raw)))
}

// Aperture ids published in queue metadata.
const (
	ApertureDMEM uint32 = 0
	ApertureFB   uint32 = 1
)

// QueueLayout places a ring.
type QueueLayout struct {
	Aperture uint32
	Start    uint32
	Size     uint32
	HeadAddr uint32
	TailAddr uint32
}

// Descriptor creates the ring descriptor.
func (l QueueLayout) Descriptor(id int, regs hw.Registers) *Descriptor {
	return &Descriptor{
		ID:    id,
		Start: l.Start,
		End:   l.Start + l.Size,
		Head:  hw.Reg(regs, l.HeadAddr),
		Tail:  hw.Reg(regs, l.TailAddr),
	}
}

// Layout places all rings of a backend.
type Layout struct {
	Commands []QueueLayout
	Message  QueueLayout
	// MsgIRQ is the host interrupt raised after a message is posted.
	MsgIRQAddr uint32
	MsgIRQBits uint32
	// MetaOffset is the DMEM offset of the published metadata.
	MetaOffset uint32
}

const metaWords = 5

// MetaSize returns the byte size of the metadata for n queues.
func MetaSize(n int) uint32 {
	return uint32(4 + n*metaWords*4)
}

// WriteMeta publishes queue layouts: a count followed by aperture, start,
// size, head and tail addresses per queue, little-endian words.
func WriteMeta(mem hw.Memory, off uint32, queues []QueueLayout) error {
	buf := make([]byte, MetaSize(len(queues)))
	binary.LittleEndian.PutUint32(buf, uint32(len(queues)))
	for n, q := range queues {
		b := buf[4+n*metaWords*4:]
		binary.LittleEndian.PutUint32(b[0:], q.Aperture)
		binary.LittleEndian.PutUint32(b[4:], q.Start)
		binary.LittleEndian.PutUint32(b[8:], q.Size)
		binary.LittleEndian.PutUint32(b[12:], q.HeadAddr)
		binary.LittleEndian.PutUint32(b[16:], q.TailAddr)
	}
	return mem.WriteAt(off, buf)
}

// ReadMeta reads layouts published by WriteMeta.
func ReadMeta(mem hw.Memory, off uint32) ([]QueueLayout, error) {
	var cnt [4]byte
	if err := mem.ReadAt(off, cnt[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(cnt[:])
	if MetaSize(int(n)) > mem.Size() {
		return nil, fmt.Errorf("metadata count %d: %w", n, ErrInvalidFrame)
	}
	buf := make([]byte, MetaSize(int(n)))
	if err := mem.ReadAt(off, buf); err != nil {
		return nil, err
	}
	queues := make([]QueueLayout, n)
	for i := range queues {
		b := buf[4+i*metaWords*4:]
		queues[i] = QueueLayout{
			Aperture: binary.LittleEndian.Uint32(b[0:]),
			Start:    binary.LittleEndian.Uint32(b[4:]),
			Size:     binary.LittleEndian.Uint32(b[8:]),
			HeadAddr: binary.LittleEndian.Uint32(b[12:]),
			TailAddr: binary.LittleEndian.Uint32(b[16:]),
		}
	}
	return queues, nil
}

// rings is the ring set shared by the backend variants.
type rings struct {
	mem     hw.Memory
	meta    hw.Memory
	layout  Layout
	readers []*Reader
	msg     *Producer
	ready   bool
}

func newRings(mem, meta hw.Memory, regs hw.Registers, layout Layout) *rings {
	r := &rings{mem: mem, meta: meta, layout: layout}
	for n, q := range layout.Commands {
		r.readers = append(r.readers, NewReader(q.Descriptor(n, regs), mem))
	}
	trigger := &Trigger{Reg: hw.Reg(regs, layout.MsgIRQAddr), Bits: layout.MsgIRQBits}
	r.msg = NewProducer(layout.Message.Descriptor(len(layout.Commands), regs), mem, trigger)
	return r
}

func (r *rings) init(aperture uint32) error {
	r.ready = false
	queues := make([]QueueLayout, 0, len(r.readers)+1)
	for n, rd := range r.readers {
		if err := rd.Desc.Reset(r.mem); err != nil {
			return err
		}
		rd.Reset()
		q := r.layout.Commands[n]
		q.Aperture = aperture
		queues = append(queues, q)
	}
	if err := r.msg.Desc.Reset(r.mem); err != nil {
		return err
	}
	r.msg.Reset()
	q := r.layout.Message
	q.Aperture = aperture
	queues = append(queues, q)
	if err := WriteMeta(r.meta, r.layout.MetaOffset, queues); err != nil {
		return err
	}
	r.ready = true
	return nil
}

func (r *rings) reader(id int) (*Reader, error) {
	if !r.ready {
		return nil, ErrNotReady
	}
	if id < 0 || id >= len(r.readers) {
		return nil, fmt.Errorf("queue %d: %w", id, ErrInvalidIndex)
	}
	return r.readers[id], nil
}

func (r *rings) NumQueues() int {
	return len(r.readers)
}

func (r *rings) Pending(id int) (bool, error) {
	rd, err := r.reader(id)
	if err != nil {
		return false, err
	}
	return rd.Pending(), nil
}

func (r *rings) Post(h rpc.Header, payload []byte) error {
	if !r.ready {
		return ErrNotReady
	}
	return r.msg.Post(h, payload)
}
