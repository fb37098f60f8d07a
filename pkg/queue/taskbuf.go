package queue

import (
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/pmu.go/pkg/hw"
	"github.com/robotalks/pmu.go/pkg/rpc"
)

// MinScratchAlign is the required alignment of a task scratch buffer.
const MinScratchAlign = 16

// Scratch is a task-owned buffer split into fixed size elements.
type Scratch struct {
	Offset      uint32
	Size        uint32
	ElementSize uint32
}

// Elements returns the number of elements.
func (s Scratch) Elements() uint32 {
	if s.ElementSize == 0 {
		return 0
	}
	return s.Size / s.ElementSize
}

type scratchState struct {
	Scratch
	next uint32
}

// TaskBufferBackend copies every fetched frame into the scratch buffer of
// the addressee task, so the frame stays valid after the queue is swept.
// Frames for tasks without scratch fall through with a nil Location.
type TaskBufferBackend struct {
	Backend

	mem     hw.Memory
	scratch map[uint8]*scratchState
	lock    sync.RWMutex
}

// NewTaskBufferBackend wraps a backend.
func NewTaskBufferBackend(backend Backend, dmem hw.Memory) *TaskBufferBackend {
	return &TaskBufferBackend{
		Backend: backend,
		mem:     dmem,
		scratch: make(map[uint8]*scratchState),
	}
}

// AssignScratch assigns the scratch buffer of a task.
func (b *TaskBufferBackend) AssignScratch(addressee uint8, s Scratch) error {
	switch {
	case addressee == rpc.UnitRewind:
		return fmt.Errorf("addressee %#02x: %w", addressee, ErrInvalidArgument)
	case s.Offset%MinScratchAlign != 0:
		return fmt.Errorf("scratch offset %#x not %d-byte aligned: %w", s.Offset, MinScratchAlign, ErrInvalidArgument)
	case s.ElementSize == 0 || s.ElementSize%rpc.WordSize != 0:
		return fmt.Errorf("element size %d: %w", s.ElementSize, ErrInvalidArgument)
	case s.ElementSize > s.Size:
		return fmt.Errorf("element size %d exceeds scratch size %d: %w", s.ElementSize, s.Size, ErrInvalidArgument)
	case uint64(s.Offset)+uint64(s.Size) > uint64(b.mem.Size()):
		return fmt.Errorf("scratch [%#x, +%d): %w", s.Offset, s.Size, hw.ErrOutOfBounds)
	}
	b.lock.Lock()
	b.scratch[addressee] = &scratchState{Scratch: s}
	b.lock.Unlock()
	return nil
}

// Init implements Backend.
func (b *TaskBufferBackend) Init() error {
	b.lock.Lock()
	for _, st := range b.scratch {
		if err := hw.Clear(b.mem, st.Offset, st.Size); err != nil {
			b.lock.Unlock()
			return err
		}
		st.next = 0
	}
	b.lock.Unlock()
	return b.Backend.Init()
}

// FetchNext implements Backend.
func (b *TaskBufferBackend) FetchNext(id int) (*Frame, error) {
	f, err := b.Backend.FetchNext(id)
	if err != nil || f == nil {
		return f, err
	}
	b.lock.RLock()
	st := b.scratch[f.Header.Addressee]
	b.lock.RUnlock()
	if st == nil {
		return f, nil
	}
	if uint32(len(f.Raw)) > st.ElementSize {
		// the frame is consumed from the queue already, it's lost.
		glog.Errorf("q%d %v dropped: element size %d", id, f.Header, st.ElementSize)
		return nil, fmt.Errorf("q%d frame size %d: %w", id, len(f.Raw), ErrScratchTooSmall)
	}
	index := st.next
	st.next = (st.next + 1) % st.Elements()
	off := st.Offset + index*st.ElementSize
	if err := b.mem.WriteAt(off, f.Raw); err != nil {
		return nil, err
	}
	raw := make([]byte, len(f.Raw))
	if err := b.mem.ReadAt(off, raw); err != nil {
		return nil, err
	}
	h, payload, err := rpc.DecodeFrame(raw)
	if err != nil {
		return nil, fmt.Errorf("q%d: %v: %w", id, err, ErrInvalidFrame)
	}
	return &Frame{
		Queue:   id,
		Header:  h,
		Payload: payload,
		Raw:     raw,
		Source:  SourceScratch,
		Offset:  off,
		Location: &Location{
			Index:         index,
			ElementSize:   st.ElementSize,
			ScratchOffset: st.Offset,
			ScratchSize:   st.Size,
		},
	}, nil
}
