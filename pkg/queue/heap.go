package queue

import (
	"fmt"

	"github.com/golang/glog"

	"github.com/robotalks/pmu.go/pkg/hw"
	"github.com/robotalks/pmu.go/pkg/rpc"
)

// Staging is the DMEM bounce buffer of the HeapBackend.
type Staging struct {
	Offset uint32
	Size   uint32
}

// HeapBackend keeps the rings in off-chip memory (FB) and stages each
// fetched frame into a DMEM bounce buffer before it's dispatched.
// The staged copy is only valid until the next FetchNext.
type HeapBackend struct {
	*rings
	dmem    hw.Memory
	staging Staging
}

// NewHeapBackend creates a HeapBackend.
func NewHeapBackend(fb, dmem hw.Memory, regs hw.Registers, layout Layout, staging Staging) *HeapBackend {
	return &HeapBackend{
		rings:   newRings(fb, dmem, regs, layout),
		dmem:    dmem,
		staging: staging,
	}
}

// Init implements Backend.
func (b *HeapBackend) Init() error {
	if b.staging.Size < rpc.AlignUp(0xff) || b.staging.Offset%rpc.WordSize != 0 {
		return fmt.Errorf("staging %+v: %w", b.staging, ErrInvalidArgument)
	}
	if err := hw.Clear(b.dmem, b.staging.Offset, b.staging.Size); err != nil {
		return err
	}
	return b.init(ApertureFB)
}

// FetchNext implements Backend.
func (b *HeapBackend) FetchNext(id int) (*Frame, error) {
	rd, err := b.reader(id)
	if err != nil {
		return nil, err
	}
	raw, err := rd.Next()
	if err != nil || raw == nil {
		return nil, err
	}
	if err := b.dmem.WriteAt(b.staging.Offset, raw); err != nil {
		return nil, err
	}
	staged := make([]byte, len(raw))
	if err := b.dmem.ReadAt(b.staging.Offset, staged); err != nil {
		return nil, err
	}
	f, err := newFrame(id, staged, SourceStaging, b.staging.Offset)
	if err == nil {
		glog.V(4).Infof("q%d staged %v", id, f.Header)
	}
	return f, err
}
