package queue

import (
	"github.com/golang/glog"

	"github.com/robotalks/pmu.go/pkg/hw"
)

// SharedBackend keeps all rings in DMEM shared with the host.
type SharedBackend struct {
	*rings
}

// NewSharedBackend creates a SharedBackend.
func NewSharedBackend(dmem hw.Memory, regs hw.Registers, layout Layout) *SharedBackend {
	return &SharedBackend{rings: newRings(dmem, dmem, regs, layout)}
}

// Init implements Backend.
func (b *SharedBackend) Init() error {
	return b.init(ApertureDMEM)
}

// FetchNext implements Backend.
func (b *SharedBackend) FetchNext(id int) (*Frame, error) {
	rd, err := b.reader(id)
	if err != nil {
		return nil, err
	}
	raw, err := rd.Next()
	if err != nil || raw == nil {
		return nil, err
	}
	// a rewind may precede the frame, locate it from the advanced cursor.
	f, err := newFrame(id, raw, SourceQueue, rd.Cursor()-alignedLen(raw))
	if err == nil {
		glog.V(4).Infof("q%d fetched %v", id, f.Header)
	}
	return f, err
}
