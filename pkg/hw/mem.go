package hw

import (
	"errors"
	"sync"
)

var (
	// ErrOutOfBounds indicates an access beyond the memory size.
	ErrOutOfBounds = errors.New("offset out of bounds")
)

// Memory abstracts a memory aperture shared with another processor,
// e.g. DMEM or the off-chip frame buffer.
type Memory interface {
	Size() uint32
	ReadAt(off uint32, p []byte) error
	WriteAt(off uint32, p []byte) error
}

// RAM is an in-memory Memory.
type RAM struct {
	buf  []byte
	lock sync.RWMutex
}

// NewRAM creates a RAM of size bytes.
func NewRAM(size uint32) *RAM {
	return &RAM{buf: make([]byte, size)}
}

// Size implements Memory.
func (m *RAM) Size() uint32 {
	return uint32(len(m.buf))
}

// ReadAt implements Memory.
func (m *RAM) ReadAt(off uint32, p []byte) error {
	if !inBounds(off, len(p), len(m.buf)) {
		return ErrOutOfBounds
	}
	m.lock.RLock()
	copy(p, m.buf[off:])
	m.lock.RUnlock()
	return nil
}

// WriteAt implements Memory.
func (m *RAM) WriteAt(off uint32, p []byte) error {
	if !inBounds(off, len(p), len(m.buf)) {
		return ErrOutOfBounds
	}
	m.lock.Lock()
	copy(m.buf[off:], p)
	m.lock.Unlock()
	return nil
}

// Clear zeroes n bytes from off.
func Clear(m Memory, off, n uint32) error {
	return m.WriteAt(off, make([]byte, n))
}

func inBounds(off uint32, n, size int) bool {
	return uint64(off)+uint64(n) <= uint64(size)
}
