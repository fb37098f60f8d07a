package hw

import (
	"fmt"
	"sync"
)

// Registers reads and writes 32-bit registers at physical addresses.
type Registers interface {
	Read32(addr uint32) uint32
	Write32(addr uint32, val uint32)
	// Modify32 atomically replaces the register with fn(old) and
	// returns the new value.
	Modify32(addr uint32, fn func(uint32) uint32) uint32
}

// Register is a handle to a single register.
type Register struct {
	Regs Registers
	Addr uint32
}

// Reg creates a Register handle.
func Reg(regs Registers, addr uint32) Register {
	return Register{Regs: regs, Addr: addr}
}

// Get reads the register.
func (r Register) Get() uint32 {
	return r.Regs.Read32(r.Addr)
}

// Set writes the register.
func (r Register) Set(val uint32) {
	r.Regs.Write32(r.Addr, val)
}

// HasBits checks if all bits in mask are set.
func (r Register) HasBits(mask uint32) bool {
	return r.Get()&mask == mask
}

// SetBits sets bits in mask and keeps the others.
func (r Register) SetBits(mask uint32) uint32 {
	return r.Regs.Modify32(r.Addr, func(v uint32) uint32 { return v | mask })
}

// ClearBits clears bits in mask and keeps the others.
func (r Register) ClearBits(mask uint32) uint32 {
	return r.Regs.Modify32(r.Addr, func(v uint32) uint32 { return v &^ mask })
}

// String implements fmt.Stringer.
func (r Register) String() string {
	return fmt.Sprintf("reg@%#x", r.Addr)
}

// WatchFunc is called after a register is written.
type WatchFunc func(addr, val uint32)

// RegisterFile is an in-memory Registers.
type RegisterFile struct {
	regs     map[uint32]uint32
	watchers map[uint32][]WatchFunc
	lock     sync.Mutex
}

// NewRegisterFile creates an empty RegisterFile, all registers read 0.
func NewRegisterFile() *RegisterFile {
	return &RegisterFile{
		regs:     make(map[uint32]uint32),
		watchers: make(map[uint32][]WatchFunc),
	}
}

// Watch installs a watcher invoked after every write to addr.
// Watchers run outside the register lock and may access registers.
func (f *RegisterFile) Watch(addr uint32, fn WatchFunc) {
	f.lock.Lock()
	f.watchers[addr] = append(f.watchers[addr], fn)
	f.lock.Unlock()
}

// Read32 implements Registers.
func (f *RegisterFile) Read32(addr uint32) uint32 {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.regs[addr]
}

// Write32 implements Registers.
func (f *RegisterFile) Write32(addr uint32, val uint32) {
	f.lock.Lock()
	f.regs[addr] = val
	watchers := f.watchers[addr]
	f.lock.Unlock()
	for _, fn := range watchers {
		fn(addr, val)
	}
}

// Modify32 implements Registers.
func (f *RegisterFile) Modify32(addr uint32, fn func(uint32) uint32) uint32 {
	f.lock.Lock()
	val := fn(f.regs[addr])
	f.regs[addr] = val
	watchers := f.watchers[addr]
	f.lock.Unlock()
	for _, w := range watchers {
		w(addr, val)
	}
	return val
}
