package hw

// NoMask marks an interrupt line without a mask register.
const NoMask uint32 = 0xffffffff

// Interrupt is a level-triggered interrupt line raised when
// status&mask != 0. Wake-ups are coalesced: receivers must re-check
// the status after waking.
type Interrupt struct {
	Status Register
	Mask   Register
	Bits   uint32

	ch       chan struct{}
	doorbell chan struct{}
}

// NewInterrupt creates an Interrupt watching the status and mask registers.
// Pass NoMask as maskAddr for an unmasked line.
func NewInterrupt(rf *RegisterFile, statusAddr, maskAddr, bits uint32) *Interrupt {
	irq := &Interrupt{
		Status: Reg(rf, statusAddr),
		Bits:     bits,
		ch:       make(chan struct{}, 1),
		doorbell: make(chan struct{}, 1),
	}
	rf.Watch(statusAddr, irq.ring)
	rf.Watch(statusAddr, irq.check)
	if maskAddr != NoMask {
		irq.Mask = Reg(rf, maskAddr)
		rf.Watch(maskAddr, irq.check)
	}
	return irq
}

// C returns the wake-up channel.
func (i *Interrupt) C() <-chan struct{} {
	return i.ch
}

// Doorbell returns a channel woken by every status write leaving an
// interrupt bit set, masked or not. It's coalesced like C.
func (i *Interrupt) Doorbell() <-chan struct{} {
	return i.doorbell
}

// Pending returns the unmasked pending bits.
func (i *Interrupt) Pending() uint32 {
	pending := i.Status.Get() & i.Bits
	if i.Mask.Regs != nil {
		pending &= i.Mask.Get()
	}
	return pending
}

func (i *Interrupt) ring(_, val uint32) {
	if val&i.Bits != 0 {
		select {
		case i.doorbell <- struct{}{}:
		default:
		}
	}
}

func (i *Interrupt) check(uint32, uint32) {
	if i.Pending() != 0 {
		i.Raise()
	}
}

// Raise wakes up the receiver regardless of the status.
func (i *Interrupt) Raise() {
	select {
	case i.ch <- struct{}{}:
	default:
	}
}
