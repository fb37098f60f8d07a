// Package peer implements the mailbox channel to the FBFLCN, the memory
// controller microcontroller. A request or response is a pair of 32-bit
// registers: the head word carries the sequence, the command and a 16-bit
// argument, the tail word a 32-bit argument. Writing the head word raises
// the interrupt of the other side.
package peer

import "fmt"

// Command is the id of a mailbox command.
type Command uint8

// Commands known by both sides.
const (
	CmdMclkSwitch Command = iota
	CmdHaltNotify
	CmdPing
	CmdTrainingStatus
)

// MaxCommand is the largest command id fitting in 7 bits.
const MaxCommand Command = 0x7f

func (c Command) String() string {
	switch c {
	case CmdMclkSwitch:
		return "mclk-switch"
	case CmdHaltNotify:
		return "halt-notify"
	case CmdPing:
		return "ping"
	case CmdTrainingStatus:
		return "training-status"
	}
	return fmt.Sprintf("cmd(%#02x)", uint8(c))
}

// Response status in Data16 for commands without a return value.
const (
	StatusOK          uint16 = 0
	StatusUnsupported uint16 = 0xffff
)

// Head word layout.
const (
	seqMask     = 0xff
	cmdShift    = 8
	cmdMask     = 0x7f
	cyaBit      = 1 << 15
	data16Shift = 16
)

// Message is a decoded request or response.
type Message struct {
	Seq    uint8
	Cmd    Command
	CYA    bool
	Data16 uint16
	Data32 uint32
}

// Pack encodes the message into head and tail words. CYA is flipped when
// the two words would be identical, as writing the same value to both
// registers wouldn't raise the interrupt.
func (m Message) Pack() (head, tail uint32) {
	head = uint32(m.Seq) |
		uint32(m.Cmd&cmdMask)<<cmdShift |
		uint32(m.Data16)<<data16Shift
	if m.CYA {
		head |= cyaBit
	}
	tail = m.Data32
	if head == tail {
		head ^= cyaBit
	}
	return
}

// Unpack decodes the head and tail words.
func Unpack(head, tail uint32) Message {
	return Message{
		Seq:    uint8(head & seqMask),
		Cmd:    Command((head >> cmdShift) & cmdMask),
		CYA:    head&cyaBit != 0,
		Data16: uint16(head >> data16Shift),
		Data32: tail,
	}
}

func (m Message) String() string {
	return fmt.Sprintf("seq=%d %v d16=%#04x d32=%#08x", m.Seq, m.Cmd, m.Data16, m.Data32)
}
