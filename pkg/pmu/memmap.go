package pmu

import (
	"github.com/robotalks/pmu.go/pkg/hw"
	"github.com/robotalks/pmu.go/pkg/peer"
	"github.com/robotalks/pmu.go/pkg/queue"
	"github.com/robotalks/pmu.go/pkg/rpc"
)

// Memory sizes.
const (
	DMEMSize = 0x10000
	FBSize   = 0x40000
)

// Register addresses.
const (
	// RegCmdIRQStatus is the doorbell, bit n for command queue n.
	RegCmdIRQStatus = 0x000
	RegCmdIRQMask   = 0x004
	// RegHostIRQ is raised after a message is posted.
	RegHostIRQ = 0x008

	RegCmdQueueHead = 0x100 // + 8*n
	RegCmdQueueTail = 0x104 // + 8*n
	RegMsgQueueHead = 0x180
	RegMsgQueueTail = 0x184

	RegFBFLCNMailbox = 0x200
	RegSecMailbox    = 0x210
)

// HostIRQBits is the bit of RegHostIRQ.
const HostIRQBits = 0x1

// NumCommandQueues is the number of command queues. Queue 0 carries the
// command management requests, including the host acknowledgements.
const NumCommandQueues = 2

// DMEM layout.
const (
	MetaOffset    = 0x0000
	StagingOffset = 0x0100
	StagingSize   = 0x0100

	ScratchOffset      = 0x8000
	ScratchSize        = 0x0800
	ScratchElementSize = 0x0100
)

// Ring layout, in DMEM for VariantShared and in FB for VariantHeap.
const (
	CmdQueueOffset = 0x1000 // + CmdQueueSize*n
	CmdQueueSize   = 0x1000
	MsgQueueOffset = CmdQueueOffset + NumCommandQueues*CmdQueueSize
	MsgQueueSize   = 0x2000
)

// QueueLayout returns the layout of all rings.
func QueueLayout() queue.Layout {
	layout := queue.Layout{
		Message: queue.QueueLayout{
			Start:    MsgQueueOffset,
			Size:     MsgQueueSize,
			HeadAddr: RegMsgQueueHead,
			TailAddr: RegMsgQueueTail,
		},
		MsgIRQAddr: RegHostIRQ,
		MsgIRQBits: HostIRQBits,
		MetaOffset: MetaOffset,
	}
	for n := uint32(0); n < NumCommandQueues; n++ {
		layout.Commands = append(layout.Commands, queue.QueueLayout{
			Start:    CmdQueueOffset + n*CmdQueueSize,
			Size:     CmdQueueSize,
			HeadAddr: RegCmdQueueHead + n*8,
			TailAddr: RegCmdQueueTail + n*8,
		})
	}
	return layout
}

// Scratch returns the scratch buffer of a task unit.
func Scratch(unit uint8) queue.Scratch {
	return queue.Scratch{
		Offset:      ScratchOffset + uint32(unit-rpc.UnitCmdMgmt)*ScratchSize,
		Size:        ScratchSize,
		ElementSize: ScratchElementSize,
	}
}

// Mailbox returns the registers of a mailbox at base.
func Mailbox(regs hw.Registers, base uint32) peer.Registers {
	return peer.Registers{
		ReqHead:  hw.Reg(regs, base),
		ReqTail:  hw.Reg(regs, base+4),
		RespHead: hw.Reg(regs, base+8),
		RespTail: hw.Reg(regs, base+12),
	}
}
