package rpc

// Functions of UnitCmdMgmt.
const (
	// FuncPing echoes the payload.
	FuncPing uint8 = 0x01
	// FuncAck acknowledges a message with FlagAckRequired.
	// Payload: u16 seq, u8 flags of the acknowledged message.
	FuncAck uint8 = 0x02
	// FuncSecPing pings the secure coprocessor.
	FuncSecPing uint8 = 0x03
	// FuncQueryStats replies the command processor counters.
	FuncQueryStats uint8 = 0x04
	// FuncPeerReset abandons the request in flight on a peer channel.
	// Payload: optional u8 channel, 1 for FBFLCN (default), 2 for secure.
	FuncPeerReset uint8 = 0x05
)

// FuncSignal is the event any unit posts for a signal raised to it.
// Payload: u32 signal bits.
const FuncSignal uint8 = 0x7f

// Functions of UnitPerf.
const (
	// FuncMclkSwitch switches the memory clock. Payload: u32 kHz.
	FuncMclkSwitch uint8 = 0x01
	// FuncHaltNotify notifies the memory controller of a halt.
	FuncHaltNotify uint8 = 0x02
	// FuncPerfSample is the periodic performance sample event.
	FuncPerfSample uint8 = 0x03
	// FuncTrainingStatus queries the memory training status.
	FuncTrainingStatus uint8 = 0x04
)

// UnitName returns a printable name of the unit.
func UnitName(unit uint8) string {
	switch unit {
	case UnitRewind:
		return "rewind"
	case UnitCmdMgmt:
		return "cmdmgmt"
	case UnitPerf:
		return "perf"
	case UnitTherm:
		return "therm"
	case UnitSec:
		return "sec"
	}
	return "unknown"
}
