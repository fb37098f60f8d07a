package msgs

import (
	"fmt"

	"github.com/golang/protobuf/proto"

	"github.com/robotalks/pmu.go/pkg/rpc"
)

// Frame is an RPC frame. From a client it's a command for Queue, from the
// server it's a message posted by the PMU.
type Frame struct {
	Queue     uint32 `protobuf:"varint,1,opt,name=queue,proto3" json:"queue,omitempty"`
	Unit      uint32 `protobuf:"varint,2,opt,name=unit,proto3" json:"unit,omitempty"`
	Function  uint32 `protobuf:"varint,3,opt,name=function,proto3" json:"function,omitempty"`
	Flags     uint32 `protobuf:"varint,4,opt,name=flags,proto3" json:"flags,omitempty"`
	Seq       uint32 `protobuf:"varint,5,opt,name=seq,proto3" json:"seq,omitempty"`
	Timestamp uint32 `protobuf:"varint,6,opt,name=timestamp,proto3" json:"timestamp,omitempty"`
	Payload   []byte `protobuf:"bytes,7,opt,name=payload,proto3" json:"payload,omitempty"`
}

// FrameFrom converts an RPC header and payload.
func FrameFrom(h rpc.Header, payload []byte) *Frame {
	return &Frame{
		Unit:      uint32(h.Addressee),
		Function:  uint32(h.Function),
		Flags:     uint32(h.Flags),
		Seq:       uint32(h.Seq),
		Timestamp: h.Timestamp,
		Payload:   payload,
	}
}

// Header returns the RPC header of the frame.
func (m *Frame) Header() rpc.Header {
	return rpc.Header{
		Addressee: uint8(m.Unit),
		Function:  uint8(m.Function),
		Size:      uint8(rpc.HeaderSize + len(m.Payload)),
		Flags:     uint8(m.Flags),
		Seq:       uint16(m.Seq),
		Timestamp: m.Timestamp,
	}
}

// IsReply indicates the frame is the response to the command with seq.
func (m *Frame) IsReply(seq uint32) bool {
	return m.Flags&uint32(rpc.FlagResponse) != 0 && m.Seq == seq
}

// Err returns the error carried by a failed reply.
func (m *Frame) Err() error {
	return rpc.ReplyError(m.Header(), m.Payload)
}

// ProtoMessage implements proto.Message.
func (m *Frame) ProtoMessage() {}

// Reset implements proto.Message.
func (m *Frame) Reset() { *m = Frame{} }

// String implements proto.Message.
func (m *Frame) String() string { return proto.CompactTextString(m) }

// Status is the server's answer to a command: the host sequence stamped
// when it's queued, or the reason it's rejected.
type Status struct {
	Tag     uint32 `protobuf:"varint,1,opt,name=tag,proto3" json:"tag,omitempty"`
	Seq     uint32 `protobuf:"varint,2,opt,name=seq,proto3" json:"seq,omitempty"`
	Code    uint32 `protobuf:"varint,3,opt,name=code,proto3" json:"code,omitempty"`
	Message string `protobuf:"bytes,4,opt,name=message,proto3" json:"message,omitempty"`
}

// ProtoMessage implements proto.Message.
func (m *Status) ProtoMessage() {}

// Reset implements proto.Message.
func (m *Status) Reset() { *m = Status{} }

// String implements proto.Message.
func (m *Status) String() string { return proto.CompactTextString(m) }

// Error implements error.
func (m *Status) Error() string {
	return fmt.Sprintf("rejected (%d): %s", m.Code, m.Message)
}

// Packet is the unit on the wire.
type Packet struct {
	// Tag matches a command and its Status, 0 for PMU messages.
	Tag    uint32  `protobuf:"varint,1,opt,name=tag,proto3" json:"tag,omitempty"`
	Frame  *Frame  `protobuf:"bytes,2,opt,name=frame,proto3" json:"frame,omitempty"`
	Status *Status `protobuf:"bytes,3,opt,name=status,proto3" json:"status,omitempty"`
}

// ProtoMessage implements proto.Message.
func (m *Packet) ProtoMessage() {}

// Reset implements proto.Message.
func (m *Packet) Reset() { *m = Packet{} }

// String implements proto.Message.
func (m *Packet) String() string { return proto.CompactTextString(m) }

// Encode encodes the packet.
func (m *Packet) Encode() ([]byte, error) {
	return proto.Marshal(m)
}

// Decode decodes a packet.
func Decode(pkt []byte) (*Packet, error) {
	var m Packet
	if err := proto.Unmarshal(pkt, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
