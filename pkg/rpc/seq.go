package rpc

import (
	"encoding/binary"
	"fmt"
)

// Seq is the sequence number of a logical channel.
// 0 is never used so a zeroed header is never a valid reply.
type Seq uint16

// Next calculates the next sequence number.
func (s Seq) Next() Seq {
	n := uint16(s) + 1
	if n == 0 {
		n = 1
	}
	return Seq(n)
}

// IsValid checks if it's a valid sequence number.
func (s Seq) IsValid() bool {
	return s != 0
}

// Counter hands out sequence numbers of one channel.
// It's not safe for concurrent use.
type Counter struct {
	last Seq
}

// Next advances the counter and returns the new sequence number.
func (c *Counter) Next() uint16 {
	c.last = c.last.Next()
	return uint16(c.last)
}

// Status codes carried in the first payload byte of a FlagFailed reply.
const (
	StatusOK          uint8 = 0x00
	StatusUnsupported uint8 = 0x01
	StatusBadArgs     uint8 = 0x02
	StatusPeerError   uint8 = 0x03
	StatusTimeout     uint8 = 0x04
	StatusNoChannel   uint8 = 0x05
	StatusBusy        uint8 = 0x06
	StatusInternal    uint8 = 0x07
)

// StatusError is the error carried by a FlagFailed reply.
type StatusError struct {
	Code uint8
}

// Error implements error.
func (e *StatusError) Error() string {
	switch e.Code {
	case StatusUnsupported:
		return "unsupported"
	case StatusBadArgs:
		return "bad arguments"
	case StatusPeerError:
		return "peer error"
	case StatusTimeout:
		return "timeout"
	case StatusNoChannel:
		return "no channel"
	case StatusBusy:
		return "busy"
	case StatusInternal:
		return "internal error"
	}
	return fmt.Sprintf("status %#02x", e.Code)
}

// ReplyError extracts the error from a reply, nil if the reply succeeded.
func ReplyError(h Header, payload []byte) error {
	if h.Flags&FlagFailed == 0 {
		return nil
	}
	if len(payload) == 0 {
		return &StatusError{Code: 0xff}
	}
	return &StatusError{Code: payload[0]}
}

// U16 reads a little-endian uint16 at off, 0 if out of range.
func U16(p []byte, off int) uint16 {
	if off < 0 || off+2 > len(p) {
		return 0
	}
	return binary.LittleEndian.Uint16(p[off:])
}

// U32 reads a little-endian uint32 at off, 0 if out of range.
func U32(p []byte, off int) uint32 {
	if off < 0 || off+4 > len(p) {
		return 0
	}
	return binary.LittleEndian.Uint32(p[off:])
}

// PutU16 appends a little-endian uint16.
func PutU16(p []byte, v uint16) []byte {
	return append(p, byte(v), byte(v>>8))
}

// PutU32 appends a little-endian uint32.
func PutU32(p []byte, v uint32) []byte {
	return append(p, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
