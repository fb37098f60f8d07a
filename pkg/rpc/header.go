// Package rpc provides the header codec shared by every PMU queue frame.
package rpc

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Wire layout of the header, little-endian:
//
//	[0]    addressee (unit id)
//	[1]    function id
//	[2]    byte size of header + payload
//	[3]    flags
//	[4:6]  sequence id
//	[6:8]  reserved, 0
//	[8:12] timestamp
const (
	HeaderSize = 12
	WordSize   = 4

	// MaxPayloadSize is the largest payload whose frame size fits in 8 bits.
	MaxPayloadSize = 0xff - HeaderSize
)

// Unit ids (addressees).
const (
	// UnitRewind is not an addressee: the producer wrapped to the queue start.
	UnitRewind  uint8 = 0x00
	UnitCmdMgmt uint8 = 0x01
	UnitPerf    uint8 = 0x02
	UnitTherm   uint8 = 0x03
	UnitSec     uint8 = 0x04
)

// Flags.
const (
	// FlagResponse marks a reply to a host command, Seq is the command's.
	FlagResponse uint8 = 0x01
	// FlagEvent marks an unsolicited message.
	FlagEvent uint8 = 0x02
	// FlagAckRequired asks the host to acknowledge the message.
	FlagAckRequired uint8 = 0x04
	// FlagFailed marks a failed reply, the payload starts with a status byte.
	FlagFailed uint8 = 0x80
)

var (
	// ErrShortFrame indicates the bytes are too short for a header or
	// the size declared by it.
	ErrShortFrame = errors.New("short frame")
	// ErrPayloadTooLarge indicates the frame size doesn't fit in the header.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// Header prefixes every frame.
type Header struct {
	Addressee uint8
	Function  uint8
	Size      uint8
	Flags     uint8
	Seq       uint16
	Timestamp uint32
}

// IsRewind indicates the header is the wrap-to-start sentinel.
func (h Header) IsRewind() bool {
	return h.Addressee == UnitRewind
}

// AlignedSize returns Size rounded up to the word size.
func (h Header) AlignedSize() uint32 {
	return AlignUp(uint32(h.Size))
}

// String implements fmt.Stringer.
func (h Header) String() string {
	return fmt.Sprintf("unit=%#02x fn=%#02x size=%d flags=%#02x seq=%d ts=%d",
		h.Addressee, h.Function, h.Size, h.Flags, h.Seq, h.Timestamp)
}

// AlignUp rounds n up to the word size.
func AlignUp(n uint32) uint32 {
	return (n + WordSize - 1) &^ (WordSize - 1)
}

// Put writes the header into b which must have at least HeaderSize bytes.
func (h Header) Put(b []byte) {
	b[0], b[1], b[2], b[3] = h.Addressee, h.Function, h.Size, h.Flags
	binary.LittleEndian.PutUint16(b[4:], h.Seq)
	b[6], b[7] = 0, 0
	binary.LittleEndian.PutUint32(b[8:], h.Timestamp)
}

// Encode stamps h.Size and returns header followed by payload.
func Encode(h Header, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	h.Size = uint8(HeaderSize + len(payload))
	b := make([]byte, HeaderSize+len(payload))
	h.Put(b)
	copy(b[HeaderSize:], payload)
	return b, nil
}

// Decode decodes the header from raw. Any byte pattern decodes,
// only input shorter than a header fails.
func Decode(raw []byte) (h Header, err error) {
	if len(raw) < HeaderSize {
		return h, ErrShortFrame
	}
	h.Addressee, h.Function, h.Size, h.Flags = raw[0], raw[1], raw[2], raw[3]
	h.Seq = binary.LittleEndian.Uint16(raw[4:])
	h.Timestamp = binary.LittleEndian.Uint32(raw[8:])
	return
}

// DecodeFrame decodes the header and slices the payload by the declared size.
func DecodeFrame(raw []byte) (Header, []byte, error) {
	h, err := Decode(raw)
	if err != nil {
		return h, nil, err
	}
	if int(h.Size) < HeaderSize || int(h.Size) > len(raw) {
		return h, nil, ErrShortFrame
	}
	return h, raw[HeaderSize:h.Size], nil
}
