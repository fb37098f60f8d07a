package rpc

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSeq(t *testing.T) {
	require.False(t, Seq(0).IsValid())
	require.Equal(t, Seq(1), Seq(0).Next())
	require.Equal(t, Seq(1), Seq(0xffff).Next())
	for s := uint16(1); s < 0xffff; s++ {
		require.True(t, Seq(s).IsValid())
		require.Equal(t, Seq(s+1), Seq(s).Next())
	}

	var c Counter
	require.Equal(t, uint16(1), c.Next())
	require.Equal(t, uint16(2), c.Next())
}

func TestAlignUp(t *testing.T) {
	testCases := []struct {
		in, out uint32
	}{
		{0, 0}, {1, 4}, {4, 4}, {5, 8}, {12, 12}, {13, 16}, {255, 256},
	}
	for _, tc := range testCases {
		require.Equalf(t, tc.out, AlignUp(tc.in), "AlignUp(%d)", tc.in)
	}
}

func TestEncode(t *testing.T) {
	raw, err := Encode(Header{
		Addressee: UnitPerf,
		Function:  0x10,
		Size:      0x99, // overwritten
		Flags:     FlagEvent,
		Seq:       0x0201,
		Timestamp: 0x06050403,
	}, []byte{0xaa, 0xbb})
	require.NoError(t, err)
	require.Equal(t, []byte{
		0x02, 0x10, 14, 0x02,
		0x01, 0x02, 0, 0,
		0x03, 0x04, 0x05, 0x06,
		0xaa, 0xbb,
	}, raw)

	_, err = Encode(Header{}, make([]byte, MaxPayloadSize+1))
	require.Equal(t, ErrPayloadTooLarge, err)
	raw, err = Encode(Header{}, make([]byte, MaxPayloadSize))
	require.NoError(t, err)
	require.Equal(t, uint8(0xff), raw[2])
}

func TestRoundTrip(t *testing.T) {
	check := func(h Header, payload []byte) {
		raw, err := Encode(h, payload)
		require.NoError(t, err)
		dh, dp, err := DecodeFrame(raw)
		require.NoError(t, err)
		h.Size = uint8(HeaderSize + len(payload))
		require.Equal(t, h, dh)
		require.Equal(t, len(payload), len(dp))
		if len(payload) > 0 {
			require.Equal(t, payload, dp)
		}
	}

	// full 8-bit ranges of the byte fields.
	for v := 0; v < 0x100; v++ {
		b := uint8(v)
		check(Header{Addressee: b, Function: ^b, Flags: b}, nil)
	}
	// full 16-bit range of the sequence id.
	for s := 0; s <= 0xffff; s++ {
		check(Header{Addressee: UnitPerf, Seq: uint16(s)}, []byte{byte(s)})
	}
	// sampled 32-bit timestamps, random payloads of every length.
	rnd := rand.New(rand.NewSource(1))
	for n := 0; n <= MaxPayloadSize; n++ {
		payload := make([]byte, n)
		rnd.Read(payload)
		check(Header{
			Addressee: uint8(rnd.Intn(0x100)),
			Function:  uint8(rnd.Intn(0x100)),
			Flags:     uint8(rnd.Intn(0x100)),
			Seq:       uint16(rnd.Intn(0x10000)),
			Timestamp: rnd.Uint32(),
		}, payload)
	}
	check(Header{Timestamp: 0xffffffff}, nil)
}

func TestDecodeGarbage(t *testing.T) {
	rnd := rand.New(rand.NewSource(2))
	for n := 0; n < 64; n++ {
		for i := 0; i < 32; i++ {
			raw := make([]byte, n)
			rnd.Read(raw)
			h, err := Decode(raw)
			if n < HeaderSize {
				require.Equal(t, ErrShortFrame, err)
				continue
			}
			require.NoError(t, err)
			_, payload, err := DecodeFrame(raw)
			if int(h.Size) < HeaderSize || int(h.Size) > n {
				require.Equal(t, ErrShortFrame, err)
			} else {
				require.NoError(t, err)
				require.Len(t, payload, int(h.Size)-HeaderSize)
			}
		}
	}
}

func TestReplyError(t *testing.T) {
	require.NoError(t, ReplyError(Header{Flags: FlagResponse}, nil))
	err := ReplyError(Header{Flags: FlagResponse | FlagFailed}, []byte{StatusTimeout})
	require.Equal(t, &StatusError{Code: StatusTimeout}, err)
	require.Equal(t, "timeout", err.Error())
	require.Equal(t, &StatusError{Code: 0xff}, ReplyError(Header{Flags: FlagFailed}, nil))
}

func TestPutGet(t *testing.T) {
	p := PutU32(PutU16(nil, 0x1234), 0xdeadbeef)
	require.Equal(t, uint16(0x1234), U16(p, 0))
	require.Equal(t, uint32(0xdeadbeef), U32(p, 2))
	require.Equal(t, uint32(0), U32(p, 4))
	require.Equal(t, uint16(0), U16(p, -1))
}
