package peer

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/pmu.go/pkg/hw"
	"github.com/robotalks/pmu.go/pkg/rtos"
)

func testRegs(rf hw.Registers) Registers {
	return Registers{
		ReqHead:  hw.Reg(rf, 0x00),
		ReqTail:  hw.Reg(rf, 0x04),
		RespHead: hw.Reg(rf, 0x08),
		RespTail: hw.Reg(rf, 0x0c),
	}
}

func TestPackNeverCollides(t *testing.T) {
	check := func(m Message) {
		head, tail := m.Pack()
		require.NotEqual(t, head, tail, "%v", m)
		u := Unpack(head, tail)
		require.Equal(t, m.Seq, u.Seq)
		require.Equal(t, m.Cmd, u.Cmd)
		require.Equal(t, m.Data16, u.Data16)
		require.Equal(t, m.Data32, u.Data32)
	}
	rnd := rand.New(rand.NewSource(1))
	for seq := 0; seq < 0x100; seq++ {
		for cmd := Command(0); cmd <= MaxCommand; cmd++ {
			for _, cya := range []bool{false, true} {
				m := Message{Seq: uint8(seq), Cmd: cmd, CYA: cya, Data16: uint16(rnd.Intn(0x10000))}
				// the colliding tail.
				m.Data32, _ = m.Pack()
				check(m)
				m.Data32 = rnd.Uint32()
				check(m)
			}
		}
	}
	for data16 := 0; data16 < 0x10000; data16++ {
		m := Message{Seq: uint8(data16), Cmd: Command(data16) & MaxCommand, Data16: uint16(data16)}
		m.Data32, _ = m.Pack()
		check(m)
	}
}

func TestUnpack(t *testing.T) {
	m := Unpack(0x12348342, 0xdeadbeef)
	require.Equal(t, Message{Seq: 0x42, Cmd: 0x03, CYA: true, Data16: 0x1234, Data32: 0xdeadbeef}, m)
	head, tail := m.Pack()
	require.Equal(t, uint32(0x12348342), head)
	require.Equal(t, uint32(0xdeadbeef), tail)
}

func TestOpen(t *testing.T) {
	ch := NewChannel("fbflcn", testRegs(hw.NewRegisterFile()))
	r, err := ch.Open()
	require.NoError(t, err)
	_, err = ch.Open()
	require.True(t, errors.Is(err, ErrOwned))
	require.NoError(t, r.Close())
	r2, err := ch.Open()
	require.NoError(t, err)

	// the closed requester can't issue requests nor release r2.
	_, err = r.PostRequest(CmdPing, 0, 0)
	require.True(t, errors.Is(err, ErrClosed))
	require.False(t, ch.InFlight())
	require.True(t, errors.Is(r.Wait(time.Millisecond), ErrClosed))
	_, err = r.GetResponse()
	require.True(t, errors.Is(err, ErrClosed))
	_, err = r.Call(CmdPing, 0, 0, time.Millisecond)
	require.True(t, errors.Is(err, ErrClosed))
	require.True(t, errors.Is(r.Reset(), ErrClosed))
	require.True(t, errors.Is(r.Close(), ErrClosed))
	_, err = ch.Open()
	require.True(t, errors.Is(err, ErrOwned))

	_, err = r2.PostRequest(CmdPing, 0, 0)
	require.NoError(t, err)
	require.True(t, ch.InFlight())
	require.NoError(t, r2.Close())
	r3, err := ch.Open()
	require.NoError(t, err)
	require.True(t, ch.InFlight())
	require.NoError(t, r3.Reset())
	require.False(t, ch.InFlight())
}

type fakePeer struct {
	t    *testing.T
	rf   *hw.RegisterFile
	regs Registers
}

func newFakePeer(t *testing.T) (*fakePeer, *Requester) {
	p := &fakePeer{t: t, rf: hw.NewRegisterFile()}
	p.regs = testRegs(p.rf)
	ch := NewChannel("fbflcn", p.regs)
	ch.NotifyOn(p.rf)
	r, err := ch.Open()
	require.NoError(t, err)
	return p, r
}

func (p *fakePeer) request() Message {
	return Unpack(p.regs.ReqHead.Get(), p.regs.ReqTail.Get())
}

func (p *fakePeer) respond(m Message) {
	head, tail := m.Pack()
	p.regs.RespTail.Set(tail)
	p.regs.RespHead.Set(head)
}

func TestCall(t *testing.T) {
	p, r := newFakePeer(t)
	var tailAtHead uint32
	p.rf.Watch(p.regs.ReqHead.Addr, func(uint32, uint32) {
		tailAtHead = p.regs.ReqTail.Get()
		req := p.request()
		go p.respond(Message{Seq: req.Seq, Cmd: req.Cmd, Data16: 7, Data32: req.Data32 + 1})
	})
	resp, err := r.Call(CmdMclkSwitch, 1, 800000, time.Second)
	require.NoError(t, err)
	require.Equal(t, uint32(800000), tailAtHead)
	require.Equal(t, uint16(7), resp.Data16)
	require.Equal(t, uint32(800001), resp.Data32)
	require.False(t, r.Channel().InFlight())

	resp, err = r.Call(CmdPing, 0, 0, time.Second)
	require.NoError(t, err)
	require.Equal(t, uint8(2), resp.Seq)
}

func TestAtMostOneInFlight(t *testing.T) {
	p, r := newFakePeer(t)

	// after a post.
	seq, err := r.PostRequest(CmdPing, 0, 0)
	require.NoError(t, err)
	_, err = r.PostRequest(CmdPing, 0, 0)
	require.True(t, errors.Is(err, ErrInvalidState))

	// after a timeout.
	require.Equal(t, rtos.ErrTimeout, r.Wait(time.Millisecond))
	_, err = r.PostRequest(CmdHaltNotify, 0, 0)
	require.True(t, errors.Is(err, ErrInvalidState))

	// after a mismatched response.
	p.respond(Message{Seq: seq + 1, Cmd: CmdPing})
	_, err = r.GetResponse()
	require.True(t, errors.Is(err, ErrInvalidState))
	_, err = r.PostRequest(CmdPing, 0, 0)
	require.True(t, errors.Is(err, ErrInvalidState))

	// the matched response ends it.
	p.respond(Message{Seq: seq, Cmd: CmdPing})
	_, err = r.GetResponse()
	require.NoError(t, err)
	_, err = r.PostRequest(CmdPing, 0, 0)
	require.NoError(t, err)
}

func TestSeqMismatch(t *testing.T) {
	p, r := newFakePeer(t)
	seq, err := r.PostRequest(CmdMclkSwitch, 0x1234, 0xDEADBEEF)
	require.NoError(t, err)
	req := p.request()
	require.Equal(t, Message{Seq: seq, Cmd: CmdMclkSwitch, Data16: 0x1234, Data32: 0xDEADBEEF}, req)

	req.Seq ^= 0xff
	p.respond(req)
	require.NoError(t, r.Wait(time.Second))
	_, err = r.GetResponse()
	require.True(t, errors.Is(err, ErrInvalidState))
	require.False(t, errors.Is(err, rtos.ErrTimeout))
	require.True(t, r.Channel().InFlight())
}

func TestCmdMismatch(t *testing.T) {
	p, r := newFakePeer(t)
	seq, err := r.PostRequest(CmdHaltNotify, 0, 0)
	require.NoError(t, err)
	p.respond(Message{Seq: seq, Cmd: CmdPing})
	_, err = r.GetResponse()
	require.True(t, errors.Is(err, ErrInvalidIndex))
	require.True(t, r.Channel().InFlight())
}

func TestTimeout(t *testing.T) {
	_, r := newFakePeer(t)
	_, err := r.Call(CmdPing, 1, 2, 10*time.Millisecond)
	require.Equal(t, rtos.ErrTimeout, err)
	require.False(t, errors.Is(err, ErrInvalidState))
	require.False(t, errors.Is(err, ErrInvalidIndex))
	require.True(t, r.Channel().InFlight())
}

func TestReset(t *testing.T) {
	p, r := newFakePeer(t)
	seq, err := r.PostRequest(CmdPing, 0, 0)
	require.NoError(t, err)
	require.Equal(t, rtos.ErrTimeout, r.Wait(time.Millisecond))
	// the late response arrives before the reset.
	p.respond(Message{Seq: seq, Cmd: CmdPing})
	r.Reset()
	require.False(t, r.Channel().InFlight())
	// its notification is gone.
	_, err = r.PostRequest(CmdPing, 0, 0)
	require.NoError(t, err)
	require.Equal(t, rtos.ErrTimeout, r.Wait(time.Millisecond))
	_, err = r.GetResponse()
	require.True(t, errors.Is(err, ErrInvalidState))
}

func TestInvalidCommand(t *testing.T) {
	_, r := newFakePeer(t)
	_, err := r.PostRequest(MaxCommand+1, 0, 0)
	require.True(t, errors.Is(err, ErrInvalidArgument))
	require.False(t, r.Channel().InFlight())
}
