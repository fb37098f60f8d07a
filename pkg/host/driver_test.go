package host

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/pmu.go/pkg/hw"
	"github.com/robotalks/pmu.go/pkg/queue"
	"github.com/robotalks/pmu.go/pkg/rpc"
)

const (
	doorbellAddr = 0x00
	irqAddr      = 0x30
)

func setup(t *testing.T) (*queue.SharedBackend, *Driver, *hw.RegisterFile) {
	rf, mem := hw.NewRegisterFile(), hw.NewRAM(0x1000)
	layout := queue.Layout{
		Commands: []queue.QueueLayout{
			{Start: 0x100, Size: 0x100, HeadAddr: 0x10, TailAddr: 0x14},
			{Start: 0x200, Size: 0x100, HeadAddr: 0x18, TailAddr: 0x1c},
		},
		Message:    queue.QueueLayout{Start: 0x300, Size: 0x100, HeadAddr: 0x20, TailAddr: 0x24},
		MsgIRQAddr: irqAddr,
		MsgIRQBits: 0x1,
		MetaOffset: 0x40,
	}
	backend := queue.NewSharedBackend(mem, rf, layout)
	_, err := Attach(Config{DMEM: mem, Regs: rf, MetaOffset: layout.MetaOffset})
	require.True(t, errors.Is(err, queue.ErrNotReady))

	require.NoError(t, backend.Init())
	d, err := Attach(Config{
		DMEM:         mem,
		Regs:         rf,
		MetaOffset:   layout.MetaOffset,
		DoorbellAddr: doorbellAddr,
		IRQAddr:      irqAddr,
		IRQBits:      0x1,
	})
	require.NoError(t, err)
	require.Equal(t, 2, d.NumQueues())
	return backend, d, rf
}

func TestSend(t *testing.T) {
	backend, d, rf := setup(t)
	seq, err := d.Send(1, rpc.Header{Addressee: rpc.UnitPerf, Function: 2}, []byte{7})
	require.NoError(t, err)
	require.Equal(t, uint16(1), seq)
	require.Equal(t, uint32(0x2), rf.Read32(doorbellAddr))

	f, err := backend.FetchNext(1)
	require.NoError(t, err)
	require.Equal(t, uint16(1), f.Header.Seq)
	require.Equal(t, []byte{7}, f.Payload)

	_, err = d.Send(2, rpc.Header{Addressee: rpc.UnitPerf}, nil)
	require.True(t, errors.Is(err, queue.ErrInvalidIndex))

	_, err = d.Send(1, rpc.Header{Addressee: rpc.UnitRewind, Function: 2}, nil)
	require.True(t, errors.Is(err, queue.ErrInvalidArgument))
	f, err = backend.FetchNext(1)
	require.NoError(t, err)
	require.Nil(t, f)
}

func TestDrainAcks(t *testing.T) {
	backend, d, _ := setup(t)
	require.NoError(t, backend.Post(rpc.Header{Addressee: rpc.UnitPerf, Flags: rpc.FlagEvent, Seq: 5}, nil))
	require.NoError(t, backend.Post(rpc.Header{
		Addressee: rpc.UnitTherm,
		Flags:     rpc.FlagEvent | rpc.FlagAckRequired,
		Seq:       6,
	}, []byte{1}))

	var got []uint16
	n, err := d.Drain(func(msg *Message) { got = append(got, msg.Header.Seq) })
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []uint16{5, 6}, got)

	f, err := backend.FetchNext(0)
	require.NoError(t, err)
	require.Equal(t, rpc.UnitCmdMgmt, f.Header.Addressee)
	require.Equal(t, rpc.FuncAck, f.Header.Function)
	require.Equal(t, uint16(6), rpc.U16(f.Payload, 0))
	require.Equal(t, rpc.FlagEvent|rpc.FlagAckRequired, f.Payload[2])
}

func TestRun(t *testing.T) {
	backend, d, rf := setup(t)
	d.Interval = time.Hour
	ch := make(chan *Message, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, func(msg *Message) { ch <- msg }) }()

	require.NoError(t, backend.Post(rpc.Header{Addressee: rpc.UnitPerf, Flags: rpc.FlagEvent, Seq: 9}, nil))
	select {
	case msg := <-ch:
		require.Equal(t, uint16(9), msg.Header.Seq)
	case <-time.After(time.Second):
		t.Fatal("message not received")
	}
	cancel()
	require.Equal(t, context.Canceled, <-done)
	require.Equal(t, uint32(0), rf.Read32(irqAddr))
}

func TestCall(t *testing.T) {
	backend, d, _ := setup(t)
	go func() {
		for {
			f, err := backend.FetchNext(0)
			if err != nil {
				return
			}
			if f == nil {
				time.Sleep(time.Millisecond)
				continue
			}
			backend.Post(rpc.Header{Addressee: rpc.UnitPerf, Flags: rpc.FlagEvent, Seq: 100}, nil)
			backend.Post(rpc.Header{
				Addressee: f.Header.Addressee,
				Function:  f.Header.Function,
				Flags:     rpc.FlagResponse | rpc.FlagFailed,
				Seq:       f.Header.Seq,
			}, []byte{rpc.StatusBadArgs})
			return
		}
	}()
	var events int
	msg, err := d.Call(context.Background(), 0, rpc.Header{Addressee: rpc.UnitCmdMgmt, Function: rpc.FuncPing}, nil,
		func(*Message) { events++ })
	require.Equal(t, &rpc.StatusError{Code: rpc.StatusBadArgs}, err)
	require.NotNil(t, msg)
	require.Equal(t, 1, events)
}

func TestCallAcks(t *testing.T) {
	backend, d, _ := setup(t)
	go func() {
		for {
			f, err := backend.FetchNext(1)
			if err != nil {
				return
			}
			if f == nil {
				time.Sleep(time.Millisecond)
				continue
			}
			backend.Post(rpc.Header{Addressee: rpc.UnitPerf, Flags: rpc.FlagEvent | rpc.FlagAckRequired, Seq: 7}, nil)
			backend.Post(rpc.Header{
				Addressee: f.Header.Addressee,
				Function:  f.Header.Function,
				Flags:     rpc.FlagResponse,
				Seq:       f.Header.Seq,
			}, []byte{1})
			return
		}
	}()
	msg, err := d.Call(context.Background(), 1, rpc.Header{Addressee: rpc.UnitPerf, Function: rpc.FuncTrainingStatus}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, []byte{1}, msg.Payload)

	ack, err := backend.FetchNext(0)
	require.NoError(t, err)
	require.Equal(t, rpc.FuncAck, ack.Header.Function)
	require.Equal(t, uint16(7), rpc.U16(ack.Payload, 0))
	require.Equal(t, rpc.FlagEvent|rpc.FlagAckRequired, ack.Payload[2])
}
