package tasks

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/pmu.go/pkg/dispatch"
	"github.com/robotalks/pmu.go/pkg/executor"
	"github.com/robotalks/pmu.go/pkg/hw"
	"github.com/robotalks/pmu.go/pkg/peer"
	"github.com/robotalks/pmu.go/pkg/peer/fbflcn"
	"github.com/robotalks/pmu.go/pkg/queue"
	"github.com/robotalks/pmu.go/pkg/rpc"
	"github.com/robotalks/pmu.go/pkg/rtos"
)

type testEnv struct {
	rf   *hw.RegisterFile
	exec *executor.Executor
	msgs *queue.Reader
}

func newTestEnv(t *testing.T, msgSize uint32) *testEnv {
	rf, mem := hw.NewRegisterFile(), hw.NewRAM(0x1000)
	layout := queue.Layout{
		Commands:   []queue.QueueLayout{{Start: 0x100, Size: 0x100, HeadAddr: 0x10, TailAddr: 0x14}},
		Message:    queue.QueueLayout{Start: 0x200, Size: msgSize, HeadAddr: 0x20, TailAddr: 0x24},
		MsgIRQAddr: 0x30,
		MsgIRQBits: 1,
		MetaOffset: 0x40,
	}
	backend := queue.NewSharedBackend(mem, rf, layout)
	require.NoError(t, backend.Init())
	exec := executor.New(backend)
	exec.Timeout = 50 * time.Millisecond
	return &testEnv{
		rf:   rf,
		exec: exec,
		msgs: queue.NewReader(layout.Message.Descriptor(1, rf), mem),
	}
}

func (e *testEnv) attachPeer(t *testing.T, ch executor.Channel, base uint32) *fbflcn.Responder {
	regs := peer.Registers{
		ReqHead:  hw.Reg(e.rf, base),
		ReqTail:  hw.Reg(e.rf, base+4),
		RespHead: hw.Reg(e.rf, base+8),
		RespTail: hw.Reg(e.rf, base+12),
	}
	c := peer.NewChannel(ch.String(), regs)
	c.NotifyOn(e.rf)
	r, err := c.Open()
	require.NoError(t, err)
	require.NoError(t, e.exec.AttachPeer(ch, r))
	return fbflcn.NewResponder(e.rf, regs)
}

func (e *testEnv) receive(t *testing.T) (rpc.Header, []byte) {
	raw, err := e.msgs.Next()
	require.NoError(t, err)
	require.NotNil(t, raw)
	h, payload, err := rpc.DecodeFrame(raw)
	require.NoError(t, err)
	return h, payload
}

func (e *testEnv) empty(t *testing.T) {
	raw, err := e.msgs.Next()
	require.NoError(t, err)
	require.Nil(t, raw)
}

func waitFor(t *testing.T, cond func() bool) {
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}

func request(unit, function uint8, seq uint16, payload []byte) *dispatch.IncomingRPC {
	return &dispatch.IncomingRPC{
		Header:  rpc.Header{Addressee: unit, Function: function, Seq: seq},
		Payload: payload,
	}
}

func TestPing(t *testing.T) {
	env := newTestEnv(t, 0x100)
	task := NewCmdMgmt(env.exec, 4, nil)
	task.serve(context.Background(), request(rpc.UnitCmdMgmt, rpc.FuncPing, 7, []byte{1, 2, 3}))
	h, payload := env.receive(t)
	require.Equal(t, rpc.UnitCmdMgmt, h.Addressee)
	require.Equal(t, rpc.FuncPing, h.Function)
	require.Equal(t, rpc.FlagResponse, h.Flags)
	require.Equal(t, uint16(7), h.Seq)
	require.Equal(t, []byte{1, 2, 3}, payload)
}

func TestUnsupported(t *testing.T) {
	env := newTestEnv(t, 0x100)
	task := NewCmdMgmt(env.exec, 4, nil)
	task.serve(context.Background(), request(rpc.UnitCmdMgmt, 0x55, 3, nil))
	h, payload := env.receive(t)
	require.Equal(t, rpc.FlagResponse|rpc.FlagFailed, h.Flags)
	require.Equal(t, uint16(3), h.Seq)
	require.Equal(t, &rpc.StatusError{Code: rpc.StatusUnsupported}, rpc.ReplyError(h, payload))
}

func TestAckCompletesBlockingEvent(t *testing.T) {
	env := newTestEnv(t, 0x100)
	env.exec.Timeout = time.Second
	cmdmgmt := NewCmdMgmt(env.exec, 4, nil)
	perfTask := NewPerf(env.exec, 4)

	done := make(chan error, 1)
	go func() {
		done <- perfTask.OnSignal(context.Background(), perfTask, &dispatch.Signal{Addressee: rpc.UnitPerf, Bits: 0x10})
	}()

	var h rpc.Header
	var payload []byte
	waitFor(t, func() bool {
		raw, err := env.msgs.Next()
		if err != nil || raw == nil {
			return false
		}
		h, payload, err = rpc.DecodeFrame(raw)
		return err == nil
	})
	require.Equal(t, rpc.UnitPerf, h.Addressee)
	require.Equal(t, rpc.FuncSignal, h.Function)
	require.Equal(t, rpc.FlagEvent|rpc.FlagAckRequired, h.Flags)
	require.Equal(t, uint32(0x10), rpc.U32(payload, 0))

	ack := rpc.PutU16(nil, h.Seq)
	ack = append(ack, h.Flags)
	cmdmgmt.serve(context.Background(), request(rpc.UnitCmdMgmt, rpc.FuncAck, 1, ack))
	require.NoError(t, <-done)
	// acknowledgements aren't replied.
	env.empty(t)

	cmdmgmt.serve(context.Background(), request(rpc.UnitCmdMgmt, rpc.FuncAck, 2, []byte{1}))
	h, payload = env.receive(t)
	require.Equal(t, &rpc.StatusError{Code: rpc.StatusBadArgs}, rpc.ReplyError(h, payload))
}

func TestCmdMgmtSignal(t *testing.T) {
	env := newTestEnv(t, 0x100)
	task := NewCmdMgmt(env.exec, 4, nil)
	task.serve(context.Background(), &dispatch.Signal{Addressee: rpc.UnitCmdMgmt, Bits: 0x3})
	h, payload := env.receive(t)
	require.Equal(t, rpc.FuncSignal, h.Function)
	require.Equal(t, rpc.FlagEvent, h.Flags)
	require.Equal(t, uint32(3), rpc.U32(payload, 0))
}

func TestQueryStats(t *testing.T) {
	env := newTestEnv(t, 0x100)
	task := NewCmdMgmt(env.exec, 4, func() dispatch.Stats {
		return dispatch.Stats{Passes: 1, Failures: 2, Frames: 3, Unrouted: 4, Dropped: 5, Signals: 6}
	})
	task.serve(context.Background(), request(rpc.UnitCmdMgmt, rpc.FuncQueryStats, 1, nil))
	_, payload := env.receive(t)
	require.Len(t, payload, 24)
	for n := 0; n < 6; n++ {
		require.Equal(t, uint32(n+1), rpc.U32(payload, n*4))
	}
}

func TestSecPing(t *testing.T) {
	env := newTestEnv(t, 0x100)
	task := NewCmdMgmt(env.exec, 4, nil)
	task.serve(context.Background(), request(rpc.UnitCmdMgmt, rpc.FuncSecPing, 1, nil))
	h, payload := env.receive(t)
	require.Equal(t, &rpc.StatusError{Code: rpc.StatusNoChannel}, rpc.ReplyError(h, payload))

	resp := env.attachPeer(t, executor.ChannelSecure, 0x90)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go resp.Run(ctx)
	task.serve(ctx, request(rpc.UnitCmdMgmt, rpc.FuncSecPing, 2, rpc.PutU32(nil, 0xcafe)))
	h, payload = env.receive(t)
	require.NoError(t, rpc.ReplyError(h, payload))
	require.Equal(t, peer.StatusOK, rpc.U16(payload, 0))
	require.Equal(t, uint32(0xcafe), rpc.U32(payload, 2))
}

func TestMclkSwitch(t *testing.T) {
	env := newTestEnv(t, 0x100)
	resp := env.attachPeer(t, executor.ChannelPeer, 0x80)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go resp.Run(ctx)
	task := NewPerf(env.exec, 4)

	task.serve(ctx, request(rpc.UnitPerf, rpc.FuncMclkSwitch, 1, rpc.PutU32(nil, 810000)))
	h, payload := env.receive(t)
	require.NoError(t, rpc.ReplyError(h, payload))
	require.Equal(t, uint32(810000), rpc.U32(payload, 0))
	require.Equal(t, uint32(810000), resp.Mclk())

	task.serve(ctx, &dispatch.TimerCallback{ID: 1, Count: 5})
	h, payload = env.receive(t)
	require.Equal(t, rpc.FuncPerfSample, h.Function)
	require.Equal(t, rpc.FlagEvent, h.Flags)
	require.Equal(t, uint32(5), rpc.U32(payload, 0))
	require.Equal(t, uint32(810000), rpc.U32(payload, 4))

	task.serve(ctx, request(rpc.UnitPerf, rpc.FuncTrainingStatus, 2, nil))
	h, payload = env.receive(t)
	require.NoError(t, rpc.ReplyError(h, payload))
	require.Equal(t, uint32(1), rpc.U32(payload, 0))

	task.serve(ctx, request(rpc.UnitPerf, rpc.FuncHaltNotify, 3, nil))
	h, payload = env.receive(t)
	require.NoError(t, rpc.ReplyError(h, payload))
	require.True(t, resp.Halted())

	task.serve(ctx, request(rpc.UnitPerf, rpc.FuncMclkSwitch, 4, rpc.PutU32(nil, 405000)))
	h, payload = env.receive(t)
	require.Equal(t, &rpc.StatusError{Code: rpc.StatusPeerError}, rpc.ReplyError(h, payload))
	require.Equal(t, uint32(810000), resp.Mclk())

	task.serve(ctx, request(rpc.UnitPerf, rpc.FuncMclkSwitch, 5, []byte{1}))
	h, payload = env.receive(t)
	require.Equal(t, &rpc.StatusError{Code: rpc.StatusBadArgs}, rpc.ReplyError(h, payload))
}

func TestPeerTimeout(t *testing.T) {
	env := newTestEnv(t, 0x100)
	env.attachPeer(t, executor.ChannelPeer, 0x80)
	task := NewPerf(env.exec, 4)

	task.serve(context.Background(), request(rpc.UnitPerf, rpc.FuncTrainingStatus, 1, nil))
	h, payload := env.receive(t)
	require.Equal(t, &rpc.StatusError{Code: rpc.StatusTimeout}, rpc.ReplyError(h, payload))

	// the request stays in flight until the channel is reset.
	task.serve(context.Background(), request(rpc.UnitPerf, rpc.FuncTrainingStatus, 2, nil))
	h, payload = env.receive(t)
	require.Equal(t, &rpc.StatusError{Code: rpc.StatusBusy}, rpc.ReplyError(h, payload))

	cmd := NewCmdMgmt(env.exec, 4, nil)
	testCases := []struct {
		name    string
		payload []byte
		err     error
	}{
		{"host", []byte{byte(executor.ChannelHost)}, &rpc.StatusError{Code: rpc.StatusBadArgs}},
		{"unattached", []byte{byte(executor.ChannelSecure)}, &rpc.StatusError{Code: rpc.StatusNoChannel}},
		{"fbflcn", nil, nil},
	}
	for n, c := range testCases {
		t.Run(c.name, func(t *testing.T) {
			cmd.serve(context.Background(), request(rpc.UnitCmdMgmt, rpc.FuncPeerReset, uint16(10+n), c.payload))
			h, payload := env.receive(t)
			require.Equal(t, uint16(10+n), h.Seq)
			if c.err == nil {
				require.NoError(t, rpc.ReplyError(h, payload))
			} else {
				require.Equal(t, c.err, rpc.ReplyError(h, payload))
			}
		})
	}

	// no longer busy: the new request times out on its own.
	task.serve(context.Background(), request(rpc.UnitPerf, rpc.FuncTrainingStatus, 3, nil))
	h, payload = env.receive(t)
	require.Equal(t, &rpc.StatusError{Code: rpc.StatusTimeout}, rpc.ReplyError(h, payload))
}

func TestDeliverFull(t *testing.T) {
	env := newTestEnv(t, 0x100)
	task := NewTask("test", rpc.UnitTherm, env.exec, 1)
	require.NoError(t, task.Deliver(&dispatch.Signal{}))
	require.Equal(t, 1, task.Pending())
	err := task.Deliver(&dispatch.Signal{})
	require.True(t, errors.Is(err, rtos.ErrQueueFull))
}

func TestReplyRetries(t *testing.T) {
	env := newTestEnv(t, 64)
	task := NewTask("test", rpc.UnitTherm, env.exec, 1)
	req := &rpc.Header{Addressee: rpc.UnitTherm, Function: 1, Seq: 1}
	var err error
	for n := 0; n < 10 && err == nil; n++ {
		err = task.Reply(context.Background(), req, 0, make([]byte, 8))
	}
	require.True(t, errors.Is(err, executor.ErrWouldBlock))

	go func() {
		time.Sleep(task.ReplyRetryInterval / 2)
		env.msgs.Next()
		env.msgs.Next()
	}()
	task.ReplyRetries = 1000
	require.NoError(t, task.Reply(context.Background(), req, 0, make([]byte, 8)))
}

func TestRun(t *testing.T) {
	env := newTestEnv(t, 0x100)
	var signals []uint32
	task := NewTask("test", rpc.UnitTherm, env.exec, 4)
	task.OnSignal = func(_ context.Context, _ *Task, sig *dispatch.Signal) error {
		signals = append(signals, sig.Bits)
		return fmt.Errorf("ignored")
	}
	task.Handle(1, func(context.Context, *Task, *dispatch.IncomingRPC) ([]byte, error) {
		return nil, ErrNoReply
	})
	require.NoError(t, task.Deliver(&dispatch.Signal{Bits: 1}))
	require.NoError(t, task.Deliver(request(rpc.UnitTherm, 1, 1, nil)))
	require.NoError(t, task.Deliver(&dispatch.Signal{Bits: 2}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- task.Run(ctx) }()
	waitFor(t, func() bool { return task.Pending() == 0 })
	cancel()
	require.Equal(t, context.Canceled, <-done)
	require.Equal(t, []uint32{1, 2}, signals)
	env.empty(t)
}

func TestStatusOf(t *testing.T) {
	testCases := []struct {
		err  error
		code uint8
	}{
		{&rpc.StatusError{Code: rpc.StatusBadArgs}, rpc.StatusBadArgs},
		{rtos.ErrTimeout, rpc.StatusTimeout},
		{fmt.Errorf("peer: %w", executor.ErrNoChannel), rpc.StatusNoChannel},
		{fmt.Errorf("fbflcn: %w", peer.ErrInvalidState), rpc.StatusBusy},
		{peer.ErrInvalidIndex, rpc.StatusPeerError},
		{executor.ErrWouldBlock, rpc.StatusBusy},
		{errors.New("other"), rpc.StatusInternal},
	}
	for _, c := range testCases {
		t.Run(c.err.Error(), func(t *testing.T) {
			require.Equal(t, c.code, statusOf(c.err))
		})
	}
}
