package tasks

import (
	"context"

	"github.com/golang/glog"

	"github.com/robotalks/pmu.go/pkg/dispatch"
	"github.com/robotalks/pmu.go/pkg/executor"
	"github.com/robotalks/pmu.go/pkg/peer"
	"github.com/robotalks/pmu.go/pkg/rpc"
)

// StatsFunc snapshots the command processor counters.
type StatsFunc func() dispatch.Stats

// NewCmdMgmt creates the command management task.
// It never waits for a host acknowledgement itself as the acknowledgements
// are delivered through it.
func NewCmdMgmt(exec *executor.Executor, depth int, stats StatsFunc) *Task {
	t := NewTask("cmdmgmt", rpc.UnitCmdMgmt, exec, depth)
	t.Handle(rpc.FuncPing, ping).
		Handle(rpc.FuncAck, ack).
		Handle(rpc.FuncSecPing, secPing).
		Handle(rpc.FuncPeerReset, peerReset)
	if stats != nil {
		t.Handle(rpc.FuncQueryStats, func(context.Context, *Task, *dispatch.IncomingRPC) ([]byte, error) {
			s := stats()
			var p []byte
			for _, v := range []uint64{s.Passes, s.Failures, s.Frames, s.Unrouted, s.Dropped, s.Signals} {
				p = rpc.PutU32(p, uint32(v))
			}
			return p, nil
		})
	}
	t.OnSignal = func(ctx context.Context, t *Task, sig *dispatch.Signal) error {
		_, err := t.Event(ctx, rpc.FuncSignal, rpc.PutU32(nil, sig.Bits), executor.NonBlocking)
		return err
	}
	return t
}

func ping(_ context.Context, _ *Task, req *dispatch.IncomingRPC) ([]byte, error) {
	return req.Payload, nil
}

func ack(_ context.Context, t *Task, req *dispatch.IncomingRPC) ([]byte, error) {
	if len(req.Payload) < 3 {
		return nil, &rpc.StatusError{Code: rpc.StatusBadArgs}
	}
	seq, flags := rpc.U16(req.Payload, 0), req.Payload[2]
	if !t.Exec.Complete(seq, flags&rpc.FlagResponse != 0) {
		glog.V(2).Infof("cmdmgmt: stale ack seq=%d", seq)
	}
	return nil, ErrNoReply
}

// secPing round trips a ping over the secure channel.
// Payload: optional u32 echoed. Reply: u16 status, u32 data.
func secPing(ctx context.Context, t *Task, req *dispatch.IncomingRPC) ([]byte, error) {
	msg := &executor.Message{Cmd: peer.CmdPing}
	if len(req.Payload) >= 4 {
		msg.Data32 = rpc.U32(req.Payload, 0)
	}
	res, err := t.Exec.Execute(ctx, executor.ChannelSecure, msg, executor.Blocking)
	if err != nil {
		return nil, err
	}
	p := rpc.PutU16(nil, res.Response.Data16)
	return rpc.PutU32(p, res.Response.Data32), nil
}

// peerReset recovers a peer channel stuck with a request in flight.
func peerReset(_ context.Context, t *Task, req *dispatch.IncomingRPC) ([]byte, error) {
	ch := executor.ChannelPeer
	if len(req.Payload) > 0 {
		ch = executor.Channel(req.Payload[0])
	}
	if ch != executor.ChannelPeer && ch != executor.ChannelSecure {
		return nil, &rpc.StatusError{Code: rpc.StatusBadArgs}
	}
	if err := t.Exec.ResetPeer(ch); err != nil {
		return nil, err
	}
	glog.Infof("cmdmgmt: %v channel reset", ch)
	return nil, nil
}
