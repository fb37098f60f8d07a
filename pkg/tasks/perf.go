package tasks

import (
	"context"
	"sync/atomic"

	"github.com/robotalks/pmu.go/pkg/dispatch"
	"github.com/robotalks/pmu.go/pkg/executor"
	"github.com/robotalks/pmu.go/pkg/peer"
	"github.com/robotalks/pmu.go/pkg/rpc"
)

type perf struct {
	mclk uint32
}

// NewPerf creates the performance task. The memory clock requests go to
// the FBFLCN over executor.ChannelPeer.
func NewPerf(exec *executor.Executor, depth int) *Task {
	p := &perf{}
	t := NewTask("perf", rpc.UnitPerf, exec, depth)
	t.Handle(rpc.FuncMclkSwitch, p.mclkSwitch).
		Handle(rpc.FuncHaltNotify, p.haltNotify).
		Handle(rpc.FuncTrainingStatus, p.trainingStatus)
	t.OnTimer = p.sample
	t.OnSignal = func(ctx context.Context, t *Task, sig *dispatch.Signal) error {
		_, err := t.Event(ctx, rpc.FuncSignal, rpc.PutU32(nil, sig.Bits), executor.Blocking)
		return err
	}
	return t
}

func (p *perf) call(ctx context.Context, t *Task, cmd peer.Command, data32 uint32) (peer.Message, error) {
	res, err := t.Exec.Execute(ctx, executor.ChannelPeer,
		&executor.Message{Cmd: cmd, Data32: data32}, executor.Blocking)
	if err != nil {
		return peer.Message{}, err
	}
	if res.Response.Data16 != peer.StatusOK {
		return res.Response, &rpc.StatusError{Code: rpc.StatusPeerError}
	}
	return res.Response, nil
}

// mclkSwitch payload: u32 kHz. Reply: u32 kHz in effect.
func (p *perf) mclkSwitch(ctx context.Context, t *Task, req *dispatch.IncomingRPC) ([]byte, error) {
	if len(req.Payload) < 4 {
		return nil, &rpc.StatusError{Code: rpc.StatusBadArgs}
	}
	khz := rpc.U32(req.Payload, 0)
	resp, err := p.call(ctx, t, peer.CmdMclkSwitch, khz)
	if err != nil {
		return nil, err
	}
	atomic.StoreUint32(&p.mclk, resp.Data32)
	return rpc.PutU32(nil, resp.Data32), nil
}

func (p *perf) haltNotify(ctx context.Context, t *Task, req *dispatch.IncomingRPC) ([]byte, error) {
	_, err := p.call(ctx, t, peer.CmdHaltNotify, 0)
	return nil, err
}

// trainingStatus reply: u32 training status.
func (p *perf) trainingStatus(ctx context.Context, t *Task, req *dispatch.IncomingRPC) ([]byte, error) {
	resp, err := p.call(ctx, t, peer.CmdTrainingStatus, 0)
	if err != nil {
		return nil, err
	}
	return rpc.PutU32(nil, resp.Data32), nil
}

// sample posts u32 sample count, u32 memory clock kHz.
func (p *perf) sample(ctx context.Context, t *Task, cb *dispatch.TimerCallback) error {
	payload := rpc.PutU32(nil, uint32(cb.Count))
	payload = rpc.PutU32(payload, atomic.LoadUint32(&p.mclk))
	_, err := t.Event(ctx, rpc.FuncPerfSample, payload, executor.NonBlocking)
	return err
}
