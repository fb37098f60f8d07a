// Package fbflcn simulates the FBFLCN side of the mailbox channel.
package fbflcn

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/pmu.go/pkg/hw"
	"github.com/robotalks/pmu.go/pkg/peer"
)

// Handler handles a request and returns the response arguments.
type Handler func(req peer.Message) (data16 uint16, data32 uint32)

// Responder answers mailbox requests.
type Responder struct {
	handled uint64

	Regs peer.Registers
	// Delay postpones every response.
	Delay time.Duration
	// Corrupt modifies responses before they're written, for fault injection.
	Corrupt func(*peer.Message)

	handlers map[peer.Command]Handler
	drop     int32
	wakeCh   chan struct{}
	lock     sync.RWMutex

	mclk     uint32
	halted   bool
	stateMux sync.Mutex
}

// NewResponder creates a Responder woken by writes to the request head.
func NewResponder(rf *hw.RegisterFile, regs peer.Registers) *Responder {
	r := &Responder{
		Regs:     regs,
		handlers: make(map[peer.Command]Handler),
		wakeCh:   make(chan struct{}, 1),
	}
	r.handlers[peer.CmdPing] = func(req peer.Message) (uint16, uint32) {
		return req.Data16, req.Data32
	}
	r.handlers[peer.CmdMclkSwitch] = r.mclkSwitch
	r.handlers[peer.CmdHaltNotify] = r.haltNotify
	r.handlers[peer.CmdTrainingStatus] = func(peer.Message) (uint16, uint32) {
		return peer.StatusOK, 1
	}
	rf.Watch(regs.ReqHead.Addr, func(uint32, uint32) {
		select {
		case r.wakeCh <- struct{}{}:
		default:
		}
	})
	return r
}

// Handle installs the handler of cmd.
func (r *Responder) Handle(cmd peer.Command, h Handler) *Responder {
	r.lock.Lock()
	r.handlers[cmd] = h
	r.lock.Unlock()
	return r
}

// SetDrop makes the responder ignore requests.
func (r *Responder) SetDrop(drop bool) {
	var v int32
	if drop {
		v = 1
	}
	atomic.StoreInt32(&r.drop, v)
}

// Handled returns the number of answered requests.
func (r *Responder) Handled() uint64 {
	return atomic.LoadUint64(&r.handled)
}

// Mclk returns the current memory clock in kHz.
func (r *Responder) Mclk() uint32 {
	r.stateMux.Lock()
	defer r.stateMux.Unlock()
	return r.mclk
}

// Halted indicates a halt was notified.
func (r *Responder) Halted() bool {
	r.stateMux.Lock()
	defer r.stateMux.Unlock()
	return r.halted
}

// Run implements rtos.Task.
func (r *Responder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.wakeCh:
		}
		if atomic.LoadInt32(&r.drop) != 0 {
			glog.V(2).Info("fbflcn: request dropped")
			continue
		}
		if r.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.Delay):
			}
		}
		r.respond()
	}
}

func (r *Responder) respond() {
	req := peer.Unpack(r.Regs.ReqHead.Get(), r.Regs.ReqTail.Get())
	r.lock.RLock()
	h := r.handlers[req.Cmd]
	corrupt := r.Corrupt
	r.lock.RUnlock()

	resp := peer.Message{Seq: req.Seq, Cmd: req.Cmd, Data16: peer.StatusUnsupported}
	if h != nil {
		resp.Data16, resp.Data32 = h(req)
	} else {
		glog.Warningf("fbflcn: unsupported request %v", req)
	}
	if corrupt != nil {
		corrupt(&resp)
	}
	head, tail := resp.Pack()
	r.Regs.RespTail.Set(tail)
	r.Regs.RespHead.Set(head)
	atomic.AddUint64(&r.handled, 1)
	glog.V(2).Infof("fbflcn: %v -> %v", req, resp)
}

func (r *Responder) mclkSwitch(req peer.Message) (uint16, uint32) {
	r.stateMux.Lock()
	defer r.stateMux.Unlock()
	if r.halted || req.Data32 == 0 {
		return peer.StatusUnsupported, r.mclk
	}
	r.mclk = req.Data32
	return peer.StatusOK, r.mclk
}

func (r *Responder) haltNotify(peer.Message) (uint16, uint32) {
	r.stateMux.Lock()
	r.halted = true
	r.stateMux.Unlock()
	return peer.StatusOK, 0
}
