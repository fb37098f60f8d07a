// Package tasks implements the consumer tasks the command processor
// delivers envelopes to.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/pmu.go/pkg/dispatch"
	"github.com/robotalks/pmu.go/pkg/executor"
	"github.com/robotalks/pmu.go/pkg/peer"
	"github.com/robotalks/pmu.go/pkg/rpc"
	"github.com/robotalks/pmu.go/pkg/rtos"
)

// ErrNoReply is returned by a handler which replies by itself, or not at all.
var ErrNoReply = errors.New("no reply")

// HandlerFunc handles a command and returns the reply payload.
type HandlerFunc func(ctx context.Context, t *Task, req *dispatch.IncomingRPC) ([]byte, error)

// SignalFunc handles a signal raised to the task.
type SignalFunc func(ctx context.Context, t *Task, sig *dispatch.Signal) error

// TimerFunc handles a timer callback.
type TimerFunc func(ctx context.Context, t *Task, cb *dispatch.TimerCallback) error

// Task is a consumer with a bounded event queue, served by Run.
type Task struct {
	Unit uint8
	Exec *executor.Executor
	// ReplyRetries bounds the retries of a reply on a full message queue.
	ReplyRetries int
	// ReplyRetryInterval is the back-off between reply retries.
	ReplyRetryInterval time.Duration

	OnSignal SignalFunc
	OnTimer  TimerFunc

	name     string
	queue    *rtos.Queue
	handlers map[uint8]HandlerFunc
}

// NewTask creates a task with an event queue of depth.
func NewTask(name string, unit uint8, exec *executor.Executor, depth int) *Task {
	return &Task{
		Unit:               unit,
		Exec:               exec,
		ReplyRetries:       3,
		ReplyRetryInterval: time.Millisecond,
		name:               name,
		queue:              rtos.NewQueue(depth),
		handlers:           make(map[uint8]HandlerFunc),
	}
}

// Name implements rtos.Named.
func (t *Task) Name() string {
	return t.name
}

// Handle registers the handler of function.
func (t *Task) Handle(function uint8, fn HandlerFunc) *Task {
	t.handlers[function] = fn
	return t
}

// Deliver implements dispatch.Consumer.
func (t *Task) Deliver(env dispatch.Envelope) error {
	if err := t.queue.TrySend(env); err != nil {
		return fmt.Errorf("task %s: %w", t.name, err)
	}
	return nil
}

// Pending returns the number of queued envelopes.
func (t *Task) Pending() int {
	return t.queue.Len()
}

// Run implements rtos.Task.
func (t *Task) Run(ctx context.Context) error {
	for {
		item, err := t.queue.Receive(ctx)
		if err != nil {
			return err
		}
		t.serve(ctx, item.(dispatch.Envelope))
	}
}

func (t *Task) serve(ctx context.Context, env dispatch.Envelope) {
	var err error
	switch e := env.(type) {
	case *dispatch.IncomingRPC:
		t.handle(ctx, e)
		return
	case *dispatch.Signal:
		if t.OnSignal != nil {
			err = t.OnSignal(ctx, t, e)
		}
	case *dispatch.TimerCallback:
		if t.OnTimer != nil {
			err = t.OnTimer(ctx, t, e)
		}
	}
	if err != nil {
		glog.Warningf("task %s: %v failed: %v", t.name, env.Kind(), err)
	}
}

func (t *Task) handle(ctx context.Context, req *dispatch.IncomingRPC) {
	glog.V(2).Infof("task %s: q%d %v", t.name, req.Queue, req.Header)
	fn := t.handlers[req.Header.Function]
	if fn == nil {
		glog.Warningf("task %s: function %#02x unsupported", t.name, req.Header.Function)
		t.replyStatus(ctx, &req.Header, rpc.StatusUnsupported)
		return
	}
	payload, err := fn(ctx, t, req)
	switch {
	case err == nil:
		if err = t.Reply(ctx, &req.Header, 0, payload); err != nil {
			glog.Errorf("task %s: reply %v: %v", t.name, req.Header, err)
		}
	case err == ErrNoReply:
	default:
		glog.Warningf("task %s: %v failed: %v", t.name, req.Header, err)
		t.replyStatus(ctx, &req.Header, statusOf(err))
	}
}

func (t *Task) replyStatus(ctx context.Context, req *rpc.Header, code uint8) {
	if err := t.Reply(ctx, req, rpc.FlagFailed, []byte{code}); err != nil {
		glog.Errorf("task %s: reply %v: %v", t.name, *req, err)
	}
}

// Reply posts the response to req. A full message queue is retried up to
// ReplyRetries times, the reply never waits for the host.
func (t *Task) Reply(ctx context.Context, req *rpc.Header, flags uint8, payload []byte) error {
	msg := &executor.Message{Reply: req, Flags: flags, Payload: payload}
	for n := 0; ; n++ {
		_, err := t.Exec.Execute(ctx, executor.ChannelHost, msg, executor.NonBlocking)
		if !errors.Is(err, executor.ErrWouldBlock) || n >= t.ReplyRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.ReplyRetryInterval):
		}
	}
}

// Event posts an event of this task's unit to the host.
func (t *Task) Event(ctx context.Context, function uint8, payload []byte, mode executor.Mode) (uint16, error) {
	res, err := t.Exec.Execute(ctx, executor.ChannelHost, &executor.Message{
		Unit:     t.Unit,
		Function: function,
		Payload:  payload,
	}, mode)
	if err != nil {
		return 0, err
	}
	return res.Seq, nil
}

// statusOf maps a handler error to the status code replied.
func statusOf(err error) uint8 {
	var se *rpc.StatusError
	switch {
	case errors.As(err, &se):
		return se.Code
	case errors.Is(err, rtos.ErrTimeout):
		return rpc.StatusTimeout
	case errors.Is(err, executor.ErrNoChannel):
		return rpc.StatusNoChannel
	case errors.Is(err, peer.ErrInvalidState):
		return rpc.StatusBusy
	case errors.Is(err, peer.ErrInvalidIndex):
		return rpc.StatusPeerError
	case errors.Is(err, executor.ErrWouldBlock):
		return rpc.StatusBusy
	}
	return rpc.StatusInternal
}
