// Package host is the host side of the PMU queues: it produces commands
// and consumes the messages posted by the PMU.
package host

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/pmu.go/pkg/hw"
	"github.com/robotalks/pmu.go/pkg/queue"
	"github.com/robotalks/pmu.go/pkg/rpc"
)

// Config locates the PMU.
type Config struct {
	DMEM hw.Memory
	FB   hw.Memory
	Regs *hw.RegisterFile
	// MetaOffset is where the PMU publishes its queues in DMEM.
	MetaOffset uint32
	// DoorbellAddr is the PMU interrupt status, bit n for command queue n.
	DoorbellAddr uint32
	// IRQAddr and IRQBits are the host interrupt raised by the PMU.
	IRQAddr uint32
	IRQBits uint32
}

// Message is a message received from the PMU.
type Message struct {
	Header  rpc.Header
	Payload []byte
}

// Handler handles received messages.
type Handler func(*Message)

// Driver talks to the PMU through the published queues.
type Driver struct {
	IRQ *hw.Interrupt
	// Interval is the polling period when no interrupt arrives.
	Interval time.Duration

	cmds    []*queue.Producer
	msgs    *queue.Reader
	seq     rpc.Counter
	seqLock sync.Mutex
	rdLock  sync.Mutex
}

// Attach reads the queue metadata published by the PMU.
// It must be called after the PMU backend is initialized.
func Attach(cfg Config) (*Driver, error) {
	queues, err := queue.ReadMeta(cfg.DMEM, cfg.MetaOffset)
	if err != nil {
		return nil, err
	}
	if len(queues) < 2 {
		return nil, fmt.Errorf("%d queues published: %w", len(queues), queue.ErrNotReady)
	}
	d := &Driver{
		IRQ:      hw.NewInterrupt(cfg.Regs, cfg.IRQAddr, hw.NoMask, cfg.IRQBits),
		Interval: 100 * time.Millisecond,
	}
	mem := func(q queue.QueueLayout) (hw.Memory, error) {
		switch q.Aperture {
		case queue.ApertureDMEM:
			return cfg.DMEM, nil
		case queue.ApertureFB:
			if cfg.FB != nil {
				return cfg.FB, nil
			}
		}
		return nil, fmt.Errorf("aperture %d: %w", q.Aperture, queue.ErrInvalidArgument)
	}
	last := len(queues) - 1
	for n, q := range queues[:last] {
		m, err := mem(q)
		if err != nil {
			return nil, err
		}
		trigger := &queue.Trigger{Reg: hw.Reg(cfg.Regs, cfg.DoorbellAddr), Bits: 1 << uint(n)}
		d.cmds = append(d.cmds, queue.NewProducer(q.Descriptor(n, cfg.Regs), m, trigger))
	}
	m, err := mem(queues[last])
	if err != nil {
		return nil, err
	}
	d.msgs = queue.NewReader(queues[last].Descriptor(last, cfg.Regs), m)
	return d, nil
}

// NumQueues returns the number of command queues.
func (d *Driver) NumQueues() int {
	return len(d.cmds)
}

// Send posts a command and returns the sequence id stamped.
// queue.ErrQueueFull means the PMU hasn't consumed enough yet.
func (d *Driver) Send(id int, h rpc.Header, payload []byte) (uint16, error) {
	if id < 0 || id >= len(d.cmds) {
		return 0, fmt.Errorf("queue %d: %w", id, queue.ErrInvalidIndex)
	}
	d.seqLock.Lock()
	h.Seq = d.seq.Next()
	d.seqLock.Unlock()
	if err := d.cmds[id].Post(h, payload); err != nil {
		return 0, err
	}
	glog.V(2).Infof("host: q%d sent %v", id, h)
	return h.Seq, nil
}

// Ack acknowledges a message with FlagAckRequired.
func (d *Driver) Ack(h rpc.Header) error {
	payload := rpc.PutU16(nil, h.Seq)
	payload = append(payload, h.Flags)
	_, err := d.Send(0, rpc.Header{Addressee: rpc.UnitCmdMgmt, Function: rpc.FuncAck}, payload)
	return err
}

// Receive returns the next message from the PMU, nil if there's none.
func (d *Driver) Receive() (*Message, error) {
	d.rdLock.Lock()
	raw, err := d.msgs.Next()
	d.rdLock.Unlock()
	if err != nil || raw == nil {
		return nil, err
	}
	h, payload, err := rpc.DecodeFrame(raw)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, queue.ErrInvalidFrame)
	}
	return &Message{Header: h, Payload: payload}, nil
}

// Drain receives all messages, acknowledges the ones requiring it and
// passes them to handler.
func (d *Driver) Drain(handler Handler) (int, error) {
	var count int
	for {
		msg, err := d.Receive()
		if err != nil || msg == nil {
			return count, err
		}
		count++
		if msg.Header.Flags&rpc.FlagAckRequired != 0 {
			if err := d.Ack(msg.Header); err != nil {
				glog.Warningf("host: ack %v failed: %v", msg.Header, err)
			}
		}
		if handler != nil {
			handler(msg)
		}
	}
}

// Run drains the messages on every host interrupt until ctx is done.
func (d *Driver) Run(ctx context.Context, handler Handler) error {
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.IRQ.C():
		case <-ticker.C:
		}
		d.IRQ.Status.ClearBits(d.IRQ.Bits)
		if _, err := d.Drain(handler); err != nil {
			glog.Errorf("host: drain failed: %v", err)
			return err
		}
	}
}

// Call sends a command and waits for the reply with the same sequence id.
// Other messages received meanwhile go to handler. It must not be used
// concurrently with Run.
func (d *Driver) Call(ctx context.Context, id int, h rpc.Header, payload []byte, handler Handler) (*Message, error) {
	seq, err := d.Send(id, h, payload)
	if err != nil {
		return nil, err
	}
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		for {
			msg, err := d.Receive()
			if err != nil {
				return nil, err
			}
			if msg == nil {
				break
			}
			if msg.Header.Flags&rpc.FlagAckRequired != 0 {
				if err := d.Ack(msg.Header); err != nil {
					glog.Warningf("host: ack %v failed: %v", msg.Header, err)
				}
			}
			if msg.Header.Flags&rpc.FlagResponse != 0 && msg.Header.Seq == seq {
				return msg, rpc.ReplyError(msg.Header, msg.Payload)
			}
			if handler != nil {
				handler(msg)
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-d.IRQ.C():
		case <-ticker.C:
		}
	}
}
