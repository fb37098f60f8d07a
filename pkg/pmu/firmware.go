package pmu

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/pmu.go/pkg/dispatch"
	"github.com/robotalks/pmu.go/pkg/executor"
	"github.com/robotalks/pmu.go/pkg/host"
	"github.com/robotalks/pmu.go/pkg/hw"
	"github.com/robotalks/pmu.go/pkg/peer"
	"github.com/robotalks/pmu.go/pkg/peer/fbflcn"
	"github.com/robotalks/pmu.go/pkg/queue"
	"github.com/robotalks/pmu.go/pkg/rpc"
	"github.com/robotalks/pmu.go/pkg/rtos"
	"github.com/robotalks/pmu.go/pkg/tasks"
)

// PerfSampleTimer is the id of the perf sample timer.
const PerfSampleTimer = 1

// Options are the runtime tunables.
type Options struct {
	// PollInterval is the command processor wake-up period.
	PollInterval time.Duration
	// PeerTimeout bounds blocking executor calls.
	PeerTimeout time.Duration
	// QueueDepth is the event queue depth of every task.
	QueueDepth int
	// SampleInterval is the perf sample period, 0 disables it.
	SampleInterval time.Duration
	Clock          executor.Clock
}

// DefaultOptions returns the default Options.
func DefaultOptions() Options {
	return Options{
		PollInterval:   100 * time.Millisecond,
		PeerTimeout:    time.Second,
		QueueDepth:     16,
		SampleInterval: time.Second,
	}
}

// Firmware is an assembled PMU with its simulated peers.
type Firmware struct {
	Config  Config
	Options Options

	Regs *hw.RegisterFile
	DMEM *hw.RAM
	FB   *hw.RAM

	Backend   queue.Backend
	Processor *dispatch.Processor
	Exec      *executor.Executor
	CmdMgmt   *tasks.Task
	Perf      *tasks.Task
	Timers    []*dispatch.Timer

	// FBFLCN and Secure are the simulated peers, nil when disabled.
	FBFLCN *fbflcn.Responder
	Secure *fbflcn.Responder
}

// New assembles the firmware and initializes the backend.
func New(cfg Config, opts Options) (*Firmware, error) {
	f := &Firmware{
		Config:  cfg,
		Options: opts,
		Regs:    hw.NewRegisterFile(),
		DMEM:    hw.NewRAM(DMEMSize),
		FB:      hw.NewRAM(FBSize),
	}
	layout := QueueLayout()
	switch cfg.Backend {
	case VariantHeap:
		f.Backend = queue.NewHeapBackend(f.FB, f.DMEM, f.Regs, layout,
			queue.Staging{Offset: StagingOffset, Size: StagingSize})
	default:
		f.Backend = queue.NewSharedBackend(f.DMEM, f.Regs, layout)
	}
	if cfg.TaskBuffers {
		tb := queue.NewTaskBufferBackend(f.Backend, f.DMEM)
		for _, unit := range []uint8{rpc.UnitCmdMgmt, rpc.UnitPerf} {
			if err := tb.AssignScratch(unit, Scratch(unit)); err != nil {
				return nil, err
			}
		}
		f.Backend = tb
	}
	if err := f.Backend.Init(); err != nil {
		return nil, err
	}

	irq := hw.NewInterrupt(f.Regs, RegCmdIRQStatus, RegCmdIRQMask, 1<<NumCommandQueues-1)
	f.Processor = dispatch.NewProcessor(f.Backend, irq)
	if opts.PollInterval > 0 {
		f.Processor.Interval = opts.PollInterval
	}

	f.Exec = executor.New(f.Backend)
	if opts.PeerTimeout > 0 {
		f.Exec.Timeout = opts.PeerTimeout
	}
	if opts.Clock != nil {
		f.Exec.Clock = opts.Clock
	}

	var err error
	if cfg.PeerChannel {
		if f.FBFLCN, err = f.attachPeer(executor.ChannelPeer, RegFBFLCNMailbox); err != nil {
			return nil, err
		}
	}
	if cfg.SecureChannel {
		if f.Secure, err = f.attachPeer(executor.ChannelSecure, RegSecMailbox); err != nil {
			return nil, err
		}
	}

	f.CmdMgmt = tasks.NewCmdMgmt(f.Exec, opts.QueueDepth, f.Processor.Stats)
	f.Perf = tasks.NewPerf(f.Exec, opts.QueueDepth)
	for _, t := range []*tasks.Task{f.CmdMgmt, f.Perf} {
		if err := f.Processor.Register(t.Unit, t); err != nil {
			return nil, err
		}
	}
	if opts.SampleInterval > 0 {
		f.Timers = append(f.Timers, &dispatch.Timer{
			ID:     PerfSampleTimer,
			Period: opts.SampleInterval,
			Target: f.Perf,
		})
	}
	glog.Infof("pmu: %v firmware assembled", cfg)
	return f, nil
}

func (f *Firmware) attachPeer(ch executor.Channel, base uint32) (*fbflcn.Responder, error) {
	regs := Mailbox(f.Regs, base)
	c := peer.NewChannel(ch.String(), regs)
	c.NotifyOn(f.Regs)
	r, err := c.Open()
	if err != nil {
		return nil, err
	}
	if err := f.Exec.AttachPeer(ch, r); err != nil {
		return nil, err
	}
	return fbflcn.NewResponder(f.Regs, regs), nil
}

// Host attaches a host driver to the published queues.
func (f *Firmware) Host() (*host.Driver, error) {
	return host.Attach(host.Config{
		DMEM:         f.DMEM,
		FB:           f.FB,
		Regs:         f.Regs,
		MetaOffset:   MetaOffset,
		DoorbellAddr: RegCmdIRQStatus,
		IRQAddr:      RegHostIRQ,
		IRQBits:      HostIRQBits,
	})
}

// Raise raises a signal to the task of unit.
func (f *Firmware) Raise(unit uint8, bits uint32) error {
	return f.Processor.Raise(unit, bits)
}

// Tasks returns every task to schedule, the simulated peers included.
func (f *Firmware) Tasks() []rtos.Task {
	list := []rtos.Task{
		rtos.NamedTask("processor", rtos.TaskFunc(f.Processor.Run)),
		f.CmdMgmt,
		f.Perf,
	}
	for _, t := range f.Timers {
		list = append(list, rtos.NamedTask("timer", t))
	}
	if f.FBFLCN != nil {
		list = append(list, rtos.NamedTask("fbflcn", f.FBFLCN))
	}
	if f.Secure != nil {
		list = append(list, rtos.NamedTask("sec", f.Secure))
	}
	return list
}

// Run runs all tasks until ctx is done.
func (f *Firmware) Run(ctx context.Context) error {
	return rtos.NewSchedulerWith(ctx).Start(f.Tasks()...).Wait()
}
