package bridge

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/pmu.go/pkg/bridge/msgs"
	"github.com/robotalks/pmu.go/pkg/host"
	"github.com/robotalks/pmu.go/pkg/queue"
	"github.com/robotalks/pmu.go/pkg/rpc"
)

// Server forwards the commands from bridge connections into a host driver
// and broadcasts the messages posted by the PMU.
type Server struct {
	Host *host.Driver

	conns map[*serverConn]struct{}
	lock  sync.RWMutex
}

type serverConn struct {
	rw   PacketReadWriter
	lock sync.Mutex
}

func (c *serverConn) write(pkt []byte) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.rw.WritePacket(pkt)
}

// NewServer creates a Server.
func NewServer(d *host.Driver) *Server {
	return &Server{Host: d, conns: make(map[*serverConn]struct{})}
}

// Run implements rtos.Task. It runs the host driver.
func (s *Server) Run(ctx context.Context) error {
	return s.Host.Run(ctx, s.Broadcast)
}

// Broadcast sends a PMU message to all connections.
func (s *Server) Broadcast(msg *host.Message) {
	pkt, err := (&msgs.Packet{Frame: msgs.FrameFrom(msg.Header, msg.Payload)}).Encode()
	if err != nil {
		glog.Errorf("bridge: encode %v: %v", msg.Header, err)
		return
	}
	s.lock.RLock()
	defer s.lock.RUnlock()
	for c := range s.conns {
		if err := c.write(pkt); err != nil {
			glog.Warningf("bridge: broadcast %v: %v", msg.Header, err)
		}
	}
}

// Serve serves a connection until it fails or ctx is done.
func (s *Server) Serve(ctx context.Context, rw PacketReadWriter) error {
	c := &serverConn{rw: rw}
	s.lock.Lock()
	s.conns[c] = struct{}{}
	s.lock.Unlock()
	defer func() {
		s.lock.Lock()
		delete(s.conns, c)
		s.lock.Unlock()
	}()

	stop := make(chan struct{})
	defer close(stop)
	if closer, ok := rw.(io.Closer); ok {
		go func() {
			select {
			case <-ctx.Done():
				closer.Close()
			case <-stop:
			}
		}()
	}

	for {
		pkt, err := rw.ReadPacket()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		p, err := msgs.Decode(pkt)
		if err != nil {
			glog.Warningf("bridge: bad packet: %v", err)
			continue
		}
		if err := s.command(c, p); err != nil {
			return err
		}
	}
}

// command queues the frame and answers the Status before the reply can
// be broadcast.
func (s *Server) command(c *serverConn, p *msgs.Packet) error {
	status := &msgs.Status{Tag: p.Tag}
	c.lock.Lock()
	defer c.lock.Unlock()
	if p.Frame == nil {
		status.Code, status.Message = uint32(rpc.StatusBadArgs), "no frame"
	} else {
		h := p.Frame.Header()
		seq, err := s.Host.Send(int(p.Frame.Queue), h, p.Frame.Payload)
		if err != nil {
			status.Code, status.Message = uint32(sendStatus(err)), err.Error()
			glog.Warningf("bridge: q%d %v: %v", p.Frame.Queue, h, err)
		}
		status.Seq = uint32(seq)
	}
	pkt, err := (&msgs.Packet{Tag: p.Tag, Status: status}).Encode()
	if err != nil {
		return err
	}
	return c.rw.WritePacket(pkt)
}

func sendStatus(err error) uint8 {
	switch {
	case errors.Is(err, queue.ErrQueueFull):
		return rpc.StatusBusy
	case errors.Is(err, queue.ErrInvalidIndex),
		errors.Is(err, queue.ErrInvalidArgument),
		errors.Is(err, rpc.ErrPayloadTooLarge):
		return rpc.StatusBadArgs
	}
	return rpc.StatusInternal
}
