package bridge

import (
	"context"
	"net"
	"net/http"

	"github.com/golang/glog"
	xws "golang.org/x/net/websocket"

	"github.com/robotalks/pmu.go/pkg/bridge/stream"
	"github.com/robotalks/pmu.go/pkg/bridge/websocket"
)

// ServeStream serves every connection accepted from l until ctx is done.
func (s *Server) ServeStream(ctx context.Context, l net.Listener) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		glog.Infof("bridge: %s connected", conn.RemoteAddr())
		go func() {
			err := s.Serve(ctx, stream.New(conn))
			conn.Close()
			glog.Infof("bridge: %s disconnected: %v", conn.RemoteAddr(), err)
		}()
	}
}

// WebsocketHandler serves websocket connections until ctx is done.
func (s *Server) WebsocketHandler(ctx context.Context) http.Handler {
	return xws.Handler(func(conn *xws.Conn) {
		err := s.Serve(ctx, websocket.New(conn))
		glog.Infof("bridge: websocket %s disconnected: %v", conn.Request().RemoteAddr, err)
	})
}

// ServeWebsocket listens on addr and serves websocket connections on path.
func (s *Server) ServeWebsocket(ctx context.Context, addr, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, s.WebsocketHandler(ctx))
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		server.Close()
	}()
	err := server.ListenAndServe()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
