package sh

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/pmu.go/pkg/bridge"
	"github.com/robotalks/pmu.go/pkg/bridge/env"
	"github.com/robotalks/pmu.go/pkg/bridge/msgs"
	"github.com/robotalks/pmu.go/pkg/bridge/stream"
	"github.com/robotalks/pmu.go/pkg/bridge/websocket"
	"github.com/robotalks/pmu.go/pkg/rpc"
	"github.com/robotalks/pmu.go/pkg/rtos"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	// Target is connected when the shell starts, see Connect.
	Target  string
	Timeout time.Duration

	Shell  *ishell.Shell
	Config *env.Config
	Conn   *ConnLoop
}

// ConnLoop is a running bridge connection.
type ConnLoop struct {
	Cancel func()
	Target string
	Conn   *bridge.Conn
}

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "
)

var (
	// flags

	evalOnly   bool
	outputJSON bool
	target     string
	timeout    = 2 * time.Second

	commands = []*ishell.Cmd{
		&ConnectCmd,
		&DisconnectCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
	flag.StringVar(&target, "connect", target, "Connect on start: ws://host:port/path, tcp://host:port or an instance id on the broker.")
	flag.DurationVar(&timeout, "timeout", timeout, "Command timeout.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(conf *env.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,
		Target:      target,
		Timeout:     timeout,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeConnected wraps command func requires a connection.
func MustBeConnected(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Conn == nil {
			c.Err(fmt.Errorf("not connected"))
			return
		}
		fn(c)
	}
}

// Dial opens the PacketReadWriter of a target, and the task which must
// run to receive packets, if any.
func (s *Shell) Dial(target string) (bridge.PacketReadWriter, rtos.Task, error) {
	switch {
	case strings.HasPrefix(target, "ws://"), strings.HasPrefix(target, "wss://"):
		rw, err := websocket.Dial(target, "http://localhost/")
		return rw, nil, err
	case strings.HasPrefix(target, "tcp://"):
		conn, err := net.Dial("tcp", strings.TrimPrefix(target, "tcp://"))
		if err != nil {
			return nil, nil, err
		}
		return stream.New(conn), nil, nil
	}
	conf := *s.Config
	if target != "" {
		conf.ID = target
	}
	rw, err := conf.ClientReadWriter()
	if err != nil {
		return nil, nil, err
	}
	return rw, rw, nil
}

// Connect connects the bridge of target.
func (s *Shell) Connect(target string) error {
	rw, task, err := s.Dial(target)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	loop := &ConnLoop{Cancel: cancel, Target: target, Conn: bridge.NewConn(rw)}
	loop.Conn.Expiration = s.Timeout
	loop.Conn.OnMessage = func(f *msgs.Frame) {
		s.Shell.Printf("\n%s\n", FormatFrame(f))
	}
	if task != nil {
		go task.Run(ctx)
	}
	go func() {
		loop.Conn.Run(ctx)
		loop.Conn.Close()
	}()
	s.Disconnect()
	s.Conn = loop
	if target == "" {
		target = s.Config.InstanceID()
	}
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", target))
	return nil
}

// Disconnect disconnects current bridge.
func (s *Shell) Disconnect() {
	if s.Conn != nil {
		s.Conn.Cancel()
		s.Conn.Conn.Close()
		s.Conn = nil
		s.Shell.SetPrompt(unconnectedPrompt)
	}
}

// FormatFrame prints a frame into friendly string for display.
func FormatFrame(f *msgs.Frame) string {
	h := f.Header()
	return fmt.Sprintf("%s %v payload=% x", rpc.UnitName(h.Addressee), h, f.Payload)
}

// DoCommand sends a command and prints the reply.
func DoCommand(c *ishell.Context, queue int, unit, function uint8, payload []byte) (*msgs.Frame, error) {
	s := ShellFrom(c)
	if s.Conn == nil {
		err := fmt.Errorf("not connected")
		c.Err(err)
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout+time.Second)
	defer cancel()
	reply, err := s.Conn.Conn.Call(ctx, queue, unit, function, payload)
	if err != nil {
		c.Err(err)
		return reply, err
	}
	if s.OutputJSON {
		out, err := json.Marshal(reply)
		if err != nil {
			c.Err(err)
			return reply, err
		}
		c.Println(string(out))
		return reply, nil
	}
	c.Println(FormatFrame(reply))
	return reply, nil
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if s.Target != "" || len(args) > 0 {
		if s.Interactive {
			s.Shell.Printf("Connecting %s ...\n", s.Target)
		}
		if err := s.Connect(s.Target); err != nil {
			log.Fatalf("connect %q failed: %v", s.Target, err)
		}
	}

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

var (
	// ConnectCmd connects a bridge.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "[ws://host:port/path | tcp://host:port | ID]",
		Func: func(c *ishell.Context) {
			var target string
			if len(c.Args) > 0 {
				target = c.Args[0]
			}
			if err := ShellFrom(c).Connect(target); err != nil {
				c.Err(err)
			}
		},
	}

	// DisconnectCmd disconnects current bridge.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Disconnect()
		},
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	New(env.NewConfig()).Run(flag.Args()...)
}
