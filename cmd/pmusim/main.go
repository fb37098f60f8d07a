package main

//go-build: CGO_ENABLED=0

import (
	"context"
	"flag"
	"log"
	"net"

	"github.com/robotalks/pmu.go/pkg/bridge"
	"github.com/robotalks/pmu.go/pkg/bridge/env"
	"github.com/robotalks/pmu.go/pkg/pmu"
	"github.com/robotalks/pmu.go/pkg/rtos"
)

var (
	opts    = pmu.DefaultOptions()
	useMQTT = true
	wsAddr  string
	wsPath  = "/pmu"
	tcpAddr string
)

func init() {
	env.SetupFlags()
	flag.BoolVar(&useMQTT, "bridge-mqtt", useMQTT, "Serve the bridge on the MQTT broker.")
	flag.StringVar(&wsAddr, "ws", wsAddr, "Serve the bridge over websocket on the address, e.g. :8080.")
	flag.StringVar(&wsPath, "ws-path", wsPath, "Websocket path.")
	flag.StringVar(&tcpAddr, "tcp", tcpAddr, "Serve the bridge over TCP on the address, e.g. :7070.")
	flag.DurationVar(&opts.PollInterval, "poll", opts.PollInterval, "Command processor poll interval.")
	flag.DurationVar(&opts.PeerTimeout, "peer-timeout", opts.PeerTimeout, "Blocking call timeout.")
	flag.DurationVar(&opts.SampleInterval, "sample", opts.SampleInterval, "Perf sample interval, 0 disables.")
	flag.IntVar(&opts.QueueDepth, "depth", opts.QueueDepth, "Task event queue depth.")
}

func main() {
	flag.Parse()

	fw, err := pmu.New(pmu.Build, opts)
	if err != nil {
		log.Fatalln(err)
	}
	d, err := fw.Host()
	if err != nil {
		log.Fatalln(err)
	}
	srv := bridge.NewServer(d)
	s := rtos.NewScheduler().HandleSignals()
	tasks := append(fw.Tasks(), rtos.NamedTask("bridge", srv))

	if useMQTT {
		conf := env.NewConfig()
		rw, err := conf.ServerReadWriter()
		if err != nil {
			log.Fatalln(err)
		}
		log.Printf("bridge on %s%s/", conf.MQTTURL, conf.InstanceID())
		tasks = append(tasks,
			rtos.NamedTask("mqtt", rw),
			rtos.NamedTask("mqtt-bridge", rtos.TaskFunc(func(ctx context.Context) error {
				return srv.Serve(ctx, rw)
			})))
	}
	if tcpAddr != "" {
		l, err := net.Listen("tcp", tcpAddr)
		if err != nil {
			log.Fatalln(err)
		}
		log.Printf("bridge on tcp://%s", l.Addr())
		tasks = append(tasks, rtos.NamedTask("tcp", rtos.TaskFunc(func(ctx context.Context) error {
			return srv.ServeStream(ctx, l)
		})))
	}
	if wsAddr != "" {
		log.Printf("bridge on ws://%s%s", wsAddr, wsPath)
		tasks = append(tasks, rtos.NamedTask("websocket", rtos.TaskFunc(func(ctx context.Context) error {
			return srv.ServeWebsocket(ctx, wsAddr, wsPath)
		})))
	}

	if err := s.Start(tasks...).Wait(); err != nil {
		log.Fatalln(err)
	}
}
