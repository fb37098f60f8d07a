package main

import (
	"flag"
	"log"
	"strings"

	"github.com/robotalks/pmu.go/pkg/bridge/env"
	"github.com/robotalks/pmu.go/pkg/bridge/msgs"
	"github.com/robotalks/pmu.go/pkg/bridge/mqtt"
	"github.com/robotalks/pmu.go/pkg/rpc"
)

func init() {
	env.SetupFlags()
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	q, err := env.NewConfig().Queue()
	if err != nil {
		log.Fatalln(err)
	}
	defer q.Close()

	q.Sub("#", mqtt.Handler(func(topic string, payload []byte) {
		pkt, err := msgs.Decode(payload)
		if err != nil {
			log.Printf("%s: bad packet: %v", topic, err)
			return
		}
		var desc []string
		if pkt.Frame != nil {
			h := pkt.Frame.Header()
			desc = append(desc, rpc.UnitName(h.Addressee)+" "+h.String())
		}
		if pkt.Status != nil {
			desc = append(desc, "status "+pkt.Status.String())
		}
		log.Printf("%s: [tag=%d] %s", topic, pkt.Tag, strings.Join(desc, " "))
	}))
	<-(chan struct{})(nil)
}
