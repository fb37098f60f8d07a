// Package pmu adds the PMU commands to the shell.
package pmu

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/pmu.go/pkg/cli/sh"
	"github.com/robotalks/pmu.go/pkg/rpc"
)

// Command queues.
const (
	cmdQueue  = 0
	perfQueue = 1
)

func parseUint(c *ishell.Context, name, val string, bits int) (uint64, bool) {
	n, err := strconv.ParseUint(val, 0, bits)
	if err != nil {
		c.Err(fmt.Errorf("Invalid %s: %v", name, err))
		return 0, false
	}
	return n, true
}

// ParsePayload parses hex bytes like "01 02" or "0102".
func ParsePayload(args []string) ([]byte, error) {
	return hex.DecodeString(strings.Join(args, ""))
}

var (
	// PingCmd pings the PMU.
	PingCmd = ishell.Cmd{
		Name: "ping",
		Help: "[TEXT]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			sh.DoCommand(c, cmdQueue, rpc.UnitCmdMgmt, rpc.FuncPing, []byte(strings.Join(c.Args, " ")))
		}),
	}

	// SendCmd sends a raw command.
	SendCmd = ishell.Cmd{
		Name: "send",
		Help: "QUEUE UNIT FUNCTION [HEX-PAYLOAD]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) < 3 {
				c.Err(fmt.Errorf("QUEUE UNIT FUNCTION required"))
				return
			}
			queue, ok := parseUint(c, "QUEUE", c.Args[0], 8)
			if !ok {
				return
			}
			unit, ok := parseUint(c, "UNIT", c.Args[1], 8)
			if !ok {
				return
			}
			function, ok := parseUint(c, "FUNCTION", c.Args[2], 8)
			if !ok {
				return
			}
			payload, err := ParsePayload(c.Args[3:])
			if err != nil {
				c.Err(fmt.Errorf("Invalid payload: %v", err))
				return
			}
			sh.DoCommand(c, int(queue), uint8(unit), uint8(function), payload)
		}),
	}

	// MclkCmd switches the memory clock.
	MclkCmd = ishell.Cmd{
		Name:    "mclk",
		Aliases: []string{"perf.mclk"},
		Help:    "KHZ",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("KHZ required"))
				return
			}
			khz, ok := parseUint(c, "KHZ", c.Args[0], 32)
			if !ok {
				return
			}
			reply, err := sh.DoCommand(c, perfQueue, rpc.UnitPerf, rpc.FuncMclkSwitch, rpc.PutU32(nil, uint32(khz)))
			if err == nil && len(reply.Payload) >= 4 {
				c.Printf("mclk %d kHz\n", rpc.U32(reply.Payload, 0))
			}
		}),
	}

	// HaltCmd notifies a halt.
	HaltCmd = ishell.Cmd{
		Name:    "halt",
		Aliases: []string{"perf.halt"},
		Help:    "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			sh.DoCommand(c, perfQueue, rpc.UnitPerf, rpc.FuncHaltNotify, nil)
		}),
	}

	// TrainingCmd queries the memory training status.
	TrainingCmd = ishell.Cmd{
		Name:    "training",
		Aliases: []string{"perf.training"},
		Help:    "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			sh.DoCommand(c, perfQueue, rpc.UnitPerf, rpc.FuncTrainingStatus, nil)
		}),
	}

	// SecPingCmd pings the secure coprocessor.
	SecPingCmd = ishell.Cmd{
		Name: "secping",
		Help: "[DATA32]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			var payload []byte
			if len(c.Args) > 0 {
				val, ok := parseUint(c, "DATA32", c.Args[0], 32)
				if !ok {
					return
				}
				payload = rpc.PutU32(nil, uint32(val))
			}
			sh.DoCommand(c, cmdQueue, rpc.UnitCmdMgmt, rpc.FuncSecPing, payload)
		}),
	}

	// PeerResetCmd abandons the request in flight on a peer channel.
	PeerResetCmd = ishell.Cmd{
		Name: "peer-reset",
		Help: "[fbflcn|sec]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			var payload []byte
			if len(c.Args) > 0 {
				switch c.Args[0] {
				case "fbflcn":
					payload = []byte{1}
				case "sec":
					payload = []byte{2}
				default:
					c.Err(fmt.Errorf("Invalid channel: %s", c.Args[0]))
					return
				}
			}
			sh.DoCommand(c, cmdQueue, rpc.UnitCmdMgmt, rpc.FuncPeerReset, payload)
		}),
	}

	// StatsCmd queries the command processor counters.
	StatsCmd = ishell.Cmd{
		Name: "stats",
		Help: "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			reply, err := sh.DoCommand(c, cmdQueue, rpc.UnitCmdMgmt, rpc.FuncQueryStats, nil)
			if err != nil || len(reply.Payload) < 24 {
				return
			}
			names := []string{"passes", "failures", "frames", "unrouted", "dropped", "signals"}
			for n, name := range names {
				c.Printf("%-9s %d\n", name, rpc.U32(reply.Payload, n*4))
			}
		}),
	}
)

func init() {
	sh.AddCmds(
		&PingCmd,
		&SendCmd,
		&MclkCmd,
		&HaltCmd,
		&TrainingCmd,
		&SecPingCmd,
		&PeerResetCmd,
		&StatsCmd,
	)
}
