package main

import (
	"github.com/robotalks/pmu.go/pkg/bridge/env"
	"github.com/robotalks/pmu.go/pkg/cli/sh"

	_ "github.com/robotalks/pmu.go/pkg/cli/cmds/pmu"
)

//go-build: CGO_ENABLED=0

func init() {
	env.SetupFlags()
}

func main() {
	sh.Main()
}
