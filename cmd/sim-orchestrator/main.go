package main

import (
	"github.com/hypervideo/client-simulator/cmd/sim-orchestrator/cmd"
	"github.com/hypervideo/client-simulator/internal/common"
)

func main() {
	common.ConfigureCommandLineLogging()
	cmd.Execute()
}
