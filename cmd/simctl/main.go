package main

import (
	"github.com/hypervideo/client-simulator/cmd/simctl/cmd"
	"github.com/hypervideo/client-simulator/internal/common"
)

func main() {
	common.ConfigureCommandLineLogging()
	cmd.Execute()
}
