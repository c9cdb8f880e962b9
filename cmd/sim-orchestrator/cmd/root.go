package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sim-orchestrator command",
	Short: "Run batches of simulated conference participants across workers",
	Long: `Run batches of simulated conference participants across workers.

A batch is described in a YAML file:

spaceUrl: https://meet.example.com/spaces/standup
workers:
  - http://worker-1:8585
  - http://worker-2:8585
defaults:
  audio: true
  video: true
  strategy: protocol
participants:
  - username: alice
  - username: bob
    joinDelaySeconds: 5
count: 48
runSeconds: 300
timeoutSeconds: 900
`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
