package cmd

import (
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hypervideo/client-simulator/internal/common/app"
	"github.com/hypervideo/client-simulator/internal/simulator/orchestrator"
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().Duration("join-wait", orchestrator.DefaultJoinWait, "How long one participant may take to become active")
	if err := viper.BindPFlag("join-wait", runCmd.Flags().Lookup("join-wait")); err != nil {
		panic(err)
	}
}

var runCmd = &cobra.Command{
	Use:   "run ./path/to/batch.yaml",
	Short: "Validate, dispatch and track a batch, then print its summary",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		batch, err := orchestrator.LoadBatch(args[0])
		if err != nil {
			log.Error(err)
			os.Exit(1)
		}

		runner := orchestrator.NewRunner(orchestrator.NewWorkerDialer())
		if joinWait := viper.GetDuration("join-wait"); joinWait > 0 {
			runner.JoinWait = joinWait
		}

		started := time.Now()
		summary, err := runner.Run(app.CreateContextWithShutdown(), batch)
		if err != nil {
			log.Error(err)
			os.Exit(1)
		}
		log.Infof("Batch finished after %s", time.Since(started).Round(time.Second))

		if summary.Count(orchestrator.OutcomeJoined) < len(summary.Results) {
			os.Exit(2)
		}
	},
}
