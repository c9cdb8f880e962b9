package cmd

import (
	"context"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hypervideo/client-simulator/internal/common/app"
	"github.com/hypervideo/client-simulator/pkg/client"
)

var rootCmd = &cobra.Command{
	Use:   "simctl command",
	Short: "Operator console for simulator workers",
	Long: `Operator console for simulator workers.

Spawns, inspects and drives simulated conference participants on one worker
through its HTTP and websocket API.

Example:

simctl --worker http://localhost:8585 spawn alice https://meet.example.com/spaces/standup
simctl list
simctl send 01GQ3... toggle-audio
simctl watch 01GQ3...
`,
}

func init() {
	rootCmd.PersistentFlags().String("worker", "http://localhost:8585", "Base URL of the worker gateway")
	if err := viper.BindPFlag("worker", rootCmd.PersistentFlags().Lookup("worker")); err != nil {
		panic(err)
	}
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func workerClient() *client.Client {
	return client.New(viper.GetString("worker"))
}

func commandContext() context.Context {
	return app.CreateContextWithShutdown()
}

func exitOnError(err error) {
	if err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
