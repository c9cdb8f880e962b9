package cmd

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hypervideo/client-simulator/internal/simulator/orchestrator"
)

func init() {
	rootCmd.AddCommand(validateCmd)
}

var validateCmd = &cobra.Command{
	Use:   "validate ./path/to/batch.yaml",
	Short: "Check a batch specification without dispatching anything",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		batch, err := orchestrator.LoadBatch(args[0])
		if err != nil {
			log.Error(err)
			os.Exit(1)
		}
		if err := batch.Validate(); err != nil {
			log.Error(err)
			os.Exit(1)
		}
		assignments := batch.Materialize()
		fmt.Printf("Batch is valid: %d participants across %d workers\n", len(assignments), len(batch.Workers))
	},
}
