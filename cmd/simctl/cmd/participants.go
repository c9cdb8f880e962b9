package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hypervideo/client-simulator/pkg/api"
)

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(closeCmd)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the worker's participants",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		states, err := workerClient().List(commandContext())
		exitOnError(err)

		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUSERNAME\tSTAGE\tAUDIO\tVIDEO\tSCREENSHARE")
		for _, state := range states {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				state.Id, state.Username, state.Stage,
				onOff(!state.Muted), onOff(state.VideoOn), onOff(state.ScreensharingOn))
		}
		_ = w.Flush()
	},
}

var getCmd = &cobra.Command{
	Use:   "get <participantId>",
	Short: "Show one participant's full state",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		state, err := workerClient().Get(commandContext(), args[0])
		exitOnError(err)
		printState(state)
	},
}

var closeCmd = &cobra.Command{
	Use:   "close <participantId>",
	Short: "Close a participant, leaving the session first if it has joined",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		exitOnError(workerClient().Close(commandContext(), args[0]))
		fmt.Printf("Close issued for %s\n", args[0])
	},
}

func printState(state api.ParticipantState) {
	fmt.Printf("Id:               %s\n", state.Id)
	fmt.Printf("Username:         %s\n", state.Username)
	fmt.Printf("Stage:            %s\n", state.Stage)
	fmt.Printf("Audio:            %s\n", onOff(!state.Muted))
	fmt.Printf("Video:            %s\n", onOff(state.VideoOn))
	fmt.Printf("Screenshare:      %s\n", onOff(state.ScreensharingOn))
	fmt.Printf("Resolution:       %s\n", state.Resolution)
	fmt.Printf("Transport:        %s\n", state.Transport)
	fmt.Printf("NoiseSuppression: %s\n", state.NoiseSuppression)
	fmt.Printf("BackgroundBlur:   %s\n", onOff(state.BackgroundBlur))
	if state.Stage == api.StageFailed {
		fmt.Printf("FailedDuring:     %s\n", state.LastStage)
		fmt.Printf("FailureReason:    %s\n", state.FailureReason)
	}
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}
