package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hypervideo/client-simulator/pkg/api"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch [participantId]",
	Short: "Stream participant events, optionally filtered to one participant",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		participantId := ""
		if len(args) == 1 {
			participantId = args[0]
		}

		ctx := commandContext()
		events, stop, err := workerClient().Watch(ctx, participantId)
		exitOnError(err)
		defer stop()

		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				printEvent(event)
			case <-ctx.Done():
				return
			}
		}
	},
}

func printEvent(event api.Event) {
	timestamp := event.Created.Format("15:04:05.000")
	switch event.Kind {
	case api.EventKindStateChanged:
		state := event.State
		if state == nil {
			return
		}
		if state.Stage == api.StageFailed {
			fmt.Printf("%s %s stage=%s reason=%q\n", timestamp, event.ParticipantId, state.Stage, state.FailureReason)
			return
		}
		fmt.Printf("%s %s stage=%s audio=%s video=%s screenshare=%s\n",
			timestamp, event.ParticipantId, state.Stage,
			onOff(!state.Muted), onOff(state.VideoOn), onOff(state.ScreensharingOn))
	case api.EventKindLog:
		fmt.Printf("%s %s [%s] %s\n", timestamp, event.ParticipantId, event.Level, event.Message)
	case api.EventKindError:
		fmt.Printf("%s %s error: %s\n", timestamp, event.ParticipantId, event.Message)
	}
}
