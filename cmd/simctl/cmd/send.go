package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hypervideo/client-simulator/pkg/api"
)

func init() {
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <participantId> <command> [value]",
	Short: "Send a command to a participant",
	Long: `Send a command to a participant.

Commands: join, leave, toggle-audio, toggle-video, toggle-screenshare,
toggle-background-blur, set-resolution <resolution>,
set-noise-suppression <algorithm>, close.
`,
	Args: cobra.RangeArgs(2, 3),
	Run: func(cmd *cobra.Command, args []string) {
		command, err := commandFromArgs(args[1], args[2:])
		exitOnError(err)
		exitOnError(workerClient().Send(commandContext(), args[0], command))
		fmt.Printf("Command %s accepted by %s\n", command.Kind, args[0])
	},
}

func commandFromArgs(kind string, values []string) (api.Command, error) {
	parsed, err := api.ParseCommandKind(kind)
	if err != nil {
		return api.Command{}, err
	}
	command := api.Command{Kind: parsed}

	switch parsed {
	case api.CommandSetResolution:
		if len(values) != 1 {
			return command, fmt.Errorf("%s needs a resolution value", parsed)
		}
		if command.Resolution, err = api.ParseResolution(values[0]); err != nil {
			return command, err
		}
	case api.CommandSetNoiseSuppression:
		if len(values) != 1 {
			return command, fmt.Errorf("%s needs an algorithm value", parsed)
		}
		if command.NoiseSuppression, err = api.ParseNoiseSuppression(values[0]); err != nil {
			return command, err
		}
	default:
		if len(values) != 0 {
			return command, fmt.Errorf("%s does not take a value", parsed)
		}
	}
	return command, nil
}
