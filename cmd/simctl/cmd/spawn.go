package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hypervideo/client-simulator/pkg/api"
)

func init() {
	rootCmd.AddCommand(spawnCmd)
	spawnCmd.Flags().String("strategy", "protocol", "Participant strategy (surface or protocol)")
	spawnCmd.Flags().Bool("audio", true, "Join with the microphone enabled")
	spawnCmd.Flags().Bool("video", true, "Join with the camera enabled")
	spawnCmd.Flags().Bool("screenshare", false, "Join with screensharing enabled")
	spawnCmd.Flags().Bool("background-blur", false, "Join with background blur enabled")
	spawnCmd.Flags().String("resolution", "", "Camera resolution (auto, 144p .. 2160p)")
	spawnCmd.Flags().String("transport", "", "Media transport (webtransport or webrtc)")
	spawnCmd.Flags().String("noise-suppression", "", "Noise suppression algorithm")
	spawnCmd.Flags().String("fake-media", "", "Fake media source (none, builtin, or a file/URL)")
	spawnCmd.Flags().Bool("join", false, "Issue a join command right after spawning")
}

var spawnCmd = &cobra.Command{
	Use:   "spawn <username> <spaceUrl>",
	Short: "Spawn a participant on the worker",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		spec, err := specFromFlags(cmd, args[0], args[1])
		exitOnError(err)

		ctx := commandContext()
		c := workerClient()
		state, err := c.Spawn(ctx, spec)
		exitOnError(err)
		fmt.Printf("Spawned participant %s (%s)\n", state.Id, state.Username)

		if join, _ := cmd.Flags().GetBool("join"); join {
			exitOnError(c.Send(ctx, state.Id, api.Command{Kind: api.CommandJoin}))
			fmt.Printf("Join issued for %s\n", state.Id)
		}
	},
}

func specFromFlags(cmd *cobra.Command, username, spaceUrl string) (api.ParticipantSpec, error) {
	spec := api.ParticipantSpec{Username: username, SpaceUrl: spaceUrl}

	raw, _ := cmd.Flags().GetString("strategy")
	strategy, err := api.ParseStrategyKind(raw)
	if err != nil {
		return spec, err
	}
	spec.Strategy = strategy

	spec.Settings.Audio, _ = cmd.Flags().GetBool("audio")
	spec.Settings.Video, _ = cmd.Flags().GetBool("video")
	spec.Settings.Screenshare, _ = cmd.Flags().GetBool("screenshare")
	spec.Settings.BackgroundBlur, _ = cmd.Flags().GetBool("background-blur")

	raw, _ = cmd.Flags().GetString("resolution")
	if spec.Settings.Resolution, err = api.ParseResolution(raw); err != nil {
		return spec, err
	}
	raw, _ = cmd.Flags().GetString("transport")
	if spec.Settings.Transport, err = api.ParseTransport(raw); err != nil {
		return spec, err
	}
	raw, _ = cmd.Flags().GetString("noise-suppression")
	if spec.Settings.NoiseSuppression, err = api.ParseNoiseSuppression(raw); err != nil {
		return spec, err
	}
	raw, _ = cmd.Flags().GetString("fake-media")
	if spec.Settings.FakeMedia, err = api.ParseFakeMedia(raw); err != nil {
		return spec, err
	}
	return spec, nil
}
