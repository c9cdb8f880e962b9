package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hypervideo/client-simulator/internal/simulator/configuration"
	"github.com/hypervideo/client-simulator/internal/simulator/credentials"
)

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.Flags().String("base-url", "", "Base URL of the conferencing deployment")
	authCmd.Flags().String("stash", "", "Credential stash file (defaults to ~/.client-simulator/credentials.json)")
	_ = authCmd.MarkFlagRequired("base-url")
}

var authCmd = &cobra.Command{
	Use:   "auth <username>...",
	Short: "Pre-warm credentials by creating guest sessions",
	Long: `Pre-warm credentials by creating guest sessions.

Logs the given usernames in against the conferencing deployment and stores the
session cookies in the credential stash, so a later batch does not spend its
ramp-up on logins. Point the workers at the same stash file.
`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		baseUrl, _ := cmd.Flags().GetString("base-url")
		stashPath, _ := cmd.Flags().GetString("stash")

		stash, err := credentials.NewFileStash(stashPath)
		exitOnError(err)
		defer stash.Close()

		auth := credentials.NewHttpAuthClient(configuration.AuthConfig{
			BaseUrl:        baseUrl,
			RequestTimeout: 30 * time.Second,
		})
		store := credentials.NewStore(auth, stash, configuration.CredentialsConfig{})

		ctx := commandContext()
		for _, username := range args {
			if _, err := store.Get(ctx, username); err != nil {
				exitOnError(fmt.Errorf("login for %s failed: %w", username, err))
			}
			fmt.Printf("Credential ready for %s\n", username)
		}
	},
}
