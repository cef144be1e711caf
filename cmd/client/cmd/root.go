// Package cmd holds the CLI commands for the syncroom client.
package cmd

import (
	"os"

	"github.com/pterm/pterm"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	flagServer  string
	flagName    string
	flagToken   string
	flagSecret  string
	flagSTUN    []string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "syncroom",
	Short: "Watch-together client: shared playback state and screen share over WebRTC",
	Long: `syncroom joins a watch-together room on a syncroom server. Playback
position and play/pause state stay in sync across all participants, and one
participant at a time may share a stream to the room over direct WebRTC links.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		if flagVerbose {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		} else {
			zerolog.SetGlobalLevel(zerolog.WarnLevel)
		}
	},
}

func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err.Error())
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagServer, "server", "s", "http://localhost:8080", "syncroom server URL")
	rootCmd.PersistentFlags().StringVarP(&flagName, "name", "n", "", "display name")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "bearer token (minted locally from --secret when empty)")
	rootCmd.PersistentFlags().StringVar(&flagSecret, "secret", "dev-secret", "shared secret for local token minting")
	rootCmd.PersistentFlags().StringSliceVar(&flagSTUN, "stun", []string{"stun:stun.l.google.com:19302"}, "STUN server URLs")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
}
