package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aveles/syncroom/internal/domain"
)

var watchCmd = &cobra.Command{
	Use:   "watch <room-id>",
	Short: "Join a room as a viewer",
	Long: `Join a watch-together room. Playback updates, roster changes, chat and
incoming shared streams are printed as they arrive.

Examples:
  syncroom watch movie-night --name Alice
  syncroom watch movie-night -s https://sync.example.com`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		c, err := connect(ctx, domain.RoomID(args[0]))
		if err != nil {
			return err
		}
		if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
