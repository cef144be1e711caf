package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/aveles/syncroom/internal/domain"
)

var presentCmd = &cobra.Command{
	Use:   "present <room-id>",
	Short: "Join a room and claim the presenter slot",
	Long: `Join a watch-together room and request the presenter slot. Once granted,
the client opens a direct WebRTC link to every participant, including anyone
who joins later. Only one presenter may be active per room.

Examples:
  syncroom present movie-night --name Host`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		c, err := connect(ctx, domain.RoomID(args[0]))
		if err != nil {
			return err
		}
		if err := c.RequestShare(); err != nil {
			return err
		}
		pterm.Info.Println("Presenter slot requested")

		if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(presentCmd)
}
