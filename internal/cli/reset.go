package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mediagate-bot/mediagate/internal/daemon"
)

func init() {
	rootCmd.AddCommand(resetCmd)
}

var resetCmd = &cobra.Command{
	Use:   "reset <user_id>",
	Short: "Clear a user's verification, pending challenge, and quota counter",
	Args:  cobra.ExactArgs(1),
	RunE:  runReset,
}

func runReset(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.Engine.ResetUser(context.Background(), args[0]); err != nil {
		return err
	}

	fmt.Printf("Reset %s\n", args[0])
	return nil
}
