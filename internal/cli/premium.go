package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mediagate-bot/mediagate/internal/daemon"
)

func init() {
	premiumCmd.AddCommand(premiumGrantCmd)
	premiumCmd.AddCommand(premiumRevokeCmd)
	rootCmd.AddCommand(premiumCmd)
}

var premiumCmd = &cobra.Command{
	Use:   "premium",
	Short: "Administer premium subscriptions",
}

var premiumGrantCmd = &cobra.Command{
	Use:   "grant <user_id> <days>",
	Short: "Grant premium days to a user (stacks onto remaining time)",
	Args:  cobra.ExactArgs(2),
	RunE:  runPremiumGrant,
}

var premiumRevokeCmd = &cobra.Command{
	Use:   "revoke <user_id>",
	Short: "Revoke a user's premium",
	Args:  cobra.ExactArgs(1),
	RunE:  runPremiumRevoke,
}

func runPremiumGrant(cmd *cobra.Command, args []string) error {
	days, err := strconv.Atoi(args[1])
	if err != nil || days <= 0 {
		return fmt.Errorf("days must be a positive integer, got %q", args[1])
	}

	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	until, err := d.Engine.GrantPremium(context.Background(), args[0], time.Duration(days)*24*time.Hour)
	if err != nil {
		return err
	}

	fmt.Printf("Premium granted to %s until %s\n", args[0], until.Format("2006-01-02 15:04"))
	return nil
}

func runPremiumRevoke(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.Engine.RevokePremium(context.Background(), args[0]); err != nil {
		return err
	}

	fmt.Printf("Premium revoked for %s\n", args[0])
	return nil
}
