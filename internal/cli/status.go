package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mediagate-bot/mediagate/internal/daemon"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status <user_id>",
	Short: "Show a user's entitlement status",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	st, err := d.Engine.GetStatus(context.Background(), args[0])
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "USER\t%s\n", st.UserID)
	fmt.Fprintf(w, "PREMIUM\t%s\n", untilString(st.Premium, st.PremiumUntil))
	fmt.Fprintf(w, "VERIFIED\t%s\n", untilString(st.Verified, st.VerifiedUntil))
	fmt.Fprintf(w, "QUOTA\t%d/%d used today\n", st.FreeAttemptsUsed, st.FreeLimit)
	fmt.Fprintf(w, "POINTS\t%d\n", st.Points)
	fmt.Fprintf(w, "REFERRALS\t%d\n", st.ReferralCount)
	return w.Flush()
}

func untilString(active bool, until time.Time) string {
	if !active {
		return "no"
	}
	return fmt.Sprintf("until %s", until.Format("2006-01-02 15:04"))
}
