package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mediagate-bot/mediagate/internal/daemon"
)

func init() {
	pointsCmd.Flags().IntVar(&pointsLimit, "limit", 20, "Max ledger entries to show")
	rootCmd.AddCommand(pointsCmd)
}

var pointsLimit int

var pointsCmd = &cobra.Command{
	Use:   "points <user_id>",
	Short: "Show a user's points ledger",
	Args:  cobra.ExactArgs(1),
	RunE:  runPoints,
}

func runPoints(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	entries, err := d.Engine.PointsHistory(context.Background(), args[0], pointsLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No ledger entries.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tDELTA\tBALANCE\tREASON")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%+d\t%d\t%s\n",
			e.CreatedAt.Format("2006-01-02 15:04"), e.Delta, e.Balance, e.Reason)
	}
	return w.Flush()
}
