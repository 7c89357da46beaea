// Package cli implements the MediaGate command-line interface using Cobra.
// serve runs the engine; the rest are operator commands acting on the same
// store.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mediagate",
	Short: "MediaGate — entitlement & verification engine",
	Long: `MediaGate decides, for every file request a user makes, whether the
request is allowed: premium subscribers pass unconditionally, verified users
pass for the length of their window, everyone else spends the daily free
quota and is pointed at a verification challenge when it runs out.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
