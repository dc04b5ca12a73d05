// Package cli implements the seednet command-line interface using Cobra.
// Each subcommand lives in its own file and registers itself in init.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "seednet",
	Short: "seednet - peer coordination node for a distributed search network",
	Long: `seednet keeps a directory of peers, ranks them on a DHT ring and
gossips peer records and news with the rest of the network.`,
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
