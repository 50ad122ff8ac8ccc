// Command qbft runs QBFT validator networks in a single process.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "qbft",
		Short:         "QBFT consensus engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "path to a config file (env QBFT_* overrides it)")

	root.AddCommand(
		newDevnetCmd(),
		newKeygenCmd(),
		newVersionCmd(),
	)

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(version)
		},
	}
}
