package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "heraldctl",
		Short: "Command line companion for the herald notification server",
		Long: `heraldctl mints development tokens and follows the live new-user
notification stream of a herald server.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newTokenCmd(),
		newListenCmd(),
		newVersionCmd(),
	)
	return rootCmd
}
