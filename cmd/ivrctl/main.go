package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ivrctl",
		Short:         "Operator tooling for the toll-free IVR",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(renderCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(reapCmd())
	rootCmd.AddCommand(tokenCmd())

	return rootCmd
}
