// Package cmd implements the walletctl subcommands: local keystore management
// and helpers for driving the approvald API from scripts.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "walletctl",
	Short: "Keystore and approvald helper CLI",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
