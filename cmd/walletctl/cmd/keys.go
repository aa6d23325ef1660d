package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/signet-labs/approvald/internal/wallet"
)

var keysDir string

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage keystore accounts",
}

var keysNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a new keystore account (passphrase read from stdin)",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprint(os.Stderr, "Passphrase: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return fmt.Errorf("read passphrase: %w", err)
		}
		passphrase := strings.TrimRight(line, "\r\n")
		if passphrase == "" {
			return fmt.Errorf("passphrase must not be empty")
		}

		addr, err := wallet.CreateAccount(keysDir, passphrase)
		if err != nil {
			return err
		}
		fmt.Println(addr.Hex())
		return nil
	},
}

func init() {
	keysCmd.PersistentFlags().StringVar(&keysDir, "keystore", "keystore", "keystore directory")
	keysCmd.AddCommand(keysNewCmd)
	rootCmd.AddCommand(keysCmd)
}
