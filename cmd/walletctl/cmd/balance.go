package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"
)

var balanceRPCURL string

var balanceCmd = &cobra.Command{
	Use:   "balance <address>",
	Short: "Read an account's wei balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !common.IsHexAddress(args[0]) {
			return fmt.Errorf("%q is not a hex address", args[0])
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		eth, err := ethclient.Dial(balanceRPCURL)
		if err != nil {
			return fmt.Errorf("dial rpc: %w", err)
		}
		defer eth.Close()

		balance, err := eth.BalanceAt(ctx, common.HexToAddress(args[0]), nil)
		if err != nil {
			return fmt.Errorf("balance: %w", err)
		}
		fmt.Printf("%s wei\n", balance)
		return nil
	},
}

func init() {
	balanceCmd.Flags().StringVar(&balanceRPCURL, "rpc", "http://localhost:8545", "JSON-RPC endpoint")
	rootCmd.AddCommand(balanceCmd)
}
