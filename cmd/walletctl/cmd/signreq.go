package cmd

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/signet-labs/approvald/internal/auth"
)

var (
	signAction string
	signFlowID string
	signTTL    time.Duration
)

// sign-request builds the three auth headers the approvald API expects, for
// driving it with curl. The private key hex is read from stdin so it never
// lands in shell history.
var signReqCmd = &cobra.Command{
	Use:   "sign-request",
	Short: "Produce signed auth headers for the approvald API",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprint(os.Stderr, "Private key (hex): ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return fmt.Errorf("read key: %w", err)
		}
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(line), "0x"))
		if err != nil {
			return fmt.Errorf("parse key: %w", err)
		}

		nonce := make([]byte, 16)
		if _, err := rand.Read(nonce); err != nil {
			return err
		}

		env := auth.Envelope{
			Action:    signAction,
			FlowID:    signFlowID,
			Nonce:     hex.EncodeToString(nonce),
			ExpiresAt: time.Now().Add(signTTL).Unix(),
		}
		msg, err := json.Marshal(env)
		if err != nil {
			return err
		}
		sig, err := auth.SignMessage(msg, key)
		if err != nil {
			return err
		}

		addr := crypto.PubkeyToAddress(key.PublicKey)
		fmt.Printf("X-Wallet-Address: %s\n", addr.Hex())
		fmt.Printf("X-Signed-Message: %s\n", base64.StdEncoding.EncodeToString(msg))
		fmt.Printf("X-Wallet-Signature: 0x%s\n", hex.EncodeToString(sig))
		return nil
	},
}

func init() {
	signReqCmd.Flags().StringVar(&signAction, "action", "approvals:start", "envelope action")
	signReqCmd.Flags().StringVar(&signFlowID, "flow", "", "flow ID (empty for creation)")
	signReqCmd.Flags().DurationVar(&signTTL, "ttl", 2*time.Minute, "envelope validity window")
	rootCmd.AddCommand(signReqCmd)
}
