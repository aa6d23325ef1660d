package main

import "github.com/signet-labs/approvald/cmd/walletctl/cmd"

func main() {
	cmd.Execute()
}
