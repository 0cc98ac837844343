// Command raam is an operator CLI around the RAAM library: generating
// a channel's key file offline (keygen) and decoding a public-mode
// ledger record without a running publisher (decode). Structured the
// way the pack's command entry points wire cobra.Command trees
// (orbas1-Synnergy's cmd/cli package, slowdrip-network-slowdrip-miner's
// cmd/miner/main.go loading config before doing anything else).
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	log := logrus.StandardLogger()

	root := &cobra.Command{
		Use:   "raam",
		Short: "Operator commands for the RAAM authenticated-messaging protocol",
	}

	root.AddCommand(newKeygenCommand(log))
	root.AddCommand(newDecodeCommand(log))

	if err := root.Execute(); err != nil {
		log.WithError(err).Error("raam: command failed")
		os.Exit(1)
	}
}
