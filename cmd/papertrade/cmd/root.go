package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "papertrade",
	Short: "A paper-trading market simulator with a balance-consistent trade ledger",
	Long: `Papertrade simulates a tradable-instrument market and lets users open
and close leveraged positions against a virtual balance.

It provides:
  - A synthetic quote feed (bounded random walk per instrument)
  - Pub/sub quote fan-out with bounded rolling history
  - An execution desk with fees, P&L accounting and per-user serialization
  - A write-once transaction journal (SQLite or in-memory)

Complete documentation is available at https://github.com/rustyeddy/papertrade`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}
