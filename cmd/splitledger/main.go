// Command splitledger is a terminal client for a splitledger server:
// it records shared expenses, watches the live balance feed, and
// suggests settle-up transfers.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"

	"github.com/splitledger/splitledger/pkg/logging"
)

func main() {
	logging.Setup()

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(&addCmd{}, "expenses")
	commander.Register(&rmCmd{}, "expenses")
	commander.Register(&balancesCmd{}, "ledger")
	commander.Register(&settleCmd{}, "ledger")
	commander.Register(&watchCmd{}, "ledger")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
