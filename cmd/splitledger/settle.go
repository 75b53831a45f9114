package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/splitledger/splitledger/internal/calculator"
)

type settleCmd struct {
	clientFlags
}

func (*settleCmd) Name() string     { return "settle" }
func (*settleCmd) Synopsis() string { return "suggest transfers that clear all balances" }
func (*settleCmd) Usage() string {
	return `splitledger settle

  Prints a minimal list of transfers that settles the group, matching
  the largest debtors against the largest creditors.
`
}

func (c *settleCmd) SetFlags(f *flag.FlagSet) {
	c.register(f)
}

func (c *settleCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	store := c.store()
	defer store.Close()

	expenses, err := store.ListExpenses(ctx, c.group)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return subcommands.ExitFailure
	}

	edges := calculator.Settlements(calculator.Balances(expenses))
	if len(edges) == 0 {
		fmt.Println("all settled")
		return subcommands.ExitSuccess
	}

	for _, edge := range edges {
		fmt.Printf("  %s pays %s to %s\n", edge.From, edge.Amount.StringFixed(2), edge.To)
	}
	return subcommands.ExitSuccess
}
