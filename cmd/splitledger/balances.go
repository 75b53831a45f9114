package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/splitledger/splitledger/internal/calculator"
)

type balancesCmd struct {
	clientFlags
}

func (*balancesCmd) Name() string     { return "balances" }
func (*balancesCmd) Synopsis() string { return "show who owes whom, net across all expenses" }
func (*balancesCmd) Usage() string {
	return `splitledger balances

  Computes the net balance of every participant from the group's full
  expense collection.
`
}

func (c *balancesCmd) SetFlags(f *flag.FlagSet) {
	c.register(f)
}

func (c *balancesCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	store := c.store()
	defer store.Close()

	expenses, err := store.ListExpenses(ctx, c.group)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return subcommands.ExitFailure
	}

	balances := calculator.Balances(expenses)
	if len(balances) == 0 {
		fmt.Println("no expenses recorded")
		return subcommands.ExitSuccess
	}

	fmt.Printf("balances for group %s (%d expenses):\n", c.group, len(expenses))
	printBalances(balances)
	return subcommands.ExitSuccess
}
