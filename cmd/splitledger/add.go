package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/subcommands"

	"github.com/splitledger/splitledger/internal/ledger"
)

type addCmd struct {
	clientFlags
	description  string
	amount       string
	payer        string
	participants string
}

func (*addCmd) Name() string     { return "add" }
func (*addCmd) Synopsis() string { return "record a shared expense" }
func (*addCmd) Usage() string {
	return `splitledger add -desc <text> -amount <total> -payer <name> [-with <name,name,...>]

  Records an expense split evenly among the payer and the listed
  participants. The payer is always included, so -with may be omitted
  for a single-person expense.
`
}

func (c *addCmd) SetFlags(f *flag.FlagSet) {
	c.register(f)
	f.StringVar(&c.description, "desc", "", "Expense description.")
	f.StringVar(&c.amount, "amount", "", "Total amount, e.g. 42.50.")
	f.StringVar(&c.payer, "payer", "", "Participant who paid.")
	f.StringVar(&c.participants, "with", "", "Comma-separated participants sharing the expense.")
}

func (c *addCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	store := c.store()
	defer store.Close()

	ctl := ledger.New(store, c.group, c.actor)
	ctl.SetDescription(c.description)
	ctl.SetAmount(c.amount)
	for _, name := range strings.Split(c.participants, ",") {
		ctl.SelectParticipant(name)
	}
	ctl.SetPayer(c.payer)

	expense, err := ctl.Submit(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return subcommands.ExitFailure
	}

	fmt.Printf("recorded %s: %s paid %s, %s each for %s\n",
		expense.ID,
		expense.PayerID,
		expense.TotalAmount.StringFixed(2),
		expense.SplitAmount.StringFixed(2),
		strings.Join(expense.ParticipantIDs, ", "),
	)
	return subcommands.ExitSuccess
}
