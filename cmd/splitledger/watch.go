package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"github.com/splitledger/splitledger/internal/ledger"
)

type watchCmd struct {
	clientFlags
}

func (*watchCmd) Name() string     { return "watch" }
func (*watchCmd) Synopsis() string { return "follow the group's balances live" }
func (*watchCmd) Usage() string {
	return `splitledger watch

  Subscribes to the group's change feed and reprints net balances on
  every change, by any writer, until interrupted.
`
}

func (c *watchCmd) SetFlags(f *flag.FlagSet) {
	c.register(f)
}

func (c *watchCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	store := c.store()
	defer store.Close()

	ctl := ledger.New(store, c.group, c.actor)
	ctl.OnBalances = func(balances map[string]decimal.Decimal) {
		fmt.Printf("--- group %s ---\n", c.group)
		if len(balances) == 0 {
			fmt.Println("  no expenses recorded")
			return
		}
		printBalances(balances)
	}

	if err := ctl.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return subcommands.ExitFailure
	}
	defer ctl.Stop()

	<-ctx.Done()
	if ctl.Stale() {
		fmt.Fprintln(os.Stderr, "warning: change feed was lost, last shown balances may be stale")
	}
	return subcommands.ExitSuccess
}
