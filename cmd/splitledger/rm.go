package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/splitledger/splitledger/internal/ledger"
)

type rmCmd struct {
	clientFlags
}

func (*rmCmd) Name() string     { return "rm" }
func (*rmCmd) Synopsis() string { return "delete expenses by id" }
func (*rmCmd) Usage() string {
	return `splitledger rm <expense-id> [<expense-id>...]

  Deletes expenses. Ids that no longer exist are ignored.
`
}

func (c *rmCmd) SetFlags(f *flag.FlagSet) {
	c.register(f)
}

func (c *rmCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Error: at least one expense id is required.")
		return subcommands.ExitUsageError
	}

	store := c.store()
	defer store.Close()

	ctl := ledger.New(store, c.group, c.actor)
	for _, id := range f.Args() {
		if err := ctl.Delete(ctx, id); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			return subcommands.ExitFailure
		}
		fmt.Println("deleted", id)
	}
	return subcommands.ExitSuccess
}
