package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/splitledger/splitledger/internal/storage/httpclient"
)

// clientFlags are the connection flags shared by every command.
type clientFlags struct {
	server string
	group  string
	actor  string
}

func (c *clientFlags) register(f *flag.FlagSet) {
	f.StringVar(&c.server, "server", envOr("SPLITLEDGER_SERVER", "http://localhost:8080"), "Server base URL.")
	f.StringVar(&c.group, "group", envOr("SPLITLEDGER_GROUP", "default"), "Settlement group id.")
	f.StringVar(&c.actor, "actor", envOr("SPLITLEDGER_ACTOR", defaultActor()), "Actor id recorded on writes.")
}

func (c *clientFlags) store() *httpclient.Store {
	return httpclient.New(c.server, c.actor)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultActor() string {
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "splitledger-cli"
}

// printBalances renders a balance map sorted by name, creditors
// positive, debtors negative, settled participants shown explicitly.
func printBalances(balances map[string]decimal.Decimal) {
	names := make([]string, 0, len(balances))
	for name := range balances {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		bal := balances[name]
		switch bal.Sign() {
		case 1:
			fmt.Printf("  %-20s is owed %s\n", name, bal.StringFixed(2))
		case -1:
			fmt.Printf("  %-20s owes   %s\n", name, bal.Neg().StringFixed(2))
		default:
			fmt.Printf("  %-20s settled\n", name)
		}
	}
}
