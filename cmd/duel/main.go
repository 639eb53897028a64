// Command duel is a headless player for the battle service. It hosts,
// joins or matchmakes into a battle and plays all rounds with a simulated
// guesser, which makes it handy for smoke tests and load runs.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := &duelConfig{}
	cobra.CheckErr(newCmd(cfg).ExecuteContext(ctx))
}
