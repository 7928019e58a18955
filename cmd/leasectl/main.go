package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "leasectl",
		Short:         "Client and operator tooling for the leased address server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newAcquireCommand())
	cmd.AddCommand(newWatchCommand())
	cmd.AddCommand(newLeasesCommand())
	return cmd
}
