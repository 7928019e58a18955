package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"leased/internal/client"
	"leased/internal/config"
	"leased/pkg/telemetry"
)

func newAcquireCommand() *cobra.Command {
	var (
		serverAddr string
		listenAddr string
		timeout    time.Duration
		attempts   int
		lenient    bool
	)

	cmd := &cobra.Command{
		Use:   "acquire",
		Short: "Run the Discover/Offer/Request/Ack handshake and print the leased address",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ccfg := cfg.Client
			flags := cmd.Flags()
			if flags.Changed("server") {
				ccfg.ServerAddress = serverAddr
			}
			if flags.Changed("listen") {
				ccfg.ListenAddress = listenAddr
			}
			if flags.Changed("timeout") {
				ccfg.Timeout = timeout
			}
			if flags.Changed("attempts") {
				ccfg.Attempts = attempts
			}
			if flags.Changed("lenient") {
				ccfg.Strict = !lenient
			}

			logger := telemetry.NewLogger("leasectl", os.Stderr)
			c, err := client.Dial(cmd.Context(), ccfg, logger)
			if err != nil {
				return err
			}
			defer c.Close()

			offer, err := c.Acquire(cmd.Context())
			if err != nil {
				return err
			}

			mask := ""
			if len(offer.SubnetMask) > 0 {
				mask = net.IP(offer.SubnetMask).String()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "address %s\nsubnet-mask %s\nserver %s\nlease %s\n",
				offer.Address, mask, offer.ServerAddress, offer.LeaseTime)
			return nil
		},
	}

	cmd.Flags().StringVar(&serverAddr, "server", "", "Lease server host:port (overrides LEASED_CLIENT_SERVER)")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "Local address to receive replies on (overrides LEASED_CLIENT_LISTEN)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Per-attempt reply timeout")
	cmd.Flags().IntVar(&attempts, "attempts", 0, "Transmissions per message before giving up")
	cmd.Flags().BoolVar(&lenient, "lenient", false, "Continue with a partial offer instead of failing on malformed offers")
	return cmd
}
