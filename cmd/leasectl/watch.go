package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"leased/internal/config"
	"leased/internal/server"
	"leased/pkg/bus"
)

func newWatchCommand() *cobra.Command {
	var natsURL string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream lease events published by leased",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if natsURL == "" {
				natsURL = cfg.Bus.URL
			}
			if natsURL == "" {
				return errors.New("--nats or LEASED_NATS_URL is required")
			}

			b, err := bus.New(natsURL)
			if err != nil {
				return fmt.Errorf("connect nats: %w", err)
			}
			defer b.Close()

			out := cmd.OutOrStdout()
			sub, err := b.Subscribe(cmd.Context(), cfg.Bus.Subject+".>", "", func(ctx context.Context, data []byte) error {
				var evt server.Event
				if err := json.Unmarshal(data, &evt); err != nil {
					return err
				}
				fmt.Fprintf(out, "%s %-7s %-15s %s\n", evt.At.Format("2006-01-02T15:04:05Z07:00"), evt.Type, evt.Lease.Address, evt.Lease.Client)
				return nil
			}, nats.DeliverNew())
			if err != nil {
				return fmt.Errorf("subscribe %s.>: %w", cfg.Bus.Subject, err)
			}
			defer sub.Close()

			<-cmd.Context().Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&natsURL, "nats", "", "NATS URL (overrides LEASED_NATS_URL)")
	return cmd
}
