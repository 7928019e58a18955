package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"leased/internal/config"
	"leased/internal/journal"
	"leased/internal/snapshot"
	gos3 "leased/pkg/s3"
)

const envAgeSecretKey = "AGE_SECRET_KEY"

func newLeasesCommand() *cobra.Command {
	var dsn string

	cmd := &cobra.Command{
		Use:   "leases",
		Short: "Inspect and export the lease journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVar(&dsn, "dsn", "", "Postgres DSN (overrides LEASED_DATABASE_DSN)")

	cmd.AddCommand(newLeasesListCommand(&dsn))
	cmd.AddCommand(newLeasesExportCommand(&dsn))
	return cmd
}

func openJournal(cmd *cobra.Command, dsn string) (*journal.Journal, config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if dsn == "" {
		dsn = cfg.DB.DSN
	}
	if dsn == "" {
		return nil, config.Config{}, errors.New("--dsn or LEASED_DATABASE_DSN is required")
	}
	j, err := journal.Open(cmd.Context(), dsn, cfg.Server.ServerIP.String())
	if err != nil {
		return nil, config.Config{}, err
	}
	return j, cfg, nil
}

func newLeasesListCommand(dsn *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List journaled leases",
		RunE: func(cmd *cobra.Command, args []string) error {
			j, _, err := openJournal(cmd, *dsn)
			if err != nil {
				return err
			}
			defer j.Close()

			leases, err := j.List(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ADDRESS\tSTATE\tCLIENT\tOFFERED\tBOUND")
			for _, l := range leases {
				bound := "-"
				if l.BoundAt != nil {
					bound = l.BoundAt.Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", l.Address, l.State, l.Client, l.OfferedAt.Format(time.RFC3339), bound)
			}
			return tw.Flush()
		},
	}
}

func newLeasesExportCommand(dsn *string) *cobra.Command {
	var (
		bucket     string
		key        string
		recipient  string
		presignTTL time.Duration
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Upload a compressed, optionally encrypted snapshot of the journal to S3",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			j, cfg, err := openJournal(cmd, *dsn)
			if err != nil {
				return err
			}
			defer j.Close()

			leases, err := j.List(ctx)
			if err != nil {
				return err
			}

			opts := snapshot.Options{Recipient: recipient}
			if secret := os.Getenv(envAgeSecretKey); secret != "" {
				signer, err := snapshot.NewSigner(secret)
				if err != nil {
					return fmt.Errorf("parse %s: %w", envAgeSecretKey, err)
				}
				opts.Signer = signer
			}

			now := time.Now()
			archive, err := snapshot.Encode(snapshot.NewManifest(cfg.Server.ServerIP.String(), leases, now), opts)
			if err != nil {
				return err
			}

			s3Client, err := gos3.NewClientFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("s3 client: %w", err)
			}
			if key == "" {
				key = fmt.Sprintf("leases-%s.json.zst", now.UTC().Format("20060102T150405Z"))
				if archive.Encrypted {
					key += ".age"
				}
			}
			if err := snapshot.Upload(ctx, s3Client, bucket, key, archive); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "uploaded %d leases to s3://%s/%s (sha256 %s)\n", len(leases), bucket, key, archive.SHA256)
			if opts.Signer != nil {
				fmt.Fprintf(out, "signed with %s\n", opts.Signer.PublicKeyBase64())
			}
			if presignTTL > 0 {
				url, err := s3Client.PresignGet(ctx, bucket, key, presignTTL)
				if err != nil {
					return fmt.Errorf("presign: %w", err)
				}
				fmt.Fprintln(out, url)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&bucket, "bucket", "", "Destination bucket")
	cmd.Flags().StringVar(&key, "key", "", "Object key (defaults to a timestamped name)")
	cmd.Flags().StringVar(&recipient, "recipient", "", "age X25519 recipient to encrypt the snapshot for")
	cmd.Flags().DurationVar(&presignTTL, "presign", 0, "Also print a presigned download URL valid for this long")
	_ = cmd.MarkFlagRequired("bucket")
	return cmd
}
