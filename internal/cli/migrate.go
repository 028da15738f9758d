package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rbaliyan/inbox/migration"
	"github.com/rbaliyan/inbox/migration/cached"
	"github.com/rbaliyan/inbox/migration/gcs"
	"github.com/rbaliyan/inbox/migration/s3"
	"github.com/rbaliyan/inbox/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type sourceFlags struct {
	dir string

	s3Bucket   string
	s3Prefix   string
	s3Region   string
	s3Endpoint string
	s3RoleARN  string

	gcsBucket string
	gcsPrefix string
	gcsCreds  string

	cacheDir string
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.dir, "dir", "", "read batches from a local directory")
	fl.StringVar(&f.s3Bucket, "s3-bucket", "", "read batches from an S3 bucket")
	fl.StringVar(&f.s3Prefix, "s3-prefix", "", "S3 key prefix")
	fl.StringVar(&f.s3Region, "s3-region", s3.DefaultRegion, "S3 region")
	fl.StringVar(&f.s3Endpoint, "s3-endpoint", "", "endpoint for S3-compatible services")
	fl.StringVar(&f.s3RoleARN, "s3-role-arn", "", "IAM role to assume for S3 access")
	fl.StringVar(&f.gcsBucket, "gcs-bucket", "", "read batches from a GCS bucket")
	fl.StringVar(&f.gcsPrefix, "gcs-prefix", "", "GCS object prefix")
	fl.StringVar(&f.gcsCreds, "gcs-credentials", "", "service account key file for GCS")
	fl.StringVar(&f.cacheDir, "cache-dir", "", "cache remote batches under this directory")
	cmd.MarkFlagsMutuallyExclusive("dir", "s3-bucket", "gcs-bucket")
	cmd.MarkFlagsOneRequired("dir", "s3-bucket", "gcs-bucket")
}

func (f *sourceFlags) source(ctx context.Context, logger *slog.Logger) (migration.Source, func() error, error) {
	noop := func() error { return nil }

	var src migration.Source
	closeFn := noop
	switch {
	case f.dir != "":
		return migration.Dir(f.dir), noop, nil
	case f.s3Bucket != "":
		opts := []s3.Option{
			s3.WithBucket(f.s3Bucket),
			s3.WithPrefix(f.s3Prefix),
			s3.WithRegion(f.s3Region),
			s3.WithLogger(logger),
		}
		if f.s3Endpoint != "" {
			opts = append(opts, s3.WithEndpoint(f.s3Endpoint), s3.WithPathStyle(true))
		}
		if f.s3RoleARN != "" {
			opts = append(opts, s3.WithAssumeRole(f.s3RoleARN, "", ""))
		}
		s, err := s3.New(ctx, opts...)
		if err != nil {
			return nil, nil, err
		}
		src = s
	case f.gcsBucket != "":
		opts := []gcs.Option{
			gcs.WithBucket(f.gcsBucket),
			gcs.WithPrefix(f.gcsPrefix),
			gcs.WithLogger(logger),
		}
		if f.gcsCreds != "" {
			opts = append(opts, gcs.WithCredentialsFile(f.gcsCreds))
		}
		s, err := gcs.New(ctx, opts...)
		if err != nil {
			return nil, nil, err
		}
		src, closeFn = s, s.Close
	default:
		return nil, nil, errors.New("one of --dir, --s3-bucket or --gcs-bucket is required")
	}

	if f.cacheDir != "" {
		c, err := cached.New(src, cached.WithCacheDir(f.cacheDir), cached.WithLogger(logger))
		if err != nil {
			_ = closeFn()
			return nil, nil, err
		}
		if _, err := c.Prune(); err != nil {
			logger.Warn("failed to prune batch cache", "error", err)
		}
		src = c
	}
	return src, closeFn, nil
}

func newMigrateCmd(v *viper.Viper) *cobra.Command {
	var (
		sf          sourceFlags
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Import inbox batches as the designated migrator",
		Long: `Read every batch document from a directory, S3 prefix or GCS prefix and
migrate it into the store on behalf of --migrator. Entries whose id is already
present are skipped, so the same source can be imported again after a partial
failure.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := open(ctx, v)
			if err != nil {
				return err
			}
			defer e.Close(ctx)

			migrator, err := e.migrator()
			if err != nil {
				return err
			}

			logger := e.cfg.logger()
			src, closeSrc, err := sf.source(ctx, logger)
			if err != nil {
				return err
			}
			defer closeSrc()

			runner := migration.NewRunner(e.svc.Client(migrator), src,
				migration.WithConcurrency(concurrency),
				migration.WithLogger(logger),
			)
			report, err := runner.Run(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "applied %d batches, %d failed\n", len(report.Applied), len(report.Failed))
			return report.Err()
		},
	}
	sf.register(cmd)
	cmd.Flags().IntVar(&concurrency, "concurrency", migration.DefaultConcurrency, "batches applied in parallel")
	return cmd
}

func newSetMigratorCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "set-migrator <account>",
		Short: "Designate the migrator account in the shared registry",
		Long: `Replace the designated migrator with the given account. Only meaningful with
--authority redis, where the designation is shared by every host.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := store.ParseAccount(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			e, err := open(ctx, v)
			if err != nil {
				return err
			}
			defer e.Close(ctx)

			if e.cfg.Authority != "redis" {
				return fmt.Errorf("set-migrator requires --authority redis, got %q", e.cfg.Authority)
			}
			return e.authority.SetMigrator(ctx, account)
		},
	}
}
