// Package s3 provides a migration.Source reading batch documents from S3.
package s3

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rbaliyan/inbox/migration"
)

// Source lists and reads batch objects under a bucket prefix.
type Source struct {
	client *s3.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// Compile-time check
var _ migration.Source = (*Source)(nil)

// New creates an S3 source. ctx is used for credential loading.
func New(ctx context.Context, opts ...Option) (*Source, error) {
	o := &options{
		region: DefaultRegion,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	awsCfg, err := buildAWSConfig(ctx, o)
	if err != nil {
		return nil, fmt.Errorf("build aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(so *s3.Options) {
		if o.endpoint != "" {
			so.BaseEndpoint = aws.String(o.endpoint)
			so.UsePathStyle = o.usePathStyle
		}
	})

	return &Source{
		client: client,
		bucket: o.bucket,
		prefix: o.prefix,
		logger: o.logger,
	}, nil
}

func buildAWSConfig(ctx context.Context, o *options) (aws.Config, error) {
	optFns := []func(*config.LoadOptions) error{config.WithRegion(o.region)}

	switch {
	case o.accessKey != "" && o.secretKey != "":
		creds := credentials.NewStaticCredentialsProvider(o.accessKey, o.secretKey, o.sessionToken)
		optFns = append(optFns, config.WithCredentialsProvider(creds))

	case o.roleARN != "":
		baseCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(o.region))
		if err != nil {
			return aws.Config{}, fmt.Errorf("load base config for role: %w", err)
		}
		optFns = append(optFns, config.WithCredentialsProvider(
			newAssumeRoleProvider(baseCfg, o.roleARN, o.roleSessionName, o.externalID)))
	}

	return config.LoadDefaultConfig(ctx, optFns...)
}

// List returns the keys of all batch objects under the prefix, sorted.
func (s *Source) List(ctx context.Context) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects in s3: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if migration.IsBatchName(key) {
				keys = append(keys, key)
			}
		}
	}
	slices.Sort(keys)
	s.logger.Debug("listed s3 batches", "bucket", s.bucket, "prefix", s.prefix, "count", len(keys))
	return keys, nil
}

// Open returns the body of the object stored under key.
func (s *Source) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object from s3: %w", err)
	}
	return out.Body, nil
}
