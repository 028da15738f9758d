// Package gcs provides a migration.Source reading batch documents from
// Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"cloud.google.com/go/auth/credentials"
	"cloud.google.com/go/storage"
	"github.com/rbaliyan/inbox/migration"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const readOnlyScope = "https://www.googleapis.com/auth/devstorage.read_only"

// Source lists and reads batch objects under a bucket prefix.
type Source struct {
	client *storage.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// Compile-time check
var _ migration.Source = (*Source)(nil)

// New creates a GCS source.
func New(ctx context.Context, opts ...Option) (*Source, error) {
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	if o.bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	clientOpts, err := buildClientOptions(o)
	if err != nil {
		return nil, fmt.Errorf("build client options: %w", err)
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}

	return &Source{
		client: client,
		bucket: o.bucket,
		prefix: o.prefix,
		logger: o.logger,
	}, nil
}

func buildClientOptions(o *options) ([]option.ClientOption, error) {
	var opts []option.ClientOption

	switch {
	case o.credentialsJSON != nil:
		creds, err := credentials.DetectDefault(&credentials.DetectOptions{
			Scopes:          []string{readOnlyScope},
			CredentialsJSON: o.credentialsJSON,
		})
		if err != nil {
			return nil, fmt.Errorf("detect credentials from json: %w", err)
		}
		opts = append(opts, option.WithAuthCredentials(creds))

	case o.credentialsFile != "":
		creds, err := credentials.DetectDefault(&credentials.DetectOptions{
			Scopes:          []string{readOnlyScope},
			CredentialsFile: o.credentialsFile,
		})
		if err != nil {
			return nil, fmt.Errorf("detect credentials from file: %w", err)
		}
		opts = append(opts, option.WithAuthCredentials(creds))

	case o.apiKey != "":
		opts = append(opts, option.WithAPIKey(o.apiKey))
	}

	if o.endpoint != "" {
		opts = append(opts, option.WithEndpoint(o.endpoint))
	}
	return opts, nil
}

// List returns the names of all batch objects under the prefix, sorted.
func (s *Source) List(ctx context.Context) ([]string, error) {
	var keys []string
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: s.prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list objects in gcs: %w", err)
		}
		if migration.IsBatchName(attrs.Name) {
			keys = append(keys, attrs.Name)
		}
	}
	slices.Sort(keys)
	s.logger.Debug("listed gcs batches", "bucket", s.bucket, "prefix", s.prefix, "count", len(keys))
	return keys, nil
}

// Open returns a reader for the object named key.
func (s *Source) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs reader: %w", err)
	}
	return r, nil
}

// Close closes the GCS client.
func (s *Source) Close() error {
	return s.client.Close()
}
