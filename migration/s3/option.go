package s3

import (
	"log/slog"
)

// Default configuration values.
const (
	DefaultRegion      = "us-east-1"
	DefaultSessionName = "inbox-migration"
)

// options holds S3 source configuration.
type options struct {
	bucket string
	prefix string
	region string

	// S3-compatible services such as MinIO or LocalStack
	endpoint     string
	usePathStyle bool

	accessKey    string
	secretKey    string
	sessionToken string

	roleARN         string
	roleSessionName string
	externalID      string

	logger *slog.Logger
}

// Option configures the S3 source.
type Option func(*options)

// WithBucket sets the bucket holding the batch objects (required).
func WithBucket(bucket string) Option {
	return func(o *options) {
		o.bucket = bucket
	}
}

// WithPrefix restricts listing to keys under prefix.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithRegion sets the AWS region. Default is "us-east-1".
func WithRegion(region string) Option {
	return func(o *options) {
		if region != "" {
			o.region = region
		}
	}
}

// WithEndpoint sets a custom endpoint for S3-compatible services.
func WithEndpoint(endpoint string) Option {
	return func(o *options) {
		o.endpoint = endpoint
	}
}

// WithPathStyle enables path-style addressing.
func WithPathStyle(enabled bool) Option {
	return func(o *options) {
		o.usePathStyle = enabled
	}
}

// WithStaticCredentials sets long-term access keys.
// When unset the default credential chain is used (environment, shared
// config, EC2/ECS roles, IRSA on EKS).
func WithStaticCredentials(accessKey, secretKey, sessionToken string) Option {
	return func(o *options) {
		o.accessKey = accessKey
		o.secretKey = secretKey
		o.sessionToken = sessionToken
	}
}

// WithAssumeRole reads through STS AssumeRole credentials for roleARN.
func WithAssumeRole(roleARN, sessionName, externalID string) Option {
	return func(o *options) {
		o.roleARN = roleARN
		o.roleSessionName = sessionName
		if o.roleSessionName == "" {
			o.roleSessionName = DefaultSessionName
		}
		o.externalID = externalID
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
