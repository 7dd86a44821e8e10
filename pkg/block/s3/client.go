package s3

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/treeverse/snapvault/pkg/block/params"
	"github.com/treeverse/snapvault/pkg/logging"
)

// LoadConfig builds the AWS configuration for p, falling back to the default
// credential chain for anything not set explicitly.
func LoadConfig(ctx context.Context, p params.S3) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if p.Region != "" {
		opts = append(opts, config.WithRegion(p.Region))
	}
	if p.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(p.Profile))
	}
	if p.MaxRetries > 0 {
		opts = append(opts, config.WithRetryMaxAttempts(p.MaxRetries))
	}
	if p.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(p.AccessKeyID, p.SecretAccessKey, p.SessionToken)))
	}
	opts = append(opts, config.WithLogger(&logging.AWSAdapter{
		Logger: logging.FromContext(ctx),
	}))
	return config.LoadDefaultConfig(ctx, opts...)
}

// WithClientParams applies endpoint overrides, used against S3-compatible
// stores like MinIO.
func WithClientParams(p params.S3) func(options *s3.Options) {
	return func(options *s3.Options) {
		if p.Endpoint != "" {
			options.BaseEndpoint = aws.String(p.Endpoint)
		}
		if p.ForcePathStyle {
			options.UsePathStyle = true
		}
	}
}
