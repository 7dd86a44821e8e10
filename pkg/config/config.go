package config

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/go-viper/mapstructure/v2"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/treeverse/snapvault/pkg/block/params"
	"github.com/treeverse/snapvault/pkg/logging"
	"github.com/treeverse/snapvault/pkg/repository"
)

var (
	ErrBadConfiguration    = errors.New("bad configuration")
	ErrMissingRequiredKeys = fmt.Errorf("%w: missing required keys", ErrBadConfiguration)
)

type Config struct {
	values configuration
}

func NewConfig() (*Config, error) {
	c := &Config{}

	// Inform viper of all expected fields.  Otherwise, it fails to deserialize from the
	// environment.
	keys := structKeys(reflect.TypeOf(c.values), "mapstructure", "squash")
	for _, key := range keys {
		viper.SetDefault(key, nil)
	}

	setDefaults()
	setupLogger()

	err := viper.UnmarshalExact(&c.values, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			DecodeStrings, mapstructure.StringToTimeDurationHookFunc())))
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	missing := missingRequiredKeys(c.values, "mapstructure", "squash")
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrMissingRequiredKeys, missing)
	}
	return nil
}

func (c *Config) BlockstoreType() string {
	return c.values.Blockstore.Type
}

func (c *Config) BlockstoreLocalParams() (params.Local, error) {
	localPath := c.values.Blockstore.Local.Path
	path, err := homedir.Expand(localPath)
	if err != nil {
		return params.Local{}, fmt.Errorf("expand blockstore local path %s: %w", localPath, err)
	}
	return params.Local{Path: path}, nil
}

func (c *Config) BlockstoreS3Params() (params.S3, error) {
	s3 := c.values.Blockstore.S3
	p := params.S3{
		Bucket:         s3.Bucket,
		Prefix:         s3.Prefix,
		Region:         s3.Region,
		Profile:        s3.Profile,
		Endpoint:       s3.Endpoint,
		ForcePathStyle: s3.ForcePathStyle,
		MaxRetries:     s3.MaxRetries,
	}
	if creds := s3.Credentials; creds != nil {
		p.AccessKeyID = creds.AccessKeyID.SecureValue()
		p.SecretAccessKey = creds.SecretAccessKey.SecureValue()
		p.SessionToken = creds.SessionToken.SecureValue()
	}
	return p, nil
}

func (c *Config) BlockstoreCloudParams() (params.Cloud, error) {
	cloud := c.values.Blockstore.Cloud
	if cloud == nil || cloud.BucketURL == "" {
		return params.Cloud{}, fmt.Errorf("%w: [blockstore.cloud.bucket_url]", ErrMissingRequiredKeys)
	}
	return params.Cloud{
		BucketURL: cloud.BucketURL,
		Prefix:    cloud.Prefix,
	}, nil
}

// RepositoryOptions translates the repository.* section into repository
// options. Zero values keep the repository defaults.
func (c *Config) RepositoryOptions() []repository.Option {
	rep := c.values.Repository
	opts := []repository.Option{
		repository.WithCompression(rep.Compress),
		repository.WithReadOnly(rep.ReadOnly),
	}
	if rep.ChunkSizeBytes > 0 {
		opts = append(opts, repository.WithChunkSize(rep.ChunkSizeBytes))
	}
	if rep.Workers > 0 {
		opts = append(opts, repository.WithWorkers(rep.Workers))
	}
	if rep.CleanupOpsPerSecond > 0 {
		opts = append(opts, repository.WithCleanupOpsPerSecond(rep.CleanupOpsPerSecond))
	}
	if rep.MaxSnapshotMBps > 0 {
		opts = append(opts, repository.WithSnapshotRateLimit(int64(rep.MaxSnapshotMBps)<<20))
	}
	if rep.MaxRestoreMBps > 0 {
		opts = append(opts, repository.WithRestoreRateLimit(int64(rep.MaxRestoreMBps)<<20))
	}
	return opts
}

func (c *Config) ReadOnly() bool {
	return c.values.Repository.ReadOnly
}

func (c *Config) ToLoggerFields() logging.Fields {
	return logging.Fields{
		"blockstore_type": c.BlockstoreType(),
		"readonly":        c.values.Repository.ReadOnly,
		"compress":        c.values.Repository.Compress,
		"chunk_size":      c.values.Repository.ChunkSizeBytes,
		"workers":         c.values.Repository.Workers,
	}
}
