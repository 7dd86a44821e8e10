package factory

import (
	"context"
	"fmt"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/treeverse/snapvault/pkg/block"
	"github.com/treeverse/snapvault/pkg/block/gcblob"
	"github.com/treeverse/snapvault/pkg/block/local"
	"github.com/treeverse/snapvault/pkg/block/mem"
	"github.com/treeverse/snapvault/pkg/block/params"
	s3a "github.com/treeverse/snapvault/pkg/block/s3"
	"github.com/treeverse/snapvault/pkg/logging"
	"gocloud.dev/blob"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/gcsblob"
)

// BuildBlockAdapter returns the configured backend wrapped with operation
// metrics.
func BuildBlockAdapter(ctx context.Context, c params.AdapterConfig) (block.Adapter, error) {
	adapter, err := buildBlockAdapter(ctx, c)
	if err != nil {
		return nil, err
	}
	return block.NewMetricsAdapter(adapter), nil
}

func buildBlockAdapter(ctx context.Context, c params.AdapterConfig) (block.Adapter, error) {
	blockstore := c.BlockstoreType()
	logging.FromContext(ctx).
		WithField("type", blockstore).
		Info("initialize blockstore adapter")
	switch blockstore {
	case block.BlockstoreTypeMem, "memory":
		return mem.New(ctx), nil
	case block.BlockstoreTypeLocal:
		p, err := c.BlockstoreLocalParams()
		if err != nil {
			return nil, err
		}
		return buildLocalAdapter(ctx, p)
	case block.BlockstoreTypeS3:
		p, err := c.BlockstoreS3Params()
		if err != nil {
			return nil, err
		}
		return buildS3Adapter(ctx, p)
	case block.BlockstoreTypeCloud:
		p, err := c.BlockstoreCloudParams()
		if err != nil {
			return nil, err
		}
		return buildCloudAdapter(ctx, p)
	default:
		return nil, fmt.Errorf("%w '%s' please choose one of %s",
			block.ErrInvalidAddress, blockstore, []string{block.BlockstoreTypeMem, block.BlockstoreTypeLocal, block.BlockstoreTypeS3, block.BlockstoreTypeCloud})
	}
}

// BuildBlockAdapterFromAddress builds the backend a repository address points
// at, e.g. s3://bucket/backups or local:///var/snapvault. The address selects
// the backend, bucket and prefix; credentials and region still come from the
// configuration.
func BuildBlockAdapterFromAddress(ctx context.Context, c params.AdapterConfig, address string) (block.Adapter, error) {
	loc, err := block.ParseLocation(address)
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx).
		WithField("address", loc.String()).
		Info("initialize blockstore adapter")
	var adapter block.Adapter
	switch loc.StorageType {
	case block.StorageTypeMem:
		adapter = mem.New(ctx)
	case block.StorageTypeLocal:
		adapter, err = buildLocalAdapter(ctx, params.Local{Path: loc.Prefix})
	case block.StorageTypeS3:
		p, perr := c.BlockstoreS3Params()
		if perr != nil {
			return nil, perr
		}
		p.Bucket = loc.Bucket
		p.Prefix = loc.Prefix
		adapter, err = buildS3Adapter(ctx, p)
	case block.StorageTypeCloud:
		adapter, err = buildCloudAdapter(ctx, params.Cloud{
			BucketURL: loc.Scheme + "://" + loc.Bucket,
			Prefix:    loc.Prefix,
		})
	default:
		return nil, fmt.Errorf("%s: %w", address, block.ErrInvalidAddress)
	}
	if err != nil {
		return nil, err
	}
	return block.NewMetricsAdapter(adapter), nil
}

func buildLocalAdapter(ctx context.Context, params params.Local) (*local.Adapter, error) {
	adapter, err := local.NewAdapter(params.Path)
	if err != nil {
		return nil, fmt.Errorf("got error opening a local block adapter with path %s: %w", params.Path, err)
	}
	logging.FromContext(ctx).WithFields(logging.Fields{
		"type": "local",
		"path": params.Path,
	}).Info("initialized blockstore adapter")
	return adapter, nil
}

func BuildS3Client(ctx context.Context, params params.S3) (*awss3.Client, error) {
	cfg, err := s3a.LoadConfig(ctx, params)
	if err != nil {
		return nil, err
	}
	client := awss3.NewFromConfig(cfg, s3a.WithClientParams(params))
	return client, nil
}

func buildS3Adapter(ctx context.Context, params params.S3) (*s3a.Adapter, error) {
	client, err := BuildS3Client(ctx, params)
	if err != nil {
		return nil, err
	}
	var opts []s3a.AdapterOption
	if params.Prefix != "" {
		opts = append(opts, s3a.WithPrefix(params.Prefix))
	}
	adapter := s3a.NewAdapter(client, params.Bucket, opts...)
	logging.FromContext(ctx).WithFields(logging.Fields{
		"type":   "s3",
		"bucket": params.Bucket,
	}).Info("initialized blockstore adapter")
	return adapter, nil
}

func buildCloudAdapter(ctx context.Context, params params.Cloud) (*gcblob.Adapter, error) {
	bucket, err := blob.OpenBucket(ctx, params.BucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", params.BucketURL, err)
	}
	if params.Prefix != "" {
		bucket = blob.PrefixedBucket(bucket, params.Prefix+"/")
	}
	adapter := gcblob.NewAdapter(bucket)
	logging.FromContext(ctx).WithFields(logging.Fields{
		"type":       "cloud",
		"bucket_url": params.BucketURL,
	}).Info("initialized blockstore adapter")
	return adapter, nil
}
