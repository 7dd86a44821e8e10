package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/hashicorp/go-multierror"
	"github.com/treeverse/snapvault/pkg/block"
	"github.com/treeverse/snapvault/pkg/logging"
)

var ErrS3 = errors.New("s3 error")

// DeleteObjects accepts at most 1000 keys per call.
const deleteBatchSize = 1000

type Adapter struct {
	client *s3.Client
	bucket string
	prefix string
}

type AdapterOption func(a *Adapter)

// WithPrefix roots the adapter under a key prefix inside the bucket.
func WithPrefix(prefix string) AdapterOption {
	return func(a *Adapter) {
		a.prefix = strings.Trim(prefix, "/")
	}
}

func NewAdapter(client *s3.Client, bucket string, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		client: client,
		bucket: bucket,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Container(path ...string) block.Container {
	return &container{adapter: a, path: block.JoinPath(path...)}
}

func (a *Adapter) BlockstoreType() string {
	return block.BlockstoreTypeS3
}

func (a *Adapter) log(ctx context.Context) logging.Logger {
	return logging.FromContext(ctx)
}

func isErrNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var respErr *smithyhttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}

func isErrPreconditionFailed(err error) bool {
	var respErr *smithyhttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusPreconditionFailed
}

type container struct {
	adapter *Adapter
	path    string
}

func (c *container) Path() string {
	return c.path
}

func (c *container) keyPrefix() string {
	p := block.JoinPath(c.adapter.prefix, c.path)
	if p == "" {
		return ""
	}
	return p + "/"
}

func (c *container) key(name string) string {
	return c.keyPrefix() + name
}

func (c *container) List(ctx context.Context, prefix string) (map[string]int64, error) {
	keyPrefix := c.keyPrefix()
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(c.adapter.bucket),
		Prefix:    aws.String(keyPrefix + prefix),
		Delimiter: aws.String("/"),
	}
	res := make(map[string]int64)
	for {
		out, err := c.adapter.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", c.adapter.bucket, keyPrefix, err)
		}
		for _, obj := range out.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), keyPrefix)
			if name == "" || block.HiddenFromListing(name, prefix) {
				continue
			}
			res[name] = aws.ToInt64(obj.Size)
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		input.ContinuationToken = out.NextContinuationToken
	}
	return res, nil
}

func (c *container) Children(ctx context.Context) (map[string]block.Container, error) {
	keyPrefix := c.keyPrefix()
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(c.adapter.bucket),
		Prefix:    aws.String(keyPrefix),
		Delimiter: aws.String("/"),
	}
	res := make(map[string]block.Container)
	for {
		out, err := c.adapter.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", c.adapter.bucket, keyPrefix, err)
		}
		for _, cp := range out.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), keyPrefix), "/")
			if name == "" {
				continue
			}
			res[name] = c.adapter.Container(c.path, name)
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		input.ContinuationToken = out.NextContinuationToken
	}
	return res, nil
}

func (c *container) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	out, err := c.adapter.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.adapter.bucket),
		Key:    aws.String(c.key(name)),
	})
	if isErrNotFound(err) {
		return nil, fmt.Errorf("%s: %w", name, block.ErrDataNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get s3 object %s: %w", c.key(name), err)
	}
	return out.Body, nil
}

func (c *container) Put(ctx context.Context, name string, reader io.Reader, sizeBytes int64, opts block.PutOpts) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(c.adapter.bucket),
		Key:           aws.String(c.key(name)),
		Body:          reader,
		ContentLength: aws.Int64(sizeBytes),
	}
	if opts.FailIfExists {
		input.IfNoneMatch = aws.String("*")
	}
	_, err := c.adapter.client.PutObject(ctx, input)
	if opts.FailIfExists && isErrPreconditionFailed(err) {
		return fmt.Errorf("%s: %w", name, block.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("put s3 object %s: %w", c.key(name), err)
	}
	return nil
}

// PutAtomic delegates to Put. An S3 PUT is atomic: the object is either fully
// stored and visible or not there at all.
func (c *container) PutAtomic(ctx context.Context, name string, reader io.Reader, sizeBytes int64, opts block.PutOpts) error {
	return c.Put(ctx, name, reader, sizeBytes, opts)
}

func (c *container) Delete(ctx context.Context, names ...string) error {
	for start := 0; start < len(names); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(names) {
			end = len(names)
		}
		identifiers := make([]types.ObjectIdentifier, 0, end-start)
		for _, name := range names[start:end] {
			identifiers = append(identifiers, types.ObjectIdentifier{
				Key: aws.String(c.key(name)),
			})
		}
		if err := c.deleteBatch(ctx, identifiers); err != nil {
			return err
		}
	}
	return nil
}

// deleteBatch removes up to deleteBatchSize objects. Missing keys do not fail
// an S3 delete, matching the interface contract for free.
func (c *container) deleteBatch(ctx context.Context, identifiers []types.ObjectIdentifier) error {
	out, err := c.adapter.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(c.adapter.bucket),
		Delete: &types.Delete{
			Objects: identifiers,
			Quiet:   aws.Bool(true),
		},
	})
	if err != nil {
		return fmt.Errorf("delete objects in s3://%s: %w", c.adapter.bucket, err)
	}
	var merr *multierror.Error
	for _, delErr := range out.Errors {
		c.adapter.log(ctx).WithFields(logging.Fields{
			"bucket": c.adapter.bucket,
			"key":    aws.ToString(delErr.Key),
			"code":   aws.ToString(delErr.Code),
		}).Warn("failed to delete S3 object")
		merr = multierror.Append(merr, fmt.Errorf("%w: delete %s: %s",
			ErrS3, aws.ToString(delErr.Key), aws.ToString(delErr.Message)))
	}
	return merr.ErrorOrNil()
}

func (c *container) DeleteAll(ctx context.Context) error {
	keyPrefix := c.keyPrefix()
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.adapter.bucket),
		Prefix: aws.String(keyPrefix),
	}
	for {
		out, err := c.adapter.client.ListObjectsV2(ctx, input)
		if err != nil {
			return fmt.Errorf("list s3://%s/%s: %w", c.adapter.bucket, keyPrefix, err)
		}
		identifiers := make([]types.ObjectIdentifier, 0, len(out.Contents))
		for _, obj := range out.Contents {
			identifiers = append(identifiers, types.ObjectIdentifier{Key: obj.Key})
		}
		if len(identifiers) > 0 {
			if err := c.deleteBatch(ctx, identifiers); err != nil {
				return err
			}
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		input.ContinuationToken = out.NextContinuationToken
	}
	return nil
}
