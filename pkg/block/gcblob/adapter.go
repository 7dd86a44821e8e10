package gcblob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/treeverse/snapvault/pkg/block"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

var ErrCloudBlob = errors.New("cloud blob error")

// Adapter serves blobs from a gocloud.dev bucket, covering the stores the
// native adapters do not (GCS, Azure Blob). The backing driver is chosen by
// the bucket URL scheme at open time.
type Adapter struct {
	bucket *blob.Bucket
}

func NewAdapter(bucket *blob.Bucket, opts ...func(a *Adapter)) *Adapter {
	a := &Adapter{bucket: bucket}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Container(path ...string) block.Container {
	return &container{adapter: a, path: block.JoinPath(path...)}
}

func (a *Adapter) BlockstoreType() string {
	return block.BlockstoreTypeCloud
}

func (a *Adapter) Close() error {
	return a.bucket.Close()
}

type container struct {
	adapter *Adapter
	path    string
}

func (c *container) Path() string {
	return c.path
}

func (c *container) keyPrefix() string {
	if c.path == "" {
		return ""
	}
	return c.path + "/"
}

func (c *container) key(name string) string {
	return c.keyPrefix() + name
}

func (c *container) List(ctx context.Context, prefix string) (map[string]int64, error) {
	keyPrefix := c.keyPrefix()
	iter := c.adapter.bucket.List(&blob.ListOptions{
		Prefix:    keyPrefix + prefix,
		Delimiter: "/",
	})
	res := make(map[string]int64)
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: list %s: %w", ErrCloudBlob, keyPrefix, err)
		}
		if obj.IsDir {
			continue
		}
		name := strings.TrimPrefix(obj.Key, keyPrefix)
		if name == "" || block.HiddenFromListing(name, prefix) {
			continue
		}
		res[name] = obj.Size
	}
	return res, nil
}

func (c *container) Children(ctx context.Context) (map[string]block.Container, error) {
	keyPrefix := c.keyPrefix()
	iter := c.adapter.bucket.List(&blob.ListOptions{
		Prefix:    keyPrefix,
		Delimiter: "/",
	})
	res := make(map[string]block.Container)
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: list %s: %w", ErrCloudBlob, keyPrefix, err)
		}
		if !obj.IsDir {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(obj.Key, keyPrefix), "/")
		if name != "" {
			res[name] = c.adapter.Container(c.path, name)
		}
	}
	return res, nil
}

func (c *container) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	r, err := c.adapter.bucket.NewReader(ctx, c.key(name), nil)
	if gcerrors.Code(err) == gcerrors.NotFound {
		return nil, fmt.Errorf("%s: %w", name, block.ErrDataNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %w", ErrCloudBlob, c.key(name), err)
	}
	return r, nil
}

// Put writes the blob. FailIfExists is an exists check before the write, the
// strongest condition the portable layer offers; concurrent writers of the
// same name can still race, which catalog writers tolerate by keeping
// generation backups.
func (c *container) Put(ctx context.Context, name string, reader io.Reader, _ int64, opts block.PutOpts) error {
	key := c.key(name)
	if opts.FailIfExists {
		exists, err := c.adapter.bucket.Exists(ctx, key)
		if err != nil {
			return fmt.Errorf("%w: stat %s: %w", ErrCloudBlob, key, err)
		}
		if exists {
			return fmt.Errorf("%s: %w", name, block.ErrAlreadyExists)
		}
	}
	w, err := c.adapter.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrCloudBlob, key, err)
	}
	if _, err := io.Copy(w, reader); err != nil {
		_ = w.Close()
		_ = c.adapter.bucket.Delete(ctx, key)
		return fmt.Errorf("%w: write %s: %w", ErrCloudBlob, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: commit %s: %w", ErrCloudBlob, key, err)
	}
	return nil
}

// PutAtomic delegates to Put. gocloud writers only publish the object on a
// successful Close, so the final name never shows a partial write.
func (c *container) PutAtomic(ctx context.Context, name string, reader io.Reader, sizeBytes int64, opts block.PutOpts) error {
	return c.Put(ctx, name, reader, sizeBytes, opts)
}

func (c *container) Delete(ctx context.Context, names ...string) error {
	for _, name := range names {
		err := c.adapter.bucket.Delete(ctx, c.key(name))
		if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			return fmt.Errorf("%w: delete %s: %w", ErrCloudBlob, c.key(name), err)
		}
	}
	return nil
}

func (c *container) DeleteAll(ctx context.Context) error {
	keyPrefix := c.keyPrefix()
	iter := c.adapter.bucket.List(&blob.ListOptions{Prefix: keyPrefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: list %s: %w", ErrCloudBlob, keyPrefix, err)
		}
		if err := c.adapter.bucket.Delete(ctx, obj.Key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			return fmt.Errorf("%w: delete %s: %w", ErrCloudBlob, obj.Key, err)
		}
	}
	return nil
}
