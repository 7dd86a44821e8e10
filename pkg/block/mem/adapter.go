package mem

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/treeverse/snapvault/pkg/block"
)

var ErrNoDataForKey = fmt.Errorf("no data for key: %w", block.ErrDataNotFound)

// Adapter stores blobs in process memory. Used in tests and for trying the
// tool out without a backing store.
type Adapter struct {
	data  map[string][]byte
	mutex *sync.RWMutex
}

func New(_ context.Context, opts ...func(a *Adapter)) *Adapter {
	a := &Adapter{
		data:  make(map[string][]byte),
		mutex: &sync.RWMutex{},
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
	return block.BlockstoreTypeMem
}

type container struct {
	adapter *Adapter
	path    string
}

func (c *container) Path() string {
	return c.path
}

func (c *container) dir() string {
	if c.path == "" {
		return ""
	}
	return c.path + "/"
}

func (c *container) key(name string) string {
	return c.dir() + name
}

func (c *container) List(_ context.Context, prefix string) (map[string]int64, error) {
	c.adapter.mutex.RLock()
	defer c.adapter.mutex.RUnlock()
	dir := c.dir()
	res := make(map[string]int64)
	for k, v := range c.adapter.data {
		if !strings.HasPrefix(k, dir) {
			continue
		}
		name := k[len(dir):]
		if strings.Contains(name, "/") {
			// blob of a child container
			continue
		}
		if !strings.HasPrefix(name, prefix) || block.HiddenFromListing(name, prefix) {
			continue
		}
		res[name] = int64(len(v))
	}
	return res, nil
}

func (c *container) Children(_ context.Context) (map[string]block.Container, error) {
	c.adapter.mutex.RLock()
	defer c.adapter.mutex.RUnlock()
	dir := c.dir()
	res := make(map[string]block.Container)
	for k := range c.adapter.data {
		if !strings.HasPrefix(k, dir) {
			continue
		}
		name := k[len(dir):]
		sep := strings.IndexByte(name, '/')
		if sep == -1 {
			continue
		}
		child := name[:sep]
		if _, ok := res[child]; !ok {
			res[child] = c.adapter.Container(c.path, child)
		}
	}
	return res, nil
}

func (c *container) Get(_ context.Context, name string) (io.ReadCloser, error) {
	c.adapter.mutex.RLock()
	defer c.adapter.mutex.RUnlock()
	data, ok := c.adapter.data[c.key(name)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNoDataForKey)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (c *container) Put(_ context.Context, name string, reader io.Reader, _ int64, opts block.PutOpts) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	c.adapter.mutex.Lock()
	defer c.adapter.mutex.Unlock()
	key := c.key(name)
	if opts.FailIfExists {
		if _, ok := c.adapter.data[key]; ok {
			return fmt.Errorf("%s: %w", name, block.ErrAlreadyExists)
		}
	}
	c.adapter.data[key] = data
	return nil
}

func (c *container) PutAtomic(ctx context.Context, name string, reader io.Reader, sizeBytes int64, opts block.PutOpts) error {
	// a single map assignment under lock is already atomic
	return c.Put(ctx, name, reader, sizeBytes, opts)
}

func (c *container) Delete(_ context.Context, names ...string) error {
	c.adapter.mutex.Lock()
	defer c.adapter.mutex.Unlock()
	for _, name := range names {
		delete(c.adapter.data, c.key(name))
	}
	return nil
}

func (c *container) DeleteAll(_ context.Context) error {
	c.adapter.mutex.Lock()
	defer c.adapter.mutex.Unlock()
	dir := c.dir()
	for k := range c.adapter.data {
		if strings.HasPrefix(k, dir) {
			delete(c.adapter.data, k)
		}
	}
	return nil
}
