package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/treeverse/snapvault/pkg/block"
)

var (
	ErrPathNotWritable = errors.New("path provided is not writable")
	ErrBadPath         = errors.New("bad path traversal blocked")
)

// Adapter serves blobs out of a local directory tree. Containers map to
// directories, blobs to files.
type Adapter struct {
	path           string
	removeEmptyDir bool
}

type AdapterOption func(a *Adapter)

func WithRemoveEmptyDir(b bool) AdapterOption {
	return func(a *Adapter) {
		a.removeEmptyDir = b
	}
}

func NewAdapter(path string, opts ...AdapterOption) (*Adapter, error) {
	// Clean() the path so that misconfiguration does not allow path traversal.
	path = filepath.Clean(path)
	err := os.MkdirAll(path, 0o700) //nolint:mnd
	if err != nil {
		return nil, err
	}
	if !isDirectoryWritable(path) {
		return nil, ErrPathNotWritable
	}
	localAdapter := &Adapter{
		path:           path,
		removeEmptyDir: true,
	}
	for _, opt := range opts {
		opt(localAdapter)
	}
	return localAdapter, nil
}

func (a *Adapter) Container(path ...string) block.Container {
	return &container{adapter: a, path: block.JoinPath(path...)}
}

func (a *Adapter) BlockstoreType() string {
	return block.BlockstoreTypeLocal
}

// isDirectoryWritable tests write access by creating a dummy file. There is no
// simple portable way to check this from the mode bits, and it runs only at
// startup.
func isDirectoryWritable(pth string) bool {
	f, err := os.CreateTemp(pth, "dummy")
	if err != nil {
		return false
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return true
}

// maybeMkdir runs f(path), but if f fails due to file-not-found MkdirAll's
// its dir and then runs it again.
func maybeMkdir(path string, f func(p string) (*os.File, error)) (*os.File, error) {
	ret, err := f(path)
	if !os.IsNotExist(err) {
		return ret, err
	}
	d := filepath.Dir(filepath.Clean(path))
	if err := os.MkdirAll(d, 0o750); err != nil { //nolint:mnd
		return nil, err
	}
	return f(path)
}

type container struct {
	adapter *Adapter
	path    string
}

func (c *container) Path() string {
	return c.path
}

func (c *container) fsDir() string {
	if c.path == "" {
		return c.adapter.path
	}
	return filepath.Join(c.adapter.path, filepath.FromSlash(c.path))
}

func (c *container) fsPath(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", fmt.Errorf("%s: %w", name, ErrBadPath)
	}
	p := filepath.Join(c.fsDir(), name)
	if !strings.HasPrefix(p, c.adapter.path+string(os.PathSeparator)) {
		return "", fmt.Errorf("%s: %w", name, ErrBadPath)
	}
	return p, nil
}

func (c *container) List(_ context.Context, prefix string) (map[string]int64, error) {
	entries, err := os.ReadDir(c.fsDir())
	if os.IsNotExist(err) {
		// a container nobody wrote to yet is empty, not an error
		return map[string]int64{}, nil
	}
	if err != nil {
		return nil, err
	}
	res := make(map[string]int64, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || block.HiddenFromListing(name, prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		res[name] = info.Size()
	}
	return res, nil
}

func (c *container) Children(_ context.Context) (map[string]block.Container, error) {
	entries, err := os.ReadDir(c.fsDir())
	if os.IsNotExist(err) {
		return map[string]block.Container{}, nil
	}
	if err != nil {
		return nil, err
	}
	res := make(map[string]block.Container)
	for _, entry := range entries {
		if entry.IsDir() {
			res[entry.Name()] = c.adapter.Container(c.path, entry.Name())
		}
	}
	return res, nil
}

func (c *container) Get(_ context.Context, name string) (io.ReadCloser, error) {
	p, err := c.fsPath(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w", name, block.ErrDataNotFound)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (c *container) Put(_ context.Context, name string, reader io.Reader, _ int64, opts block.PutOpts) error {
	p, err := c.fsPath(name)
	if err != nil {
		return err
	}
	open := func(p string) (*os.File, error) {
		return os.Create(p)
	}
	if opts.FailIfExists {
		open = func(p string) (*os.File, error) {
			return os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644) //nolint:mnd
		}
	}
	f, err := maybeMkdir(p, open)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%s: %w", name, block.ErrAlreadyExists)
		}
		return err
	}
	if _, err := io.Copy(f, reader); err != nil {
		_ = f.Close()
		_ = os.Remove(p)
		return err
	}
	return f.Close()
}

// PutAtomic stages the blob under a temp name in the destination directory
// and renames it into place, so the final name is never visible partially
// written. The exists check and the rename are two steps; that is the most a
// plain filesystem can provide, and callers coordinate writers anyway.
func (c *container) PutAtomic(_ context.Context, name string, reader io.Reader, _ int64, opts block.PutOpts) error {
	p, err := c.fsPath(name)
	if err != nil {
		return err
	}
	tempPath := filepath.Join(filepath.Dir(p), block.TempBlobName(name))
	f, err := maybeMkdir(tempPath, os.Create)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, reader); err != nil {
		_ = f.Close()
		_ = os.Remove(tempPath)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tempPath)
		return err
	}
	if opts.FailIfExists {
		if _, err := os.Stat(p); err == nil {
			_ = os.Remove(tempPath)
			return fmt.Errorf("%s: %w", name, block.ErrAlreadyExists)
		} else if !os.IsNotExist(err) {
			_ = os.Remove(tempPath)
			return err
		}
	}
	if err := os.Rename(tempPath, p); err != nil {
		_ = os.Remove(tempPath)
		return err
	}
	return nil
}

func (c *container) Delete(_ context.Context, names ...string) error {
	for _, name := range names {
		p, err := c.fsPath(name)
		if err != nil {
			return err
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	if c.adapter.removeEmptyDir {
		removeEmptyDirUntil(c.fsDir(), c.adapter.path)
	}
	return nil
}

func (c *container) DeleteAll(_ context.Context) error {
	if c.path == "" {
		// wiping the adapter root would take the repository with it
		return fmt.Errorf("delete all on root container: %w", ErrBadPath)
	}
	if err := os.RemoveAll(c.fsDir()); err != nil {
		return err
	}
	if c.adapter.removeEmptyDir {
		removeEmptyDirUntil(filepath.Dir(c.fsDir()), c.adapter.path)
	}
	return nil
}

// removeEmptyDirUntil removes dir and its now empty parents, stopping before
// stopAt. Errors stop the walk; a non-empty directory fails Remove and that
// is the normal stop condition.
func removeEmptyDirUntil(dir string, stopAt string) {
	if stopAt == "" {
		return
	}
	if !strings.HasSuffix(stopAt, string(os.PathSeparator)) {
		stopAt += string(os.PathSeparator)
	}
	for strings.HasPrefix(dir, stopAt) {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
}
