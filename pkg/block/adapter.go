package block

import (
	"context"
	"io"
	"strings"

	"github.com/google/uuid"
)

// TempPrefix marks blobs staged by adapters for atomic writes. Temp blobs are
// never listed as data and are safe to delete at any time.
const TempPrefix = "pending-"

// PutOpts controls a single blob write.
type PutOpts struct {
	// FailIfExists makes the write return ErrAlreadyExists when the blob
	// is already present, on backends that can express the condition.
	FailIfExists bool
}

// Adapter hands out blob containers over a backing object store. Adapters are
// safe for concurrent use.
type Adapter interface {
	// Container returns the container rooted at path, relative to the
	// adapter root. Containers are cheap handles; no I/O happens here.
	Container(path ...string) Container
	BlockstoreType() string
}

// Container is a flat namespace of blobs. Blob names never contain path
// separators; nested paths are reached through Children or Adapter.Container.
type Container interface {
	// Path of this container relative to the adapter root, "" for the root
	// container.
	Path() string

	// List returns the names and sizes of all blobs in the container whose
	// name starts with prefix. Temp blobs are excluded unless prefix
	// explicitly asks for them. Backends that cannot enumerate return
	// ErrOperationNotSupported.
	List(ctx context.Context, prefix string) (map[string]int64, error)

	// Children returns the immediate sub-containers by name.
	Children(ctx context.Context) (map[string]Container, error)

	// Get returns a reader over the blob contents, or ErrDataNotFound.
	Get(ctx context.Context, name string) (io.ReadCloser, error)

	// Put writes sizeBytes from reader under name.
	Put(ctx context.Context, name string, reader io.Reader, sizeBytes int64, opts PutOpts) error

	// PutAtomic writes like Put but guarantees the blob is never visible
	// partially written under its final name.
	PutAtomic(ctx context.Context, name string, reader io.Reader, sizeBytes int64, opts PutOpts) error

	// Delete removes the named blobs, ignoring blobs that do not exist.
	Delete(ctx context.Context, names ...string) error

	// DeleteAll removes every blob in the container and its children.
	DeleteAll(ctx context.Context) error
}

// JoinPath joins container path segments with the blob store separator.
func JoinPath(path ...string) string {
	parts := make([]string, 0, len(path))
	for _, p := range path {
		p = strings.Trim(p, "/")
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "/")
}

// TempBlobName returns a fresh temp name for staging name.
func TempBlobName(name string) string {
	return TempPrefix + uuid.NewString() + "-" + name
}

// IsTempBlobName reports whether name is a staging blob left by an atomic
// write.
func IsTempBlobName(name string) bool {
	return strings.HasPrefix(name, TempPrefix)
}

// HiddenFromListing reports whether a blob should be omitted from a List
// with the given prefix. Temp blobs stay invisible to data listings but are
// enumerable when the caller asks for the temp prefix explicitly, which is
// how cleanup finds them.
func HiddenFromListing(name, prefix string) bool {
	return IsTempBlobName(name) && !strings.HasPrefix(prefix, TempPrefix)
}
