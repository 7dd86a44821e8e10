package repository

import (
	"context"
	"testing"

	"github.com/go-test/deep"
	"github.com/stretchr/testify/require"
	"github.com/treeverse/snapvault/pkg/blobfmt"
	"github.com/treeverse/snapvault/pkg/block"
	"github.com/treeverse/snapvault/pkg/block/mem"
)

// noListAdapter simulates a backend that cannot enumerate blobs, which forces
// the generation pointer fallback.
type noListAdapter struct {
	inner *mem.Adapter
}

func (a *noListAdapter) Container(path ...string) block.Container {
	return &noListContainer{Container: a.inner.Container(path...)}
}

func (a *noListAdapter) BlockstoreType() string {
	return a.inner.BlockstoreType()
}

type noListContainer struct {
	block.Container
}

func (c *noListContainer) List(context.Context, string) (map[string]int64, error) {
	return nil, block.ErrOperationNotSupported
}

func noListRepo(t *testing.T) (*Repository, *mem.Adapter) {
	t.Helper()
	inner := mem.New(context.Background())
	r := New(&noListAdapter{inner: inner}, WithWorkers(2))
	t.Cleanup(func() { _ = r.Close() })
	return r, inner
}

func TestLoadCatalogEmptyRepository(t *testing.T) {
	r, _ := testRepo(t)
	catalog, err := r.LoadCatalog(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(-1), catalog.Generation)
	require.Empty(t, catalog.Snapshots)
	require.Empty(t, catalog.Indices)
}

func TestWriteCatalogKeepsOneBackupGeneration(t *testing.T) {
	ctx := context.Background()
	r, adapter := testRepo(t)
	root := adapter.Container()

	gen, err := r.writeCatalog(ctx, EmptyCatalog(), -1)
	require.NoError(t, err)
	require.Equal(t, int64(0), gen)

	second := EmptyCatalog().WithSnapshot(SnapshotRef{Name: "first", ID: "id-1", State: SnapshotStateSuccess}, nil)
	gen, err = r.writeCatalog(ctx, second, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), gen)
	require.Equal(t, int64(1), second.Generation)

	listing := listBlobs(t, root, catalogPrefix)
	require.Len(t, listing, 2)
	require.Contains(t, listing, "index-0")
	require.Contains(t, listing, "index-1")

	third := second.WithSnapshot(SnapshotRef{Name: "second", ID: "id-2", State: SnapshotStateSuccess}, nil)
	gen, err = r.writeCatalog(ctx, third, 1)
	require.NoError(t, err)
	require.Equal(t, int64(2), gen)

	// Generation 0 is retired; the previous generation stays as backup.
	listing = listBlobs(t, root, catalogPrefix)
	require.Len(t, listing, 2)
	require.Contains(t, listing, "index-1")
	require.Contains(t, listing, "index-2")

	loaded, err := r.LoadCatalog(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), loaded.Generation)
	require.Nil(t, deep.Equal(third.Snapshots, loaded.Snapshots))
}

func TestWriteCatalogStaleGeneration(t *testing.T) {
	ctx := context.Background()
	r, _ := testRepo(t)

	_, err := r.writeCatalog(ctx, EmptyCatalog(), -1)
	require.NoError(t, err)

	_, err = r.writeCatalog(ctx, EmptyCatalog(), -1)
	require.ErrorIs(t, err, ErrConcurrentModification)
	require.ErrorContains(t, err, "expected generation -1, found 0")

	_, err = r.writeCatalog(ctx, EmptyCatalog(), 7)
	require.ErrorIs(t, err, ErrConcurrentModification)
}

func TestLoadCatalogIgnoresPointerWhenListingWorks(t *testing.T) {
	ctx := context.Background()
	r, adapter := testRepo(t)

	_, err := r.writeCatalog(ctx, EmptyCatalog(), -1)
	require.NoError(t, err)

	// A trashed pointer must not matter on a backend that can list.
	putBlob(t, adapter.Container(), indexLatestBlobName, []byte("junk"))
	catalog, err := r.LoadCatalog(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), catalog.Generation)
}

func TestLoadCatalogCorruptGeneration(t *testing.T) {
	r, adapter := testRepo(t)
	putBlob(t, adapter.Container(), catalogBlobName(3), []byte("junk"))

	_, err := r.LoadCatalog(context.Background())
	require.ErrorIs(t, err, blobfmt.ErrBadEnvelope)
	require.ErrorContains(t, err, "load catalog")
}

func TestCatalogGenerationPointerFallback(t *testing.T) {
	ctx := context.Background()
	r, _ := noListRepo(t)

	catalog, err := r.LoadCatalog(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(-1), catalog.Generation)

	next := EmptyCatalog().WithSnapshot(SnapshotRef{Name: "first", ID: "id-1", State: SnapshotStateSuccess}, nil)
	gen, err := r.writeCatalog(ctx, next, -1)
	require.NoError(t, err)
	require.Equal(t, int64(0), gen)

	loaded, err := r.LoadCatalog(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), loaded.Generation)
	_, ok := loaded.Snapshot("first")
	require.True(t, ok)
}

func TestWriteCatalogCollisionWithoutListing(t *testing.T) {
	ctx := context.Background()
	r, inner := noListRepo(t)

	_, err := r.writeCatalog(ctx, EmptyCatalog(), -1)
	require.NoError(t, err)

	// Another writer took index-1 first; the pointer still says 0.
	putBlob(t, inner.Container(), catalogBlobName(1), []byte("occupied"))
	_, err = r.writeCatalog(ctx, EmptyCatalog(), 0)
	require.ErrorIs(t, err, ErrConcurrentModification)
	require.ErrorContains(t, err, "generation 1 already written")
}

func TestCorruptGenerationPointer(t *testing.T) {
	inner := mem.New(context.Background())
	putBlob(t, inner.Container(), indexLatestBlobName, []byte("abc"))
	r := New(&noListAdapter{inner: inner}, WithWorkers(2))
	t.Cleanup(func() { _ = r.Close() })

	_, err := r.LoadCatalog(context.Background())
	require.ErrorIs(t, err, ErrCorruptedRepository)
	require.ErrorContains(t, err, "holds 3 bytes")
}
