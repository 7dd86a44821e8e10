package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/treeverse/snapvault/pkg/block"
)

func TestCleanupSweepsStaleArtifacts(t *testing.T) {
	r, adapter := testRepo(t, WithChunkSize(4))
	ctx := context.Background()

	_, err := r.CreateSnapshot(ctx, CreateSnapshotRequest{
		Name: "nightly-1",
		Indices: []IndexCommit{
			{Name: "logs", Shards: []Commit{newMemCommit(map[string][]byte{"seg_1": []byte("alpha")})}},
		},
	})
	require.NoError(t, err)
	for _, name := range []string{"nightly-2", "nightly-3"} {
		_, err := r.CreateSnapshot(ctx, CreateSnapshotRequest{Name: name})
		require.NoError(t, err)
	}
	catalog, err := r.LoadCatalog(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, catalog.Generation)
	logsID := catalog.Indices["logs"].ID

	// An index directory no catalog entry references, root blobs of a
	// snapshot ID the catalog does not know, a leftover temp blob, and a
	// resurrected old generation.
	putBlob(t, adapter.Container(indicesDirName, "0rphan"), "meta-feedface.dat", []byte("m"))
	putBlob(t, adapter.Container(indicesDirName, "0rphan", "0"), "__blob", []byte("data12"))
	putBlob(t, r.root, "snap-deadbeef.dat", []byte("orphan!"))
	putBlob(t, r.root, "meta-deadbeef.dat", []byte("x"))
	putBlob(t, r.root, block.TempPrefix+"a1-b2", []byte("t"))
	putBlob(t, r.root, "index-0", []byte("junk"))

	summary, err := r.Cleanup(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 5, summary.DeletedBlobs)
	require.EqualValues(t, 16, summary.DeletedBytes)

	catalog, err = r.LoadCatalog(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, catalog.Generation)
	require.Len(t, catalog.Snapshots, 3)

	children, err := r.indicesContainer().Children(ctx)
	require.NoError(t, err)
	require.Len(t, children, 1)
	require.Contains(t, children, logsID)

	listing := listBlobs(t, r.root, "")
	require.Len(t, listing, 10)
	// Generations are writeCatalog's business: the resurrected index-0
	// survives the sweep, index-1 fell to the republish.
	require.Contains(t, listing, "index-0")
	require.Contains(t, listing, "index-2")
	require.Contains(t, listing, "index-3")
	require.NotContains(t, listing, "index-1")
	require.NotContains(t, listing, "snap-deadbeef.dat")
	require.NotContains(t, listing, "meta-deadbeef.dat")
	require.Empty(t, listBlobs(t, r.root, block.TempPrefix))

	// A second pass finds nothing stale and must not bump the generation.
	summary, err = r.Cleanup(ctx)
	require.NoError(t, err)
	require.Zero(t, summary.DeletedBlobs)
	require.Zero(t, summary.DeletedBytes)
	catalog, err = r.LoadCatalog(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, catalog.Generation)
}

func TestCleanupEmptyRepository(t *testing.T) {
	r, _ := testRepo(t)

	summary, err := r.Cleanup(context.Background())
	require.NoError(t, err)
	require.Zero(t, summary.DeletedBlobs)
	require.Zero(t, summary.DeletedBytes)
	require.Empty(t, listBlobs(t, r.root, ""))
}

func TestCleanupCleanRepositoryLeavesListingUntouched(t *testing.T) {
	r, _ := testRepo(t, WithChunkSize(4))
	ctx := context.Background()

	_, err := r.CreateSnapshot(ctx, CreateSnapshotRequest{
		Name: "nightly-1",
		Indices: []IndexCommit{
			{Name: "logs", Shards: []Commit{newMemCommit(map[string][]byte{"seg_1": []byte("alpha")})}},
		},
	})
	require.NoError(t, err)
	before := listBlobs(t, r.root, "")

	summary, err := r.Cleanup(ctx)
	require.NoError(t, err)
	require.Zero(t, summary.DeletedBlobs)
	require.Zero(t, summary.DeletedBytes)
	require.Equal(t, before, listBlobs(t, r.root, ""))
}

func TestCleanupReadOnly(t *testing.T) {
	r, _ := testRepo(t, WithReadOnly(true))

	_, err := r.Cleanup(context.Background())
	require.ErrorIs(t, err, ErrReadOnly)
}
