package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeleteSnapshotKeepsSharedBlobs(t *testing.T) {
	ctx := context.Background()
	r, adapter := testRepo(t)

	first, err := r.CreateSnapshot(ctx, CreateSnapshotRequest{
		Name: "nightly-1",
		Indices: []IndexCommit{{Name: "logs", Shards: []Commit{newMemCommit(map[string][]byte{
			"seg_1": []byte("alpha content"),
			"seg_2": []byte("bravo"),
		})}}},
	})
	require.NoError(t, err)
	second, err := r.CreateSnapshot(ctx, CreateSnapshotRequest{
		Name: "nightly-2",
		Indices: []IndexCommit{{Name: "logs", Shards: []Commit{newMemCommit(map[string][]byte{
			"seg_1": []byte("alpha content"),
			"seg_2": []byte("bravo, rewritten"),
			"seg_3": []byte("charlie"),
		})}}},
	})
	require.NoError(t, err)

	catalog, err := r.LoadCatalog(ctx)
	require.NoError(t, err)
	indexID := catalog.Indices["logs"].ID
	shardC := r.shardContainer(indexID, 0)

	m1 := &ShardManifest{}
	require.NoError(t, r.codec.Read(ctx, shardC, snapshotManifestBlobName(first.ID), m1))
	m2 := &ShardManifest{}
	require.NoError(t, r.codec.Read(ctx, shardC, snapshotManifestBlobName(second.ID), m2))
	shared := fileByPhysical(t, m2.Files, "seg_1").BlobName
	replaced := fileByPhysical(t, m1.Files, "seg_2").BlobName

	require.NoError(t, r.DeleteSnapshot(ctx, "nightly-1"))

	catalog, err = r.LoadCatalog(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), catalog.Generation)
	_, ok := catalog.Snapshot("nightly-1")
	require.False(t, ok)
	_, ok = catalog.Snapshot("nightly-2")
	require.True(t, ok)
	require.ElementsMatch(t, []string{second.ID}, catalog.Indices["logs"].Snapshots)

	rootListing := listBlobs(t, adapter.Container(), "")
	require.Len(t, rootListing, 5)
	require.Contains(t, rootListing, "index-1")
	require.Contains(t, rootListing, "index-2")
	require.Contains(t, rootListing, indexLatestBlobName)
	require.Contains(t, rootListing, snapshotManifestBlobName(second.ID))
	require.Contains(t, rootListing, metadataBlobName(second.ID))

	shardListing := listBlobs(t, shardC, "")
	require.Contains(t, shardListing, "index-2")
	require.NotContains(t, shardListing, "index-1")
	require.NotContains(t, shardListing, snapshotManifestBlobName(first.ID))
	require.Contains(t, shardListing, shared)
	require.NotContains(t, shardListing, replaced)

	// The surviving snapshot still restores cleanly.
	target := newMemTarget(nil)
	summary, err := r.RestoreShard(ctx, RestoreShardRequest{
		SnapshotName: "nightly-2",
		SnapshotID:   second.ID,
		IndexName:    "logs",
		IndexID:      indexID,
		Shard:        0,
		Target:       target,
	})
	require.NoError(t, err)
	require.Equal(t, 3, summary.RestoredFiles)
	got, ok := target.content("seg_2")
	require.True(t, ok)
	require.Equal(t, []byte("bravo, rewritten"), got)
}

func TestDeleteLastSnapshotWipesShardDirs(t *testing.T) {
	ctx := context.Background()
	r, adapter := testRepo(t)

	_, err := r.CreateSnapshot(ctx, CreateSnapshotRequest{
		Name:    "nightly-1",
		Indices: []IndexCommit{{Name: "logs", Shards: []Commit{newMemCommit(map[string][]byte{"seg_1": []byte("alpha")})}}},
	})
	require.NoError(t, err)

	require.NoError(t, r.DeleteSnapshot(ctx, "nightly-1"))

	catalog, err := r.LoadCatalog(ctx)
	require.NoError(t, err)
	require.Empty(t, catalog.Snapshots)
	require.Empty(t, catalog.Indices)
	require.Equal(t, int64(1), catalog.Generation)

	children, err := r.indicesContainer().Children(ctx)
	require.NoError(t, err)
	require.Empty(t, children)

	rootListing := listBlobs(t, adapter.Container(), "")
	require.Len(t, rootListing, 3)
	require.Contains(t, rootListing, "index-0")
	require.Contains(t, rootListing, "index-1")
	require.Contains(t, rootListing, indexLatestBlobName)
}

func TestDeleteSnapshotDropsUncoveredIndex(t *testing.T) {
	ctx := context.Background()
	r, _ := testRepo(t)

	_, err := r.CreateSnapshot(ctx, CreateSnapshotRequest{
		Name: "nightly-1",
		Indices: []IndexCommit{
			{Name: "logs", Shards: []Commit{newMemCommit(map[string][]byte{"seg_1": []byte("alpha")})}},
			{Name: "metrics", Shards: []Commit{newMemCommit(map[string][]byte{"seg_1": []byte("mike")})}},
		},
	})
	require.NoError(t, err)
	second, err := r.CreateSnapshot(ctx, CreateSnapshotRequest{
		Name:    "nightly-2",
		Indices: []IndexCommit{{Name: "logs", Shards: []Commit{newMemCommit(map[string][]byte{"seg_1": []byte("alpha")})}}},
	})
	require.NoError(t, err)

	catalog, err := r.LoadCatalog(ctx)
	require.NoError(t, err)
	logsID := catalog.Indices["logs"].ID

	require.NoError(t, r.DeleteSnapshot(ctx, "nightly-1"))

	catalog, err = r.LoadCatalog(ctx)
	require.NoError(t, err)
	require.Len(t, catalog.Indices, 1)
	require.Contains(t, catalog.Indices, "logs")

	// The index only the deleted snapshot covered is gone entirely; the
	// shared one was rewritten in place.
	children, err := r.indicesContainer().Children(ctx)
	require.NoError(t, err)
	require.Len(t, children, 1)
	require.Contains(t, children, logsID)
	shardListing := listBlobs(t, r.shardContainer(logsID, 0), "")
	require.Contains(t, shardListing, snapshotManifestBlobName(second.ID))
}

func TestDeleteSnapshotMissing(t *testing.T) {
	r, _ := testRepo(t)
	err := r.DeleteSnapshot(context.Background(), "nightly-9")
	require.ErrorIs(t, err, ErrSnapshotMissing)
}

func TestDeleteSnapshotReadOnly(t *testing.T) {
	r, _ := testRepo(t, WithReadOnly(true))
	err := r.DeleteSnapshot(context.Background(), "nightly-1")
	require.ErrorIs(t, err, ErrReadOnly)
}
