package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/treeverse/snapvault/pkg/block"
)

func TestCreateSnapshotFullFlow(t *testing.T) {
	ctx := context.Background()
	r, adapter := testRepo(t)

	manifest, err := r.CreateSnapshot(ctx, CreateSnapshotRequest{
		Name: "nightly-1",
		Indices: []IndexCommit{
			{Name: "metrics", Shards: []Commit{newMemCommit(map[string][]byte{"seg_1": []byte("charlie")})}},
			{Name: "logs", Shards: []Commit{
				newMemCommit(map[string][]byte{"seg_1": []byte("alpha")}),
				newMemCommit(map[string][]byte{"seg_1": []byte("bravo")}),
			}},
		},
		Annotations: map[string]string{"trigger": "scheduled"},
	})
	require.NoError(t, err)
	require.Equal(t, "nightly-1", manifest.Name)
	require.NotEmpty(t, manifest.ID)
	require.Equal(t, SnapshotStateSuccess, manifest.State)
	require.Equal(t, []string{"logs", "metrics"}, manifest.Indices)
	require.Equal(t, 3, manifest.TotalShards)
	require.Equal(t, 3, manifest.SuccessfulShards)
	require.Empty(t, manifest.Failures)
	require.False(t, manifest.EndTime.Before(manifest.StartTime))

	catalog, err := r.LoadCatalog(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), catalog.Generation)
	ref, ok := catalog.Snapshot("nightly-1")
	require.True(t, ok)
	require.Equal(t, manifest.ID, ref.ID)
	require.Equal(t, SnapshotStateSuccess, ref.State)
	require.ElementsMatch(t, []string{manifest.ID}, catalog.Indices["logs"].Snapshots)

	rootListing := listBlobs(t, adapter.Container(), "")
	require.Len(t, rootListing, 4)
	require.Contains(t, rootListing, "index-0")
	require.Contains(t, rootListing, indexLatestBlobName)
	require.Contains(t, rootListing, snapshotManifestBlobName(manifest.ID))
	require.Contains(t, rootListing, metadataBlobName(manifest.ID))

	meta := &GlobalMeta{}
	require.NoError(t, r.codec.Read(ctx, r.root, metadataBlobName(manifest.ID), meta))
	require.Equal(t, "nightly-1", meta.SnapshotName)
	require.Equal(t, manifest.ID, meta.SnapshotID)
	require.Equal(t, map[string]string{"trigger": "scheduled"}, meta.Annotations)
	require.False(t, meta.Taken.IsZero())

	logsID := catalog.Indices["logs"].ID
	indexMeta := &IndexMeta{}
	require.NoError(t, r.codec.Read(ctx, r.indexContainer(logsID), metadataBlobName(manifest.ID), indexMeta))
	require.Equal(t, "logs", indexMeta.Name)
	require.Equal(t, logsID, indexMeta.ID)
	require.Equal(t, 2, indexMeta.ShardCount)

	loaded, err := r.loadSnapshotManifest(ctx, manifest.ID)
	require.NoError(t, err)
	require.Equal(t, manifest.Name, loaded.Name)
	require.Equal(t, manifest.State, loaded.State)
	require.Equal(t, manifest.TotalShards, loaded.TotalShards)
}

func TestCreateSnapshotKeepsIndexIDAcrossSnapshots(t *testing.T) {
	ctx := context.Background()
	r, adapter := testRepo(t)
	files := map[string][]byte{"seg_1": []byte("alpha"), "seg_2": []byte("bravo")}

	first, err := r.CreateSnapshot(ctx, CreateSnapshotRequest{
		Name:    "nightly-1",
		Indices: []IndexCommit{{Name: "logs", Shards: []Commit{newMemCommit(files)}}},
	})
	require.NoError(t, err)

	second, err := r.CreateSnapshot(ctx, CreateSnapshotRequest{
		Name:    "nightly-2",
		Indices: []IndexCommit{{Name: "logs", Shards: []Commit{newMemCommit(files)}}},
	})
	require.NoError(t, err)

	catalog, err := r.LoadCatalog(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), catalog.Generation)
	indexID := catalog.Indices["logs"].ID
	require.ElementsMatch(t, []string{first.ID, second.ID}, catalog.Indices["logs"].Snapshots)

	// Unchanged files are not uploaded again.
	shardManifest := &ShardManifest{}
	require.NoError(t, r.codec.Read(ctx, r.shardContainer(indexID, 0), snapshotManifestBlobName(second.ID), shardManifest))
	require.Equal(t, 2, shardManifest.FileCount)
	require.Equal(t, 0, shardManifest.IncrementalFileCount)

	rootListing := listBlobs(t, adapter.Container(), catalogPrefix)
	require.Contains(t, rootListing, "index-0")
	require.Contains(t, rootListing, "index-1")
}

func TestCreateSnapshotNameValidation(t *testing.T) {
	r, _ := testRepo(t)
	for _, name := range []string{
		"",
		"UPPER",
		"_leading",
		"has space",
		"a,b",
		"a#b",
		"sl/ash",
		"qu?estion",
		`back\slash`,
	} {
		_, err := r.CreateSnapshot(context.Background(), CreateSnapshotRequest{Name: name})
		require.ErrorIs(t, err, ErrInvalidSnapshotName, "name %q", name)
	}

	// Underscores and digits inside the name are fine, as is a snapshot of
	// nothing.
	manifest, err := r.CreateSnapshot(context.Background(), CreateSnapshotRequest{Name: "snap_1"})
	require.NoError(t, err)
	require.Equal(t, SnapshotStateSuccess, manifest.State)
	require.Equal(t, 0, manifest.TotalShards)
}

func TestCreateSnapshotDuplicateName(t *testing.T) {
	ctx := context.Background()
	r, _ := testRepo(t)
	_, err := r.CreateSnapshot(ctx, CreateSnapshotRequest{Name: "nightly-1"})
	require.NoError(t, err)

	_, err = r.CreateSnapshot(ctx, CreateSnapshotRequest{Name: "nightly-1"})
	require.ErrorIs(t, err, ErrDuplicateSnapshotName)
}

func TestCreateSnapshotRejectsUnfinalizedName(t *testing.T) {
	ctx := context.Background()
	r, _ := testRepo(t)

	// A manifest outside the catalog is another writer mid-finalize, or a
	// leftover; either way the name is not free.
	orphan := &SnapshotManifest{Name: "nightly-1", ID: "feedface", State: SnapshotStateInProgress}
	require.NoError(t, r.codec.Write(ctx, r.root, snapshotManifestBlobName("feedface"), orphan, block.PutOpts{}))

	_, err := r.CreateSnapshot(ctx, CreateSnapshotRequest{Name: "nightly-1"})
	require.ErrorIs(t, err, ErrDuplicateSnapshotName)
	require.ErrorContains(t, err, "unfinalized manifest")

	// Other names remain usable.
	_, err = r.CreateSnapshot(ctx, CreateSnapshotRequest{Name: "nightly-2"})
	require.NoError(t, err)
}

func TestCreateSnapshotPartial(t *testing.T) {
	ctx := context.Background()
	r, _ := testRepo(t)
	broken := newMemCommit(map[string][]byte{"seg_1": []byte("bravo")})
	broken.failOpen = map[string]bool{"seg_1": true}

	manifest, err := r.CreateSnapshot(ctx, CreateSnapshotRequest{
		Name: "nightly-1",
		Indices: []IndexCommit{{
			Name: "logs",
			Shards: []Commit{
				newMemCommit(map[string][]byte{"seg_1": []byte("alpha")}),
				broken,
			},
		}},
	})
	require.NoError(t, err)
	require.Equal(t, SnapshotStatePartial, manifest.State)
	require.Equal(t, 2, manifest.TotalShards)
	require.Equal(t, 1, manifest.SuccessfulShards)
	require.Len(t, manifest.Failures, 1)
	require.Equal(t, "logs", manifest.Failures[0].Index)
	require.Equal(t, 1, manifest.Failures[0].Shard)
	require.Contains(t, manifest.Failures[0].Reason, "injected failure opening seg_1")
	require.NotEmpty(t, manifest.Failures[0].NodeID)

	catalog, err := r.LoadCatalog(ctx)
	require.NoError(t, err)
	ref, ok := catalog.Snapshot("nightly-1")
	require.True(t, ok)
	require.Equal(t, SnapshotStatePartial, ref.State)
}

func TestCreateSnapshotAllShardsFailed(t *testing.T) {
	ctx := context.Background()
	r, _ := testRepo(t)
	broken := newMemCommit(map[string][]byte{"seg_1": []byte("alpha")})
	broken.failOpen = map[string]bool{"seg_1": true}

	manifest, err := r.CreateSnapshot(ctx, CreateSnapshotRequest{
		Name:    "nightly-1",
		Indices: []IndexCommit{{Name: "logs", Shards: []Commit{broken}}},
	})
	require.NoError(t, err)
	require.Equal(t, SnapshotStateFailed, manifest.State)
	require.Equal(t, 0, manifest.SuccessfulShards)

	// Even a failed snapshot is part of the catalog until deleted.
	catalog, err := r.LoadCatalog(ctx)
	require.NoError(t, err)
	ref, ok := catalog.Snapshot("nightly-1")
	require.True(t, ok)
	require.Equal(t, SnapshotStateFailed, ref.State)
}

func TestCreateSnapshotReadOnly(t *testing.T) {
	r, _ := testRepo(t, WithReadOnly(true))
	_, err := r.CreateSnapshot(context.Background(), CreateSnapshotRequest{Name: "nightly-1"})
	require.ErrorIs(t, err, ErrReadOnly)
}
