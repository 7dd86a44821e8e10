package repository

import (
	"context"
	"testing"
	"time"

	"github.com/go-test/deep"
	"github.com/stretchr/testify/require"
)

func refNames(refs []SnapshotRef) []string {
	names := make([]string, 0, len(refs))
	for _, ref := range refs {
		names = append(names, ref.Name)
	}
	return names
}

func TestListSnapshotsPatterns(t *testing.T) {
	r, _ := testRepo(t)
	ctx := context.Background()
	for _, name := range []string{"gamma", "alpha", "beta"} {
		_, err := r.CreateSnapshot(ctx, CreateSnapshotRequest{Name: name})
		require.NoError(t, err)
	}

	all, err := r.ListSnapshots(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{"alpha", "beta", "gamma"}, refNames(all))
	for _, ref := range all {
		require.Equal(t, SnapshotStateSuccess, ref.State)
		require.NotEmpty(t, ref.ID)
	}

	star, err := r.ListSnapshots(ctx, "*")
	require.NoError(t, err)
	require.Equal(t, refNames(all), refNames(star))

	prefixed, err := r.ListSnapshots(ctx, "b*")
	require.NoError(t, err)
	require.Equal(t, []string{"beta"}, refNames(prefixed))

	alternates, err := r.ListSnapshots(ctx, "{alpha,gamma}")
	require.NoError(t, err)
	require.Equal(t, []string{"alpha", "gamma"}, refNames(alternates))

	none, err := r.ListSnapshots(ctx, "nomatch*")
	require.NoError(t, err)
	require.Empty(t, none)

	_, err = r.ListSnapshots(ctx, "[")
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestGetSnapshot(t *testing.T) {
	r, _ := testRepo(t)
	ctx := context.Background()

	created, err := r.CreateSnapshot(ctx, CreateSnapshotRequest{
		Name:    "nightly-1",
		Indices: []IndexCommit{{Name: "logs", Shards: []Commit{newMemCommit(map[string][]byte{"seg_1": []byte("alpha")})}}},
	})
	require.NoError(t, err)

	got, err := r.GetSnapshot(ctx, "nightly-1")
	require.NoError(t, err)
	require.Empty(t, deep.Equal(created, got))

	_, err = r.GetSnapshot(ctx, "missing")
	require.ErrorIs(t, err, ErrSnapshotMissing)
}

func TestGetSnapshotStatusFinalized(t *testing.T) {
	r, _ := testRepo(t, WithChunkSize(4))
	ctx := context.Background()

	good := newMemCommit(map[string][]byte{"seg_1": []byte("alpha")})
	bad := newMemCommit(map[string][]byte{"seg_1": []byte("bravo")})
	bad.failOpen = map[string]bool{"seg_1": true}
	manifest, err := r.CreateSnapshot(ctx, CreateSnapshotRequest{
		Name:    "nightly-1",
		Indices: []IndexCommit{{Name: "logs", Shards: []Commit{good, bad}}},
	})
	require.NoError(t, err)
	require.Equal(t, SnapshotStatePartial, manifest.State)

	status, err := r.GetSnapshotStatus(ctx, "nightly-1")
	require.NoError(t, err)
	require.Equal(t, "nightly-1", status.Name)
	require.Equal(t, manifest.ID, status.ID)
	require.Equal(t, SnapshotStatePartial, status.State)
	require.False(t, status.Running)
	require.Len(t, status.Shards, 2)

	done := status.Shards[0]
	require.Equal(t, "logs", done.Index)
	require.Equal(t, 0, done.Shard)
	require.Equal(t, ShardStageDone, done.Progress.Stage)
	require.EqualValues(t, 1, done.Progress.FileCount)
	require.EqualValues(t, 5, done.Progress.TotalSize)
	require.EqualValues(t, 1, done.Progress.ProcessedFileCount)
	require.EqualValues(t, 5, done.Progress.ProcessedSize)

	failed := status.Shards[1]
	require.Equal(t, 1, failed.Shard)
	require.Equal(t, ShardStageFailed, failed.Progress.Stage)
	require.Contains(t, failed.Progress.Failure, "injected failure opening seg_1")

	_, err = r.GetSnapshotStatus(ctx, "missing")
	require.ErrorIs(t, err, ErrSnapshotMissing)
}

func TestGetSnapshotStatusRunning(t *testing.T) {
	r, _ := testRepo(t)

	status := newSnapshotStatus("inflight", "id-1", "op-1")
	require.True(t, r.statuses.register(status))
	shard := status.registerShard("logs", 0)
	require.NoError(t, shard.moveToStarted(time.Now(), 3, 2, 300, 200))
	shard.addProcessedFile(120)

	report, err := r.GetSnapshotStatus(context.Background(), "inflight")
	require.NoError(t, err)
	require.True(t, report.Running)
	require.Equal(t, SnapshotStateInProgress, report.State)
	require.Equal(t, "id-1", report.ID)
	require.Len(t, report.Shards, 1)
	progress := report.Shards[0].Progress
	require.Equal(t, ShardStageStarted, progress.Stage)
	require.EqualValues(t, 3, progress.FileCount)
	require.EqualValues(t, 2, progress.IncrementalFileCount)
	require.EqualValues(t, 1, progress.ProcessedFileCount)
	require.EqualValues(t, 120, progress.ProcessedSize)

	// Once unregistered the lookup falls back to the catalog.
	r.statuses.unregister("inflight")
	_, err = r.GetSnapshotStatus(context.Background(), "inflight")
	require.ErrorIs(t, err, ErrSnapshotMissing)
}

func TestAbortSnapshot(t *testing.T) {
	r, _ := testRepo(t)

	err := r.AbortSnapshot("nothing")
	require.ErrorIs(t, err, ErrNoRunningOperation)

	status := newSnapshotStatus("inflight", "id-1", "op-1")
	require.True(t, r.statuses.register(status))
	shard := status.registerShard("logs", 0)

	require.NoError(t, r.AbortSnapshot("inflight"))
	require.True(t, shard.IsAborted())
	late := status.registerShard("logs", 1)
	require.True(t, late.IsAborted())
}
