package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gobwas/glob"

	"github.com/treeverse/snapvault/pkg/block"
	"github.com/treeverse/snapvault/pkg/logging"
)

// ListSnapshots returns the snapshots whose name matches the glob pattern,
// sorted by name. An empty pattern or "*" matches everything.
func (r *Repository) ListSnapshots(ctx context.Context, pattern string) ([]SnapshotRef, error) {
	catalog, err := r.LoadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	var matcher glob.Glob
	if pattern != "" && pattern != "*" {
		matcher, err = glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: pattern %q: %w", ErrInvalidRequest, pattern, err)
		}
	}
	var res []SnapshotRef
	for _, ref := range catalog.Snapshots {
		if matcher == nil || matcher.Match(ref.Name) {
			res = append(res, ref)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

// GetSnapshot returns the manifest of a finalized snapshot.
func (r *Repository) GetSnapshot(ctx context.Context, name string) (*SnapshotManifest, error) {
	catalog, err := r.LoadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	ref, ok := catalog.Snapshot(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSnapshotMissing, name)
	}
	return r.loadSnapshotManifest(ctx, ref.ID)
}

// SnapshotStatusReport describes a snapshot operation, live or finalized.
type SnapshotStatusReport struct {
	Name      string
	ID        string
	State     SnapshotState
	Running   bool
	StartedAt time.Time
	Shards    []ShardStatusReport
}

// GetSnapshotStatus reports per-shard progress. A running operation is read
// live from the status registry; a finalized snapshot is summed up from its
// manifest and the shard manifests it left behind.
func (r *Repository) GetSnapshotStatus(ctx context.Context, name string) (*SnapshotStatusReport, error) {
	if status, ok := r.statuses.get(name); ok {
		return &SnapshotStatusReport{
			Name:      status.Name,
			ID:        status.ID,
			State:     status.State(),
			Running:   true,
			StartedAt: status.StartedAt,
			Shards:    status.ShardReports(),
		}, nil
	}

	catalog, err := r.LoadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	ref, ok := catalog.Snapshot(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSnapshotMissing, name)
	}
	manifest, err := r.loadSnapshotManifest(ctx, ref.ID)
	if err != nil {
		return nil, err
	}
	report := &SnapshotStatusReport{
		Name:      manifest.Name,
		ID:        manifest.ID,
		State:     manifest.State,
		StartedAt: manifest.StartTime,
	}

	failed := make(map[shardKey]string, len(manifest.Failures))
	for _, failure := range manifest.Failures {
		failed[shardKey{Index: failure.Index, Shard: failure.Shard}] = failure.Reason
	}
	for _, index := range catalog.IndicesOf(ref.ID) {
		indexMeta := &IndexMeta{}
		if err := r.codec.Read(ctx, r.indexContainer(index.ID), metadataBlobName(ref.ID), indexMeta); err != nil {
			return nil, fmt.Errorf("read metadata for index %s: %w", index.Name, err)
		}
		for shard := 0; shard < indexMeta.ShardCount; shard++ {
			progress, err := r.finalizedShardProgress(ctx, index, shard, ref, failed)
			if err != nil {
				return nil, err
			}
			if progress == nil {
				continue
			}
			report.Shards = append(report.Shards, ShardStatusReport{
				Index:    index.Name,
				Shard:    shard,
				Progress: *progress,
			})
		}
	}
	sort.Slice(report.Shards, func(i, j int) bool {
		if report.Shards[i].Index != report.Shards[j].Index {
			return report.Shards[i].Index < report.Shards[j].Index
		}
		return report.Shards[i].Shard < report.Shards[j].Shard
	})
	return report, nil
}

// finalizedShardProgress rebuilds one shard's progress from its shard
// manifest. A failed shard has no manifest; its failure reason comes from the
// snapshot manifest. A nil progress means the shard left nothing behind.
func (r *Repository) finalizedShardProgress(ctx context.Context, index IndexRef, shard int, ref SnapshotRef, failed map[shardKey]string) (*ShardProgress, error) {
	if reason, ok := failed[shardKey{Index: index.Name, Shard: shard}]; ok {
		return &ShardProgress{Stage: ShardStageFailed, Failure: reason}, nil
	}
	shardC := r.shardContainer(index.ID, shard)
	manifest := &ShardManifest{}
	if err := r.codec.Read(ctx, shardC, snapshotManifestBlobName(ref.ID), manifest); err != nil {
		if errors.Is(err, block.ErrDataNotFound) {
			r.log.WithContext(ctx).WithFields(logging.Fields{
				logging.SnapshotFieldKey: ref.Name,
				logging.IndexFieldKey:    index.Name,
				logging.ShardFieldKey:    shard,
			}).Warn("Shard manifest missing for finalized snapshot")
			return nil, nil
		}
		return nil, fmt.Errorf("read shard manifest for index %s shard %d: %w", index.Name, shard, err)
	}
	return &ShardProgress{
		Stage:                ShardStageDone,
		StartedAt:            manifest.StartTime,
		FileCount:            int64(manifest.FileCount),
		IncrementalFileCount: int64(manifest.IncrementalFileCount),
		TotalSize:            manifest.TotalSize,
		IncrementalSize:      manifest.IncrementalSize,
		ProcessedFileCount:   int64(manifest.IncrementalFileCount),
		ProcessedSize:        manifest.IncrementalSize,
	}, nil
}

// AbortSnapshot requests a cooperative abort of a running snapshot
// operation.
func (r *Repository) AbortSnapshot(name string) error {
	status, ok := r.statuses.get(name)
	if !ok {
		return fmt.Errorf("%w: no snapshot %q is running", ErrNoRunningOperation, name)
	}
	status.Abort()
	return nil
}
