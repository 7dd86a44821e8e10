package repository

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/treeverse/snapvault/pkg/blobfmt"
	"github.com/treeverse/snapvault/pkg/block"
	"github.com/treeverse/snapvault/pkg/logging"
)

// RestoreShardRequest restores one shard of a snapshot into a target.
type RestoreShardRequest struct {
	SnapshotName string
	SnapshotID   string
	IndexName    string
	IndexID      string
	Shard        int
	Target       Target
}

// ShardRestoreSummary reports what a shard restore did.
type ShardRestoreSummary struct {
	RestoredFiles int
	RestoredBytes int64
	SkippedFiles  int
	SkippedBytes  int64
	RemovedFiles  int
}

// RestoreShard writes the files of one shard snapshot into the target. Target
// files that already hold identical content are left alone, and files the
// snapshot does not contain are removed, so after a successful restore the
// target holds exactly the snapshot. Restores work on read-only repositories.
func (r *Repository) RestoreShard(ctx context.Context, req RestoreShardRequest) (summary *ShardRestoreSummary, err error) {
	log := r.log.WithContext(ctx).WithFields(logging.Fields{
		logging.SnapshotFieldKey: req.SnapshotName,
		logging.IndexFieldKey:    req.IndexName,
		logging.ShardFieldKey:    req.Shard,
	})
	defer func() {
		if err != nil {
			err = fmt.Errorf("%w: index %s shard %d snapshot %s: %w",
				ErrShardRestoreFailed, req.IndexName, req.Shard, req.SnapshotName, err)
		}
	}()

	shardC := r.shardContainer(req.IndexID, req.Shard)
	manifest := &ShardManifest{}
	if err := r.codec.Read(ctx, shardC, snapshotManifestBlobName(req.SnapshotID), manifest); err != nil {
		if errors.Is(err, block.ErrDataNotFound) {
			return nil, fmt.Errorf("%w: shard holds no manifest for %q", ErrSnapshotMissing, req.SnapshotName)
		}
		return nil, fmt.Errorf("read shard manifest: %w", err)
	}

	current, err := req.Target.Files()
	if err != nil {
		return nil, fmt.Errorf("list target files: %w", err)
	}
	existing := make(map[string]FileMeta, len(current))
	for _, meta := range current {
		existing[meta.Name] = meta
	}

	summary = &ShardRestoreSummary{}
	var scheduled []FileInfo
	for _, info := range manifest.Files {
		if meta, ok := existing[info.PhysicalName]; ok && info.IsSame(meta) {
			summary.SkippedFiles++
			summary.SkippedBytes += info.Length
			continue
		}
		scheduled = append(scheduled, info)
	}
	log.WithFields(logging.Fields{
		"files":   len(manifest.Files),
		"restore": len(scheduled),
	}).Debug("Starting shard restore")

	for _, info := range scheduled {
		if err := r.restoreFile(ctx, shardC, req.Target, info); err != nil {
			return nil, err
		}
		summary.RestoredFiles++
		summary.RestoredBytes += info.Length
	}

	// Anything the target held before that is not part of this snapshot is
	// now stale.
	restored := make(map[string]struct{}, len(manifest.Files))
	for _, info := range manifest.Files {
		restored[info.PhysicalName] = struct{}{}
	}
	for name := range existing {
		if _, ok := restored[name]; ok {
			continue
		}
		if err := req.Target.Remove(name); err != nil {
			return nil, fmt.Errorf("remove stale file %s: %w", name, err)
		}
		summary.RemovedFiles++
	}
	return summary, nil
}

// restoreFile streams all parts of one file into the target and verifies the
// recomputed checksum against the manifest. A torn or corrupt file is removed
// before the error is returned.
func (r *Repository) restoreFile(ctx context.Context, shardC block.Container, target Target, info FileInfo) error {
	src := newPartReader(ctx, shardC, info)
	defer func() { _ = src.Close() }()

	dst, err := target.Create(info.PhysicalName)
	if err != nil {
		return fmt.Errorf("create %s: %w", info.PhysicalName, err)
	}
	hasher := xxhash.New()
	reader := newThrottledReader(ctx, src, r.restoreLimiter, r.onRestoreThrottle)
	written, err := io.Copy(dst, io.TeeReader(reader, hasher))
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err == nil && written != info.Length {
		err = fmt.Errorf("%w: got %d bytes, want %d", blobfmt.ErrChecksumMismatch, written, info.Length)
	}
	if err == nil && checksumHex(hasher.Sum64()) != info.Checksum {
		err = blobfmt.ErrChecksumMismatch
	}
	if err != nil {
		_ = target.Remove(info.PhysicalName)
		return fmt.Errorf("restore %s: %w", info.PhysicalName, err)
	}
	return nil
}

// RestoreIndexRequest restores every shard of one index from a snapshot.
// Shards[i] is the target for shard i; the slice length must match the shard
// count recorded when the snapshot was taken.
type RestoreIndexRequest struct {
	SnapshotName string
	IndexName    string
	Shards       []Target
}

// IndexRestoreSummary reports per-shard restore results, indexed by shard.
type IndexRestoreSummary struct {
	Shards []ShardRestoreSummary
}

// RestoreIndex resolves the snapshot and index in the catalog and restores
// all shards concurrently. The first shard failure cancels the remaining
// shards.
func (r *Repository) RestoreIndex(ctx context.Context, req RestoreIndexRequest) (summary *IndexRestoreSummary, err error) {
	defer func() { observeOperation("restore", err) }()

	catalog, err := r.LoadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	ref, ok := catalog.Snapshot(req.SnapshotName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSnapshotMissing, req.SnapshotName)
	}
	index, ok := catalog.Indices[req.IndexName]
	if !ok || !containsString(index.Snapshots, ref.ID) {
		return nil, fmt.Errorf("%w: snapshot %q does not include index %q",
			ErrInvalidRequest, req.SnapshotName, req.IndexName)
	}

	indexMeta := &IndexMeta{}
	if err := r.codec.Read(ctx, r.indexContainer(index.ID), metadataBlobName(ref.ID), indexMeta); err != nil {
		return nil, fmt.Errorf("read index metadata: %w", err)
	}
	if len(req.Shards) != indexMeta.ShardCount {
		return nil, fmt.Errorf("%w: index %q has %d shards, got %d targets",
			ErrInvalidRequest, req.IndexName, indexMeta.ShardCount, len(req.Shards))
	}

	summary = &IndexRestoreSummary{Shards: make([]ShardRestoreSummary, len(req.Shards))}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for shard, target := range req.Shards {
		g.Go(func() error {
			shardSummary, err := r.RestoreShard(gctx, RestoreShardRequest{
				SnapshotName: req.SnapshotName,
				SnapshotID:   ref.ID,
				IndexName:    req.IndexName,
				IndexID:      index.ID,
				Shard:        shard,
				Target:       target,
			})
			if err != nil {
				return err
			}
			summary.Shards[shard] = *shardSummary
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summary, nil
}
