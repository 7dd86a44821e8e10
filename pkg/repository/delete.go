package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/treeverse/snapvault/pkg/block"
	"github.com/treeverse/snapvault/pkg/logging"
)

// DeleteSnapshot removes a snapshot from the repository. The catalog write is
// the commit point; once the surviving catalog is published every remaining
// step is best-effort garbage removal, logged and swallowed, and the deletion
// reports success. Data blobs shared with other snapshots survive.
func (r *Repository) DeleteSnapshot(ctx context.Context, name string) (err error) {
	defer func() { observeOperation("delete", err) }()
	if err := r.failIfReadOnly(); err != nil {
		return err
	}

	catalog, err := r.LoadCatalog(ctx)
	if err != nil {
		return err
	}
	ref, ok := catalog.Snapshot(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrSnapshotMissing, name)
	}
	log := r.log.WithContext(ctx).WithFields(logging.Fields{
		logging.SnapshotFieldKey:   name,
		logging.SnapshotIDFieldKey: ref.ID,
	})
	if _, err := r.loadSnapshotManifest(ctx, ref.ID); err != nil {
		log.WithError(err).Warn("Snapshot manifest unreadable, deleting from catalog state only")
	}

	// Both captures happen before the catalog write so artifacts created by
	// concurrent snapshots afterwards are never considered stale.
	rootBlobs, err := r.listRootBlobs(ctx)
	if err != nil {
		return err
	}
	foundIndices, err := r.indicesContainer().Children(ctx)
	if err != nil {
		return fmt.Errorf("list index directories: %w", err)
	}
	coveredIndices := catalog.IndicesOf(ref.ID)

	updated := catalog.WithoutSnapshot(ref.ID)
	if _, err := r.writeCatalog(ctx, updated, catalog.Generation); err != nil {
		return err
	}

	// Committed. Collect cleanup failures but never escalate them.
	var merr *multierror.Error
	if err := r.root.Delete(ctx, snapshotManifestBlobName(ref.ID), metadataBlobName(ref.ID)); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("delete root snapshot blobs: %w", err))
	}
	delete(rootBlobs, snapshotManifestBlobName(ref.ID))
	delete(rootBlobs, metadataBlobName(ref.ID))
	merr = multierror.Append(merr, r.deleteShardData(ctx, log, ref, coveredIndices, updated))
	summary := r.sweepStale(ctx, log, updated, rootBlobs, foundIndices)

	if err := merr.ErrorOrNil(); err != nil {
		log.WithError(err).Warn("Snapshot deleted with unfinished cleanup")
	}
	log.WithFields(logging.Fields{
		"deleted_blobs": summary.DeletedBlobs,
		"deleted_bytes": summary.DeletedBytes,
	}).Info("Snapshot deleted")
	return nil
}

// deleteShardData removes the deleted snapshot's entries from every index it
// covered that still exists in the surviving catalog. Indices nothing else
// references are left for the stale sweep, which removes their whole
// directory.
func (r *Repository) deleteShardData(ctx context.Context, log logging.Logger, ref SnapshotRef, coveredIndices []IndexRef, updated *Catalog) error {
	surviving := updated.IndexIDs()
	var (
		mu   sync.Mutex
		merr *multierror.Error
	)
	group := r.pool.NewGroup()
	for _, index := range coveredIndices {
		if _, ok := surviving[index.ID]; !ok {
			continue
		}
		indexC := r.indexContainer(index.ID)
		indexMeta := &IndexMeta{}
		if err := r.codec.Read(ctx, indexC, metadataBlobName(ref.ID), indexMeta); err != nil {
			log.WithField(logging.IndexFieldKey, index.Name).WithError(err).
				Warn("Failed reading index metadata, skipping its shards")
			mu.Lock()
			merr = multierror.Append(merr, fmt.Errorf("index %s metadata: %w", index.Name, err))
			mu.Unlock()
			continue
		}
		if err := indexC.Delete(ctx, metadataBlobName(ref.ID)); err != nil {
			mu.Lock()
			merr = multierror.Append(merr, fmt.Errorf("delete index %s metadata: %w", index.Name, err))
			mu.Unlock()
		}
		for shard := 0; shard < indexMeta.ShardCount; shard++ {
			group.Submit(func() {
				if err := r.deleteShardSnapshot(ctx, index, shard, ref); err != nil {
					mu.Lock()
					defer mu.Unlock()
					merr = multierror.Append(merr, err)
				}
			})
		}
	}
	if err := group.Wait(); err != nil {
		mu.Lock()
		merr = multierror.Append(merr, err)
		mu.Unlock()
	}
	return merr.ErrorOrNil()
}

// deleteShardSnapshot drops one snapshot from one shard directory: rewrite
// the shard file catalog without it, or wipe the directory when it was the
// last snapshot there.
func (r *Repository) deleteShardSnapshot(ctx context.Context, index IndexRef, shard int, ref SnapshotRef) error {
	log := r.log.WithContext(ctx).WithFields(logging.Fields{
		logging.SnapshotFieldKey: ref.Name,
		logging.IndexFieldKey:    index.Name,
		logging.ShardFieldKey:    shard,
	})
	shardC := r.shardContainer(index.ID, shard)
	listing, err := shardC.List(ctx, "")
	if err != nil {
		return fmt.Errorf("index %s shard %d: list: %w", index.Name, shard, err)
	}
	fileCatalog, err := r.loadShardFileCatalog(ctx, shardC, listing)
	if err != nil {
		return fmt.Errorf("index %s shard %d: %w", index.Name, shard, err)
	}
	updated := fileCatalog.WithoutSnapshot(ref.Name)
	if len(updated.SnapshotNames()) == 0 {
		if err := shardC.DeleteAll(ctx); err != nil {
			return fmt.Errorf("index %s shard %d: delete all: %w", index.Name, shard, err)
		}
		return nil
	}
	newGen := fileCatalog.Generation + 1
	if err := r.codec.WriteAtomic(ctx, shardC, catalogBlobName(newGen), updated, block.PutOpts{FailIfExists: true}); err != nil {
		return fmt.Errorf("index %s shard %d: write file catalog generation %d: %w", index.Name, shard, newGen, err)
	}
	r.deleteOldShardCatalogs(ctx, log, shardC, listing)
	if err := shardC.Delete(ctx, snapshotManifestBlobName(ref.ID)); err != nil {
		log.WithError(err).Warn("Failed deleting shard manifest")
	}
	r.deleteUnreferencedShardBlobs(ctx, log, shardC, listing, updated)
	r.deleteTempBlobs(ctx, log, shardC)
	return nil
}
