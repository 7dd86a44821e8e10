package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/treeverse/snapvault/pkg/block"
	"github.com/treeverse/snapvault/pkg/logging"
)

// CleanupSummary counts what a stale-artifact sweep removed.
type CleanupSummary struct {
	DeletedBlobs int64
	DeletedBytes int64
}

// Cleanup detects and removes stale artifacts: index directories no catalog
// entry references and root blobs no longer reachable from the current
// catalog. When anything stale is found the catalog is republished unchanged
// first, so concurrent writers that loaded the old generation fail instead of
// racing the sweep. A clean repository is left untouched.
func (r *Repository) Cleanup(ctx context.Context) (summary *CleanupSummary, err error) {
	defer func() { observeOperation("cleanup", err) }()
	if err := r.failIfReadOnly(); err != nil {
		return nil, err
	}

	catalog, err := r.LoadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	rootBlobs, err := r.listRootBlobs(ctx)
	if err != nil {
		return nil, err
	}
	foundIndices, err := r.indicesContainer().Children(ctx)
	if err != nil {
		return nil, fmt.Errorf("list index directories: %w", err)
	}
	log := r.log.WithContext(ctx).WithField(logging.GenerationFieldKey, catalog.Generation)

	if !hasStaleArtifacts(catalog, rootBlobs, foundIndices) {
		log.Debug("Nothing stale to clean up")
		return &CleanupSummary{}, nil
	}

	if _, err := r.writeCatalog(ctx, catalog.Clone(), catalog.Generation); err != nil {
		return nil, err
	}
	return r.sweepStale(ctx, log, catalog, rootBlobs, foundIndices), nil
}

// listRootBlobs returns the root listing with leftover temp blobs merged in,
// since plain listings hide them.
func (r *Repository) listRootBlobs(ctx context.Context) (map[string]int64, error) {
	listing, err := r.root.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list root blobs: %w", err)
	}
	temps, err := r.root.List(ctx, block.TempPrefix)
	if err != nil {
		r.log.WithContext(ctx).WithError(err).Warn("Failed listing root temp blobs")
		return listing, nil
	}
	for name, size := range temps {
		listing[name] = size
	}
	return listing, nil
}

func hasStaleArtifacts(catalog *Catalog, rootBlobs map[string]int64, foundIndices map[string]block.Container) bool {
	surviving := catalog.IndexIDs()
	for id := range foundIndices {
		if _, ok := surviving[id]; !ok {
			return true
		}
	}
	for name := range rootBlobs {
		if isStaleRootBlob(catalog, name) {
			return true
		}
	}
	return false
}

// isStaleRootBlob reports whether a root blob belongs to no snapshot the
// catalog holds: a leftover temp blob, or a manifest or metadata blob of an
// unknown snapshot ID. Catalog generations are never stale; retiring old ones
// is writeCatalog's job.
func isStaleRootBlob(catalog *Catalog, name string) bool {
	switch {
	case block.IsTempBlobName(name):
		return true
	case strings.HasPrefix(name, snapshotPrefix), strings.HasPrefix(name, metadataPrefix):
		id, ok := manifestBlobID(name)
		return ok && !catalog.HasSnapshotID(id)
	}
	return false
}

// sweepStale removes stale index directories and stale root blobs, every
// deletion individually best-effort and paced by the background op limiter.
// Failures are aggregated and logged, never returned; the next sweep picks up
// whatever this one missed.
func (r *Repository) sweepStale(ctx context.Context, log logging.Logger, catalog *Catalog, rootBlobs map[string]int64, foundIndices map[string]block.Container) *CleanupSummary {
	summary := &CleanupSummary{}
	var merr *multierror.Error

	surviving := catalog.IndexIDs()
	for id, indexC := range foundIndices {
		if _, ok := surviving[id]; ok {
			continue
		}
		blobs, bytes := r.containerSize(ctx, indexC)
		r.cleanupLimiter.Take()
		if err := indexC.DeleteAll(ctx); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("delete stale index directory %s: %w", id, err))
			continue
		}
		log.WithField(logging.IndexIDFieldKey, id).Info("Deleted stale index directory")
		summary.DeletedBlobs += blobs
		summary.DeletedBytes += bytes
	}

	for name, size := range rootBlobs {
		if !isStaleRootBlob(catalog, name) {
			continue
		}
		r.cleanupLimiter.Take()
		if err := r.root.Delete(ctx, name); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("delete stale root blob %s: %w", name, err))
			continue
		}
		summary.DeletedBlobs++
		summary.DeletedBytes += size
	}

	if err := merr.ErrorOrNil(); err != nil {
		log.WithError(err).Warn("Stale artifact sweep left failures behind")
	}
	log.WithFields(logging.Fields{
		"deleted_blobs": summary.DeletedBlobs,
		"deleted_bytes": summary.DeletedBytes,
	}).Info("Stale artifact sweep done")
	return summary
}

// containerSize walks a container tree and sums its blobs. Best-effort for
// reporting; listing failures leave the count partial.
func (r *Repository) containerSize(ctx context.Context, c block.Container) (blobs, bytes int64) {
	listing, err := c.List(ctx, "")
	if err == nil {
		for _, size := range listing {
			blobs++
			bytes += size
		}
	}
	children, err := c.Children(ctx)
	if err != nil {
		return blobs, bytes
	}
	for _, child := range children {
		b, s := r.containerSize(ctx, child)
		blobs += b
		bytes += s
	}
	return blobs, bytes
}
