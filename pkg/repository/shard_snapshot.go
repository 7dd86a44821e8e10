package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/treeverse/snapvault/pkg/block"
	"github.com/treeverse/snapvault/pkg/logging"
)

// SnapshotShardRequest snapshots one shard commit into the repository.
type SnapshotShardRequest struct {
	SnapshotName string
	SnapshotID   string
	IndexName    string
	IndexID      string
	Shard        int
	Commit       Commit
}

// SnapshotShard uploads the commit of a single shard and registers it in the
// shard file catalog. Files already present from earlier snapshots of the
// shard are reused, which is what makes repeated snapshots incremental. The
// caller must be the only writer of this shard directory.
func (r *Repository) SnapshotShard(ctx context.Context, req SnapshotShardRequest) (*ShardManifest, error) {
	if err := r.failIfReadOnly(); err != nil {
		return nil, err
	}
	return r.snapshotShard(ctx, req, newShardSnapshotStatus())
}

func (r *Repository) snapshotShard(ctx context.Context, req SnapshotShardRequest, status *ShardSnapshotStatus) (manifest *ShardManifest, err error) {
	log := r.log.WithContext(ctx).WithFields(logging.Fields{
		logging.SnapshotFieldKey: req.SnapshotName,
		logging.IndexFieldKey:    req.IndexName,
		logging.ShardFieldKey:    req.Shard,
	})
	defer func() {
		if err != nil {
			status.moveToFailed(err.Error())
			err = fmt.Errorf("%w: index %s shard %d snapshot %s: %w",
				ErrShardSnapshotFailed, req.IndexName, req.Shard, req.SnapshotName, err)
		}
	}()

	shardC := r.shardContainer(req.IndexID, req.Shard)
	listing, err := shardC.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list shard blobs: %w", err)
	}
	fileCatalog, err := r.loadShardFileCatalog(ctx, shardC, listing)
	if err != nil {
		return nil, err
	}
	if fileCatalog.HasSnapshot(req.SnapshotName) {
		return nil, fmt.Errorf("%w: shard already holds %q", ErrDuplicateSnapshotName, req.SnapshotName)
	}

	var (
		files                      []FileInfo
		uploads                    []FileInfo
		totalSize, incrementalSize int64
	)
	for _, meta := range req.Commit.Files() {
		totalSize += meta.Length
		reused, found := findReusableFile(fileCatalog, meta, listing)
		if found {
			files = append(files, reused)
			continue
		}
		info := FileInfo{
			BlobName:     newDataBlobName(),
			PhysicalName: meta.Name,
			Length:       meta.Length,
			Checksum:     meta.Checksum,
			PartSize:     r.chunkSize,
		}
		files = append(files, info)
		uploads = append(uploads, info)
		incrementalSize += meta.Length
	}

	startedAt := time.Now()
	if err := status.moveToStarted(startedAt, len(files), len(uploads), totalSize, incrementalSize); err != nil {
		return nil, err
	}
	log.WithFields(logging.Fields{
		"files":             len(files),
		"incremental_files": len(uploads),
		"incremental_bytes": incrementalSize,
	}).Debug("Starting shard upload")

	for _, info := range uploads {
		if err := r.uploadFile(ctx, shardC, req.Commit, info, status); err != nil {
			if status.IsAborted() {
				return nil, fmt.Errorf("upload %s: %w", info.PhysicalName, ErrSnapshotAborted)
			}
			return nil, fmt.Errorf("upload %s: %w", info.PhysicalName, err)
		}
		status.addProcessedFile(info.Length)
	}

	if err := status.moveToFinalize(); err != nil {
		return nil, err
	}
	manifest = &ShardManifest{
		SnapshotName:         req.SnapshotName,
		SnapshotID:           req.SnapshotID,
		StartTime:            startedAt,
		Duration:             time.Since(startedAt),
		Files:                files,
		FileCount:            len(files),
		TotalSize:            totalSize,
		IncrementalFileCount: len(uploads),
		IncrementalSize:      incrementalSize,
	}
	if err := r.codec.Write(ctx, shardC, snapshotManifestBlobName(req.SnapshotID), manifest, block.PutOpts{FailIfExists: true}); err != nil {
		return nil, fmt.Errorf("write shard manifest: %w", err)
	}

	updated := fileCatalog.WithSnapshot(req.SnapshotName, files)
	newGen := fileCatalog.Generation + 1
	if err := r.codec.WriteAtomic(ctx, shardC, catalogBlobName(newGen), updated, block.PutOpts{FailIfExists: true}); err != nil {
		return nil, fmt.Errorf("write shard file catalog generation %d: %w", newGen, err)
	}

	// Past this point the snapshot is durable; the rest is best-effort
	// garbage removal inside the shard directory.
	r.deleteOldShardCatalogs(ctx, log, shardC, listing)
	r.deleteUnreferencedShardBlobs(ctx, log, shardC, listing, updated)
	r.deleteTempBlobs(ctx, log, shardC)

	if err := status.moveToDone(); err != nil {
		return nil, err
	}
	return manifest, nil
}

// findReusableFile returns a catalog entry holding the same content as meta,
// but only when all of its blobs still exist in the listing.
func findReusableFile(fileCatalog *ShardFileCatalog, meta FileMeta, listing map[string]int64) (FileInfo, bool) {
	for _, existing := range fileCatalog.FindPhysical(meta.Name) {
		if existing.IsSame(meta) && existing.ExistsInBlobs(listing) {
			return existing, true
		}
	}
	return FileInfo{}, false
}

// uploadFile streams one commit file into its data blobs, splitting at the
// configured part size. A zero-length file becomes a single empty blob.
func (r *Repository) uploadFile(ctx context.Context, shardC block.Container, commit Commit, info FileInfo, status *ShardSnapshotStatus) error {
	src, err := commit.Open(info.PhysicalName)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()
	reader := newThrottledReader(ctx, newAbortReader(src, status), r.snapshotLimiter, r.onSnapshotThrottle)
	for i := int64(0); i < info.NumParts(); i++ {
		partLen := info.PartLength(i)
		part := io.LimitReader(reader, partLen)
		if err := shardC.Put(ctx, info.PartName(i), part, partLen, block.PutOpts{FailIfExists: true}); err != nil {
			return fmt.Errorf("part %d: %w", i, err)
		}
	}
	return nil
}

// loadShardFileCatalog reads the shard's file catalog at the highest
// generation in the listing. A missing or unreadable catalog over live data
// blobs is rebuilt from the shard manifests.
func (r *Repository) loadShardFileCatalog(ctx context.Context, shardC block.Container, listing map[string]int64) (*ShardFileCatalog, error) {
	log := r.log.WithContext(ctx).WithField("shard_path", shardC.Path())
	gen := int64(-1)
	for name := range listing {
		if g, ok := parseCatalogGeneration(name); ok && g > gen {
			gen = g
		}
	}
	if gen >= 0 {
		fileCatalog := NewShardFileCatalog()
		err := r.codec.Read(ctx, shardC, catalogBlobName(gen), fileCatalog)
		if err == nil {
			fileCatalog.Generation = gen
			return fileCatalog, nil
		}
		log.WithField(logging.GenerationFieldKey, gen).WithError(err).
			Warn("Failed reading shard file catalog, rebuilding from shard manifests")
		return r.rebuildShardFileCatalog(ctx, shardC, listing, gen)
	}
	if hasShardSnapshotData(listing) {
		log.Warn("Shard has snapshot blobs but no file catalog, rebuilding from shard manifests")
		return r.rebuildShardFileCatalog(ctx, shardC, listing, -1)
	}
	return NewShardFileCatalog(), nil
}

func hasShardSnapshotData(listing map[string]int64) bool {
	for name := range listing {
		if isDataBlobName(name) || strings.HasPrefix(name, snapshotPrefix) {
			return true
		}
	}
	return false
}

// rebuildShardFileCatalog reconstructs the file catalog by reading every
// shard manifest in the listing. The generation of the unreadable catalog is
// kept so the next write does not collide with it.
func (r *Repository) rebuildShardFileCatalog(ctx context.Context, shardC block.Container, listing map[string]int64, gen int64) (*ShardFileCatalog, error) {
	fileCatalog := NewShardFileCatalog()
	fileCatalog.Generation = gen
	for name := range listing {
		if !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, manifestSuffix) {
			continue
		}
		manifest := &ShardManifest{}
		if err := r.codec.Read(ctx, shardC, name, manifest); err != nil {
			return nil, fmt.Errorf("rebuild shard file catalog from %s: %w", name, err)
		}
		fileCatalog = fileCatalog.WithSnapshot(manifest.SnapshotName, manifest.Files)
	}
	return fileCatalog, nil
}

// deleteOldShardCatalogs removes every shard catalog generation that was
// present before the new one was written.
func (r *Repository) deleteOldShardCatalogs(ctx context.Context, log logging.Logger, shardC block.Container, listing map[string]int64) {
	var stale []string
	for name := range listing {
		if _, ok := parseCatalogGeneration(name); ok {
			stale = append(stale, name)
		}
	}
	if len(stale) == 0 {
		return
	}
	if err := shardC.Delete(ctx, stale...); err != nil {
		log.WithError(err).Warn("Failed deleting old shard file catalogs")
	}
}

// deleteUnreferencedShardBlobs removes data blobs the updated catalog no
// longer points at.
func (r *Repository) deleteUnreferencedShardBlobs(ctx context.Context, log logging.Logger, shardC block.Container, listing map[string]int64, fileCatalog *ShardFileCatalog) {
	referenced := fileCatalog.ReferencedBlobs()
	var garbage []string
	for name := range listing {
		if !isDataBlobName(name) {
			continue
		}
		if _, ok := referenced[name]; !ok {
			garbage = append(garbage, name)
		}
	}
	if len(garbage) == 0 {
		return
	}
	if err := shardC.Delete(ctx, garbage...); err != nil {
		log.WithError(err).Warn("Failed deleting unreferenced data blobs")
	}
}

// deleteTempBlobs removes staging blobs left behind by failed atomic writes.
func (r *Repository) deleteTempBlobs(ctx context.Context, log logging.Logger, container block.Container) {
	temps, err := container.List(ctx, block.TempPrefix)
	if err != nil {
		if !errors.Is(err, block.ErrOperationNotSupported) {
			log.WithError(err).Warn("Failed listing temp blobs")
		}
		return
	}
	if len(temps) == 0 {
		return
	}
	names := make([]string, 0, len(temps))
	for name := range temps {
		names = append(names, name)
	}
	if err := container.Delete(ctx, names...); err != nil {
		log.WithError(err).Warn("Failed deleting temp blobs")
	}
}
