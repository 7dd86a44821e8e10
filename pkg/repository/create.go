package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"

	"github.com/treeverse/snapvault/pkg/block"
	"github.com/treeverse/snapvault/pkg/logging"
)

// invalidSnapshotNameChars can never appear in a snapshot name.
const invalidSnapshotNameChars = `\/*?"<>| ,#`

// IndexCommit is the point-in-time content of one index, one commit per
// shard. Shards[i] is shard i.
type IndexCommit struct {
	Name   string
	Shards []Commit
}

// CreateSnapshotRequest describes a snapshot to take.
type CreateSnapshotRequest struct {
	Name        string
	Indices     []IndexCommit
	Annotations map[string]string
}

// CreateSnapshot snapshots all given indices under one snapshot name. Shard
// uploads run concurrently on the repository worker pool; a failed shard is
// recorded and does not stop the others, so the snapshot finalizes as partial
// when at least one shard survived. The operation is registered in the status
// registry for the duration of the call.
func (r *Repository) CreateSnapshot(ctx context.Context, req CreateSnapshotRequest) (manifest *SnapshotManifest, err error) {
	defer func() { observeCreate(manifest, err) }()
	if err := r.failIfReadOnly(); err != nil {
		return nil, err
	}
	if err := validateSnapshotName(req.Name); err != nil {
		return nil, err
	}

	catalog, err := r.LoadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := catalog.Snapshot(req.Name); ok {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateSnapshotName, req.Name)
	}
	if r.snapshotNameTaken(ctx, catalog, req.Name) {
		return nil, fmt.Errorf("%w: %q holds an unfinalized manifest", ErrDuplicateSnapshotName, req.Name)
	}

	snapshotID := uuid.NewString()
	status := newSnapshotStatus(req.Name, snapshotID, xid.New().String())
	if !r.statuses.register(status) {
		return nil, fmt.Errorf("%w: %q is already running", ErrDuplicateSnapshotName, req.Name)
	}
	defer r.statuses.unregister(req.Name)

	log := r.log.WithContext(ctx).WithFields(logging.Fields{
		logging.SnapshotFieldKey:    req.Name,
		logging.SnapshotIDFieldKey:  snapshotID,
		logging.OperationIDFieldKey: status.OperationID,
	})
	log.WithField("indices", len(req.Indices)).Info("Creating snapshot")

	indexRefs := make([]IndexRef, 0, len(req.Indices))
	for _, index := range req.Indices {
		indexRefs = append(indexRefs, IndexRef{
			Name: index.Name,
			ID:   catalog.ResolveIndexID(index.Name, uuid.NewString()),
		})
	}
	if err := r.writeSnapshotMetadata(ctx, req, snapshotID, indexRefs); err != nil {
		status.setState(SnapshotStateFailed)
		return nil, err
	}

	startTime := time.Now()
	failures := r.snapshotAllShards(ctx, req, snapshotID, indexRefs, status)

	totalShards := 0
	indexNames := make([]string, 0, len(req.Indices))
	for _, index := range req.Indices {
		totalShards += len(index.Shards)
		indexNames = append(indexNames, index.Name)
	}
	sort.Strings(indexNames)

	state := SnapshotStateSuccess
	switch {
	case len(failures) == 0:
	case len(failures) < totalShards:
		state = SnapshotStatePartial
	default:
		state = SnapshotStateFailed
	}

	manifest = &SnapshotManifest{
		Name:             req.Name,
		ID:               snapshotID,
		State:            state,
		Indices:          indexNames,
		StartTime:        startTime,
		EndTime:          time.Now(),
		TotalShards:      totalShards,
		SuccessfulShards: totalShards - len(failures),
		Failures:         failures,
	}
	err = r.codec.Write(ctx, r.root, snapshotManifestBlobName(snapshotID), manifest, block.PutOpts{FailIfExists: true})
	if errors.Is(err, block.ErrAlreadyExists) {
		status.setState(SnapshotStateFailed)
		return nil, fmt.Errorf("%w: assuming snapshot %q already finalized", ErrConcurrentModification, req.Name)
	}
	if err != nil {
		status.setState(SnapshotStateFailed)
		return nil, fmt.Errorf("write snapshot manifest: %w", err)
	}

	ref := SnapshotRef{Name: req.Name, ID: snapshotID, State: state}
	if _, err := r.writeCatalog(ctx, catalog.WithSnapshot(ref, indexRefs), catalog.Generation); err != nil {
		status.setState(SnapshotStateFailed)
		return nil, err
	}
	status.setState(state)
	log.WithFields(logging.Fields{
		"state":  state,
		"shards": totalShards,
		"failed": len(failures),
	}).Info("Snapshot finalized")
	return manifest, nil
}

// writeSnapshotMetadata writes the global metadata blob at the root and the
// per-index metadata blob in every covered index directory.
func (r *Repository) writeSnapshotMetadata(ctx context.Context, req CreateSnapshotRequest, snapshotID string, indexRefs []IndexRef) error {
	meta := &GlobalMeta{
		SnapshotName: req.Name,
		SnapshotID:   snapshotID,
		Taken:        time.Now(),
		Annotations:  req.Annotations,
	}
	if err := r.codec.Write(ctx, r.root, metadataBlobName(snapshotID), meta, block.PutOpts{FailIfExists: true}); err != nil {
		return fmt.Errorf("write global metadata: %w", err)
	}
	for i, index := range req.Indices {
		indexMeta := &IndexMeta{
			Name:       index.Name,
			ID:         indexRefs[i].ID,
			ShardCount: len(index.Shards),
		}
		indexC := r.indexContainer(indexRefs[i].ID)
		if err := r.codec.Write(ctx, indexC, metadataBlobName(snapshotID), indexMeta, block.PutOpts{FailIfExists: true}); err != nil {
			return fmt.Errorf("write metadata for index %s: %w", index.Name, err)
		}
	}
	return nil
}

// snapshotAllShards fans shard uploads out over the worker pool and collects
// the failures. Every shard runs to completion or failure regardless of its
// siblings.
func (r *Repository) snapshotAllShards(ctx context.Context, req CreateSnapshotRequest, snapshotID string, indexRefs []IndexRef, status *SnapshotStatus) []ShardFailure {
	nodeID, err := os.Hostname()
	if err != nil {
		nodeID = "unknown"
	}

	var (
		mu       sync.Mutex
		failures []ShardFailure
	)
	group := r.pool.NewGroup()
	for i, index := range req.Indices {
		indexID := indexRefs[i].ID
		for shard, commit := range index.Shards {
			shardStatus := status.registerShard(index.Name, shard)
			group.Submit(func() {
				_, err := r.snapshotShard(ctx, SnapshotShardRequest{
					SnapshotName: req.Name,
					SnapshotID:   snapshotID,
					IndexName:    index.Name,
					IndexID:      indexID,
					Shard:        shard,
					Commit:       commit,
				}, shardStatus)
				if err == nil {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				failures = append(failures, ShardFailure{
					Index:  index.Name,
					Shard:  shard,
					Reason: err.Error(),
					NodeID: nodeID,
				})
			})
		}
	}
	if err := group.Wait(); err != nil {
		// Tasks report their own failures; anything surfacing here is a
		// worker panic.
		r.log.WithContext(ctx).WithError(err).Error("Snapshot shard task crashed")
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, ShardFailure{Reason: err.Error(), NodeID: nodeID})
	}
	sort.Slice(failures, func(i, j int) bool {
		if failures[i].Index != failures[j].Index {
			return failures[i].Index < failures[j].Index
		}
		return failures[i].Shard < failures[j].Shard
	})
	return failures
}

// snapshotNameTaken probes root manifests that are not in the catalog, so a
// name whose finalize is mid-flight on another writer fails early instead of
// at the catalog write. Best-effort; a backend that cannot list skips the
// probe.
func (r *Repository) snapshotNameTaken(ctx context.Context, catalog *Catalog, name string) bool {
	listing, err := r.root.List(ctx, snapshotPrefix)
	if err != nil {
		return false
	}
	for blobName := range listing {
		id, ok := manifestBlobID(blobName)
		if !ok || catalog.HasSnapshotID(id) {
			continue
		}
		manifest, err := r.loadSnapshotManifest(ctx, id)
		if err != nil {
			continue
		}
		if manifest.Name == name {
			return true
		}
	}
	return false
}

// validateSnapshotName enforces the naming rules snapshot names must satisfy
// to be usable as blob name parts on every backend.
func validateSnapshotName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidSnapshotName)
	case strings.HasPrefix(name, "_"):
		return fmt.Errorf("%w: %q must not start with '_'", ErrInvalidSnapshotName, name)
	case name != strings.ToLower(name):
		return fmt.Errorf("%w: %q must be lowercase", ErrInvalidSnapshotName, name)
	case strings.ContainsAny(name, invalidSnapshotNameChars):
		return fmt.Errorf("%w: %q must not contain any of %q", ErrInvalidSnapshotName, name, invalidSnapshotNameChars)
	}
	return nil
}
