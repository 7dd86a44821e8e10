package repository

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/treeverse/snapvault/pkg/block"
	"github.com/treeverse/snapvault/pkg/logging"
)

const (
	genPointerLength = 8

	catalogListMaxInterval = 500 * time.Millisecond
	catalogListMaxElapsed  = 5 * time.Second
)

// listCatalogBlobs lists root "index-" blobs, retrying transient listing
// failures. A backend that cannot list at all is reported immediately so the
// caller can fall back to the generation pointer.
func (r *Repository) listCatalogBlobs(ctx context.Context) (map[string]int64, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = catalogListMaxInterval
	bo.MaxElapsedTime = catalogListMaxElapsed
	return backoff.RetryWithData(func() (map[string]int64, error) {
		listing, err := r.root.List(ctx, catalogPrefix)
		if errors.Is(err, block.ErrOperationNotSupported) {
			return nil, backoff.Permanent(err)
		}
		if err != nil {
			r.log.WithContext(ctx).WithError(err).Warn("Failed listing catalog blobs, will retry")
			return nil, err
		}
		return listing, nil
	}, backoff.WithContext(bo, ctx))
}

// latestGeneration resolves the current catalog generation, -1 for an empty
// repository. Listing is the source of truth; the index.latest pointer
// serves only backends that cannot list.
func (r *Repository) latestGeneration(ctx context.Context) (int64, error) {
	listing, err := r.listCatalogBlobs(ctx)
	if errors.Is(err, block.ErrOperationNotSupported) {
		return r.readGenPointer(ctx)
	}
	if err != nil {
		return 0, err
	}
	gen := int64(-1)
	for name := range listing {
		if g, ok := parseCatalogGeneration(name); ok && g > gen {
			gen = g
		}
	}
	return gen, nil
}

func (r *Repository) readGenPointer(ctx context.Context) (int64, error) {
	reader, err := r.root.Get(ctx, indexLatestBlobName)
	if errors.Is(err, block.ErrDataNotFound) {
		return -1, nil
	}
	if err != nil {
		return 0, err
	}
	defer func() { _ = reader.Close() }()
	data, err := io.ReadAll(reader)
	if err != nil {
		return 0, err
	}
	if len(data) != genPointerLength {
		return 0, fmt.Errorf("%w: %s holds %d bytes", ErrCorruptedRepository, indexLatestBlobName, len(data))
	}
	return int64(binary.BigEndian.Uint64(data)), nil
}

func (r *Repository) writeGenPointer(ctx context.Context, gen int64) error {
	var buf [genPointerLength]byte
	binary.BigEndian.PutUint64(buf[:], uint64(gen))
	return r.root.Put(ctx, indexLatestBlobName, bytes.NewReader(buf[:]), genPointerLength, block.PutOpts{})
}

// LoadCatalog reads the current root catalog. A reader can lose a race
// against a writer that advanced the generation and dropped the one it
// resolved, so a vanished catalog blob is re-resolved once.
func (r *Repository) LoadCatalog(ctx context.Context) (*Catalog, error) {
	const attempts = 2
	var lastErr error
	for i := 0; i < attempts; i++ {
		gen, err := r.latestGeneration(ctx)
		if err != nil {
			return nil, err
		}
		if gen < 0 {
			return EmptyCatalog(), nil
		}
		catalog, err := r.catalogAt(ctx, gen)
		if err == nil {
			return catalog, nil
		}
		lastErr = err
		if !errors.Is(err, block.ErrDataNotFound) {
			break
		}
		r.log.WithContext(ctx).WithField(logging.GenerationFieldKey, gen).
			WithError(err).Info("Catalog generation vanished while loading, re-resolving")
	}
	return nil, fmt.Errorf("load catalog: %w", lastErr)
}

// catalogAt reads the catalog of one generation, caching it; a generation's
// content never changes once written.
func (r *Repository) catalogAt(ctx context.Context, gen int64) (*Catalog, error) {
	v, err := r.catalogCache.GetOrSet(gen, func() (interface{}, error) {
		catalog := EmptyCatalog()
		if err := r.codec.Read(ctx, r.root, catalogBlobName(gen), catalog); err != nil {
			return nil, err
		}
		catalog.Generation = gen
		return catalog, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Catalog), nil
}

// writeCatalog publishes an updated catalog. expectedGen is the generation
// the caller loaded; any other current generation fails the write with
// ErrConcurrentModification before any blob is touched. On success the
// updated catalog carries the new generation.
func (r *Repository) writeCatalog(ctx context.Context, updated *Catalog, expectedGen int64) (int64, error) {
	current, err := r.latestGeneration(ctx)
	if err != nil {
		return 0, err
	}
	if current != expectedGen {
		return 0, fmt.Errorf("%w: expected generation %d, found %d", ErrConcurrentModification, expectedGen, current)
	}
	newGen := expectedGen + 1
	err = r.codec.WriteAtomic(ctx, r.root, catalogBlobName(newGen), updated, block.PutOpts{FailIfExists: true})
	if errors.Is(err, block.ErrAlreadyExists) {
		return 0, fmt.Errorf("%w: generation %d already written", ErrConcurrentModification, newGen)
	}
	if err != nil {
		return 0, fmt.Errorf("write catalog generation %d: %w", newGen, err)
	}
	if err := r.writeGenPointer(ctx, newGen); err != nil {
		return 0, fmt.Errorf("update %s: %w", indexLatestBlobName, err)
	}
	// Keep exactly one generation as backup.
	if old := expectedGen - 1; old >= 0 {
		if err := r.root.Delete(ctx, catalogBlobName(old)); err != nil {
			r.log.WithContext(ctx).WithField(logging.GenerationFieldKey, old).
				WithError(err).Warn("Failed deleting old catalog generation")
		}
	}
	updated.Generation = newGen
	return newGen, nil
}

// loadSnapshotManifest reads a root snapshot manifest, caching it; manifests
// are immutable once finalized.
func (r *Repository) loadSnapshotManifest(ctx context.Context, snapshotID string) (*SnapshotManifest, error) {
	name := snapshotManifestBlobName(snapshotID)
	v, err := r.manifestCache.GetOrSet(name, func() (interface{}, error) {
		manifest := &SnapshotManifest{}
		if err := r.codec.Read(ctx, r.root, name, manifest); err != nil {
			return nil, err
		}
		return manifest, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*SnapshotManifest), nil
}
