// Package repository implements a snapshot repository for sharded segment
// stores on top of a blob store adapter. The root container holds the
// generational catalog and per-snapshot manifests; each shard of each index
// gets its own directory of immutable data blobs plus a file catalog that
// makes consecutive snapshots incremental.
package repository

import (
	"io"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/treeverse/snapvault/pkg/blobfmt"
	"github.com/treeverse/snapvault/pkg/block"
	"github.com/treeverse/snapvault/pkg/cache"
	"github.com/treeverse/snapvault/pkg/logging"
	"go.uber.org/atomic"
	"go.uber.org/ratelimit"
	"golang.org/x/time/rate"
)

const (
	DefaultChunkSizeBytes      = int64(1) << 30 //nolint:mnd
	DefaultWorkers             = 4
	DefaultCleanupOpsPerSecond = 100

	catalogCacheSize    = 8
	catalogCacheExpiry  = 30 * time.Second
	manifestCacheSize   = 128
	manifestCacheExpiry = 30 * time.Second

	// minLimiterBurst keeps WaitN viable for small configured rates.
	minLimiterBurst = 256 * 1024
)

// Repository is a snapshot repository bound to one blob store location. It
// is safe for concurrent use; cross-process writers are serialized only by
// the catalog generation protocol.
type Repository struct {
	adapter block.Adapter
	root    block.Container
	codec   *blobfmt.Codec
	log     logging.Logger

	chunkSize        int64
	compress         bool
	readOnly         bool
	workers          int
	cleanupOpsPerSec int

	snapshotLimiter *rate.Limiter
	restoreLimiter  *rate.Limiter

	snapshotWaitNanos *atomic.Int64
	restoreWaitNanos  *atomic.Int64

	pool           pond.Pool
	cleanupLimiter ratelimit.Limiter
	statuses       *statusRegistry
	catalogCache   cache.Cache
	manifestCache  cache.Cache
}

type Option func(r *Repository)

// WithChunkSize sets the part size files are split into on upload.
func WithChunkSize(sizeBytes int64) Option {
	return func(r *Repository) {
		r.chunkSize = sizeBytes
	}
}

// WithCompression toggles zstd compression of metadata blobs. Reads always
// honor what the blob envelope says, so repositories written with either
// setting stay readable.
func WithCompression(enabled bool) Option {
	return func(r *Repository) {
		r.compress = enabled
	}
}

// WithReadOnly makes every mutating operation fail fast with ErrReadOnly.
func WithReadOnly(readOnly bool) Option {
	return func(r *Repository) {
		r.readOnly = readOnly
	}
}

// WithWorkers sets the shard fan-out concurrency.
func WithWorkers(n int) Option {
	return func(r *Repository) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithCleanupOpsPerSecond bounds how many delete operations per second the
// best-effort cleanup paths issue. Zero means unlimited.
func WithCleanupOpsPerSecond(n int) Option {
	return func(r *Repository) {
		r.cleanupOpsPerSec = n
	}
}

// WithSnapshotRateLimit caps upload bandwidth in bytes per second. Zero
// means unlimited.
func WithSnapshotRateLimit(bytesPerSec int64) Option {
	return func(r *Repository) {
		r.snapshotLimiter = newByteLimiter(bytesPerSec)
	}
}

// WithRestoreRateLimit caps restore download bandwidth in bytes per second.
// Zero means unlimited.
func WithRestoreRateLimit(bytesPerSec int64) Option {
	return func(r *Repository) {
		r.restoreLimiter = newByteLimiter(bytesPerSec)
	}
}

func WithLogger(log logging.Logger) Option {
	return func(r *Repository) {
		r.log = log
	}
}

func newByteLimiter(bytesPerSec int64) *rate.Limiter {
	if bytesPerSec <= 0 {
		return nil
	}
	burst := int(bytesPerSec)
	if burst < minLimiterBurst {
		burst = minLimiterBurst
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

func New(adapter block.Adapter, opts ...Option) *Repository {
	r := &Repository{
		adapter:           adapter,
		log:               logging.Default().WithField("service_name", "snapvault_repository"),
		chunkSize:         DefaultChunkSizeBytes,
		compress:          true,
		workers:           DefaultWorkers,
		cleanupOpsPerSec:  DefaultCleanupOpsPerSecond,
		snapshotWaitNanos: atomic.NewInt64(0),
		restoreWaitNanos:  atomic.NewInt64(0),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.root = adapter.Container()
	r.codec = blobfmt.NewCodec(r.compress)
	r.pool = pond.NewPool(r.workers)
	if r.cleanupOpsPerSec > 0 {
		r.cleanupLimiter = ratelimit.New(r.cleanupOpsPerSec)
	} else {
		r.cleanupLimiter = ratelimit.NewUnlimited()
	}
	r.statuses = newStatusRegistry()
	r.catalogCache = cache.NewCache(catalogCacheSize, catalogCacheExpiry, cache.NewJitterFn(catalogCacheExpiry))
	r.manifestCache = cache.NewCache(manifestCacheSize, manifestCacheExpiry, cache.NewJitterFn(manifestCacheExpiry))
	return r
}

// Close drains the shard worker pool and releases the adapter's resources.
// The repository must not be used after Close.
func (r *Repository) Close() error {
	r.pool.StopAndWait()
	if closer, ok := r.adapter.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (r *Repository) ReadOnly() bool {
	return r.readOnly
}

func (r *Repository) BlockstoreType() string {
	return r.adapter.BlockstoreType()
}

// ThrottleNanos returns the accumulated nanoseconds uploads and downloads
// spent waiting on the configured rate limits.
func (r *Repository) ThrottleNanos() (snapshot, restore int64) {
	return r.snapshotWaitNanos.Load(), r.restoreWaitNanos.Load()
}

func (r *Repository) onSnapshotThrottle(waited time.Duration) {
	r.snapshotWaitNanos.Add(int64(waited))
	snapshotThrottleNanos.Add(float64(waited))
}

func (r *Repository) onRestoreThrottle(waited time.Duration) {
	r.restoreWaitNanos.Add(int64(waited))
	restoreThrottleNanos.Add(float64(waited))
}

func (r *Repository) failIfReadOnly() error {
	if r.readOnly {
		return ErrReadOnly
	}
	return nil
}

func (r *Repository) indicesContainer() block.Container {
	return r.adapter.Container(indicesDirName)
}

func (r *Repository) indexContainer(indexID string) block.Container {
	return r.adapter.Container(indicesDirName, indexID)
}

func (r *Repository) shardContainer(indexID string, shard int) block.Container {
	return r.adapter.Container(indicesDirName, indexID, shardDirName(shard))
}

func (r *Repository) verificationContainer(seed string) block.Container {
	return r.adapter.Container(verificationDirName(seed))
}
