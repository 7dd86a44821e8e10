package repository

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// ShardStage is the stage of one shard inside a running snapshot.
type ShardStage int32

const (
	ShardStageInit ShardStage = iota
	ShardStageStarted
	ShardStageFinalize
	ShardStageDone
	ShardStageFailed
	ShardStageAborted
)

func (s ShardStage) String() string {
	switch s {
	case ShardStageInit:
		return "initializing"
	case ShardStageStarted:
		return "started"
	case ShardStageFinalize:
		return "finalizing"
	case ShardStageDone:
		return "done"
	case ShardStageFailed:
		return "failed"
	case ShardStageAborted:
		return "aborted"
	default:
		return fmt.Sprintf("stage(%d)", int32(s))
	}
}

// Terminal reports whether no further transition can happen.
func (s ShardStage) Terminal() bool {
	return s == ShardStageDone || s == ShardStageFailed || s == ShardStageAborted
}

// ShardSnapshotStatus tracks one shard snapshot: a small stage machine plus
// progress counters. Abort is cooperative; the flag is observed by the
// upload readers on every Read and by the engine at stage transitions.
type ShardSnapshotStatus struct {
	stage   *atomic.Int32
	aborted *atomic.Bool
	failure *atomic.String

	startedAt *atomic.Int64 // unix nanos, 0 until started

	fileCount            *atomic.Int64
	incrementalFileCount *atomic.Int64
	totalSize            *atomic.Int64
	incrementalSize      *atomic.Int64
	processedFileCount   *atomic.Int64
	processedSize        *atomic.Int64
}

func newShardSnapshotStatus() *ShardSnapshotStatus {
	return &ShardSnapshotStatus{
		stage:                atomic.NewInt32(int32(ShardStageInit)),
		aborted:              atomic.NewBool(false),
		failure:              atomic.NewString(""),
		startedAt:            atomic.NewInt64(0),
		fileCount:            atomic.NewInt64(0),
		incrementalFileCount: atomic.NewInt64(0),
		totalSize:            atomic.NewInt64(0),
		incrementalSize:      atomic.NewInt64(0),
		processedFileCount:   atomic.NewInt64(0),
		processedSize:        atomic.NewInt64(0),
	}
}

func (s *ShardSnapshotStatus) Stage() ShardStage {
	return ShardStage(s.stage.Load())
}

// Abort requests a cooperative stop. A shard still initializing or uploading
// moves to aborted at the next read or stage transition; finished shards are
// unaffected.
func (s *ShardSnapshotStatus) Abort() {
	s.aborted.Store(true)
	s.stage.CompareAndSwap(int32(ShardStageInit), int32(ShardStageAborted))
	s.stage.CompareAndSwap(int32(ShardStageStarted), int32(ShardStageAborted))
}

func (s *ShardSnapshotStatus) IsAborted() bool {
	return s.aborted.Load()
}

// moveToStarted records totals and enters the upload stage.
func (s *ShardSnapshotStatus) moveToStarted(startedAt time.Time, fileCount, incrementalFileCount int, totalSize, incrementalSize int64) error {
	if !s.stage.CompareAndSwap(int32(ShardStageInit), int32(ShardStageStarted)) {
		return s.transitionError(ShardStageInit)
	}
	s.startedAt.Store(startedAt.UnixNano())
	s.fileCount.Store(int64(fileCount))
	s.incrementalFileCount.Store(int64(incrementalFileCount))
	s.totalSize.Store(totalSize)
	s.incrementalSize.Store(incrementalSize)
	return nil
}

func (s *ShardSnapshotStatus) moveToFinalize() error {
	if !s.stage.CompareAndSwap(int32(ShardStageStarted), int32(ShardStageFinalize)) {
		return s.transitionError(ShardStageStarted)
	}
	return nil
}

func (s *ShardSnapshotStatus) moveToDone() error {
	if !s.stage.CompareAndSwap(int32(ShardStageFinalize), int32(ShardStageDone)) {
		return s.transitionError(ShardStageFinalize)
	}
	return nil
}

// moveToFailed records the terminal failure stage, aborted when the cause
// was an abort request.
func (s *ShardSnapshotStatus) moveToFailed(reason string) {
	s.failure.Store(reason)
	if s.aborted.Load() {
		s.stage.Store(int32(ShardStageAborted))
		return
	}
	s.stage.Store(int32(ShardStageFailed))
}

func (s *ShardSnapshotStatus) transitionError(expected ShardStage) error {
	if s.aborted.Load() {
		return ErrSnapshotAborted
	}
	return fmt.Errorf("%w: expected %s, at %s", ErrUnexpectedShardStage, expected, s.Stage())
}

func (s *ShardSnapshotStatus) addProcessedFile(size int64) {
	s.processedFileCount.Inc()
	s.processedSize.Add(size)
}

// Progress returns a point-in-time copy of the counters.
func (s *ShardSnapshotStatus) Progress() ShardProgress {
	return ShardProgress{
		Stage:                s.Stage(),
		Failure:              s.failure.Load(),
		StartedAt:            time.Unix(0, s.startedAt.Load()),
		FileCount:            s.fileCount.Load(),
		IncrementalFileCount: s.incrementalFileCount.Load(),
		TotalSize:            s.totalSize.Load(),
		IncrementalSize:      s.incrementalSize.Load(),
		ProcessedFileCount:   s.processedFileCount.Load(),
		ProcessedSize:        s.processedSize.Load(),
	}
}

// ShardProgress is a snapshot of one shard's counters.
type ShardProgress struct {
	Stage     ShardStage
	Failure   string
	StartedAt time.Time

	FileCount            int64
	IncrementalFileCount int64
	TotalSize            int64
	IncrementalSize      int64
	ProcessedFileCount   int64
	ProcessedSize        int64
}

type shardKey struct {
	Index string
	Shard int
}

// SnapshotStatus tracks one running snapshot operation: its overall state
// and the per-shard statuses registered as shards begin.
type SnapshotStatus struct {
	Name        string
	ID          string
	OperationID string
	StartedAt   time.Time

	state    *atomic.String
	mu       sync.Mutex
	shards   map[shardKey]*ShardSnapshotStatus
	abortAll bool
}

func newSnapshotStatus(name, id, operationID string) *SnapshotStatus {
	return &SnapshotStatus{
		Name:        name,
		ID:          id,
		OperationID: operationID,
		StartedAt:   time.Now(),
		state:       atomic.NewString(string(SnapshotStateInProgress)),
		shards:      map[shardKey]*ShardSnapshotStatus{},
	}
}

func (s *SnapshotStatus) State() SnapshotState {
	return SnapshotState(s.state.Load())
}

func (s *SnapshotStatus) setState(state SnapshotState) {
	s.state.Store(string(state))
}

func (s *SnapshotStatus) registerShard(index string, shard int) *ShardSnapshotStatus {
	status := newShardSnapshotStatus()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shards[shardKey{Index: index, Shard: shard}] = status
	if s.abortAll {
		status.Abort()
	}
	return status
}

// Abort flips the abort flag of every registered shard and marks the
// operation so shards registered later start out aborted.
func (s *SnapshotStatus) Abort() {
	s.mu.Lock()
	s.abortAll = true
	aborted := make([]*ShardSnapshotStatus, 0, len(s.shards))
	for _, status := range s.shards {
		aborted = append(aborted, status)
	}
	s.mu.Unlock()
	for _, status := range aborted {
		status.Abort()
	}
}

// ShardReports returns per-shard progress sorted by index then shard.
func (s *SnapshotStatus) ShardReports() []ShardStatusReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]ShardStatusReport, 0, len(s.shards))
	for key, status := range s.shards {
		res = append(res, ShardStatusReport{
			Index:    key.Index,
			Shard:    key.Shard,
			Progress: status.Progress(),
		})
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Index != res[j].Index {
			return res[i].Index < res[j].Index
		}
		return res[i].Shard < res[j].Shard
	})
	return res
}

// ShardStatusReport is one row of a status report.
type ShardStatusReport struct {
	Index    string
	Shard    int
	Progress ShardProgress
}

// statusRegistry indexes running snapshot operations by snapshot name.
type statusRegistry struct {
	mu      sync.Mutex
	running map[string]*SnapshotStatus
}

func newStatusRegistry() *statusRegistry {
	return &statusRegistry{running: map[string]*SnapshotStatus{}}
}

// register adds a running operation, refusing a second operation under the
// same snapshot name.
func (r *statusRegistry) register(status *SnapshotStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.running[status.Name]; ok {
		return false
	}
	r.running[status.Name] = status
	return true
}

func (r *statusRegistry) unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, name)
}

func (r *statusRegistry) get(name string) (*SnapshotStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status, ok := r.running[name]
	return status, ok
}
