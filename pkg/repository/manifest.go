package repository

import "time"

// SnapshotManifest is the root-level "snap-<id>.dat" blob, the durable record
// of a finished snapshot. While the snapshot runs the same information lives
// in the in-memory status registry instead.
type SnapshotManifest struct {
	Name    string        `json:"name"`
	ID      string        `json:"uuid"`
	State   SnapshotState `json:"state"`
	Reason  string        `json:"reason,omitempty"`
	Indices []string      `json:"indices"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	TotalShards      int            `json:"total_shards"`
	SuccessfulShards int            `json:"successful_shards"`
	Failures         []ShardFailure `json:"failures,omitempty"`
}

// ShardFailure records one shard that did not make it into the snapshot.
type ShardFailure struct {
	Index  string `json:"index"`
	Shard  int    `json:"shard"`
	Reason string `json:"reason"`
	NodeID string `json:"node_id,omitempty"`
}

// GlobalMeta is the root-level "meta-<id>.dat" blob, snapshot-wide context
// that is not needed to restore any single shard.
type GlobalMeta struct {
	SnapshotName string            `json:"snapshot_name"`
	SnapshotID   string            `json:"snapshot_id"`
	Taken        time.Time         `json:"taken"`
	Annotations  map[string]string `json:"annotations,omitempty"`
}

// IndexMeta is the per-index "meta-<id>.dat" blob under "indices/<indexID>/".
// The delete path reads it to enumerate the shard directories of an index.
type IndexMeta struct {
	Name       string `json:"name"`
	ID         string `json:"id"`
	ShardCount int    `json:"shard_count"`
}

// ShardManifest is the shard-level "snap-<id>.dat" blob: the file list of one
// snapshot in one shard, plus totals for reporting.
type ShardManifest struct {
	SnapshotName string `json:"snapshot"`
	SnapshotID   string `json:"uuid"`

	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`

	Files []FileInfo `json:"files"`

	FileCount            int   `json:"file_count"`
	TotalSize            int64 `json:"total_size"`
	IncrementalFileCount int   `json:"incremental_file_count"`
	IncrementalSize      int64 `json:"incremental_size"`
}
