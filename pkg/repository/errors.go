package repository

import "errors"

var (
	// ErrConcurrentModification is returned when the root catalog moved
	// under a writer's feet. The losing operation performed no catalog
	// write and can be retried from a fresh load.
	ErrConcurrentModification = errors.New("concurrent repository modification")

	ErrSnapshotMissing       = errors.New("snapshot missing")
	ErrDuplicateSnapshotName = errors.New("duplicate snapshot name")
	ErrInvalidSnapshotName   = errors.New("invalid snapshot name")
	ErrReadOnly              = errors.New("repository is read-only")
	ErrSnapshotAborted       = errors.New("snapshot aborted")
	ErrVerificationFailed    = errors.New("repository verification failed")
	ErrCorruptedRepository   = errors.New("corrupted repository contents")
	ErrNoRunningOperation    = errors.New("no running snapshot operation")
	ErrInvalidRequest        = errors.New("invalid request")
	ErrUnexpectedShardStage  = errors.New("unexpected shard snapshot stage")
	ErrShardRestoreFailed    = errors.New("shard restore failed")
	ErrShardSnapshotFailed   = errors.New("shard snapshot failed")
)
