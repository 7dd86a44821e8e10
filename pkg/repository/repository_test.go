package repository

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/require"

	"github.com/treeverse/snapvault/pkg/block"
	"github.com/treeverse/snapvault/pkg/block/mem"
	"github.com/treeverse/snapvault/pkg/testutil"
)

func testRepo(t *testing.T, opts ...Option) (*Repository, *mem.Adapter) {
	t.Helper()
	adapter := mem.New(context.Background())
	r := New(adapter, append([]Option{WithWorkers(2)}, opts...)...)
	t.Cleanup(func() { _ = r.Close() })
	return r, adapter
}

// memCommit is an in-memory shard commit for tests.
type memCommit struct {
	files map[string][]byte
	// failOpen names files whose Open errors, for failure injection.
	failOpen map[string]bool
}

func newMemCommit(files map[string][]byte) *memCommit {
	return &memCommit{files: files}
}

func (c *memCommit) Files() []FileMeta {
	res := make([]FileMeta, 0, len(c.files))
	for name, data := range c.files {
		res = append(res, FileMeta{
			Name:     name,
			Length:   int64(len(data)),
			Checksum: checksumHex(xxhash.Sum64(data)),
		})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res
}

func (c *memCommit) Open(name string) (io.ReadCloser, error) {
	if c.failOpen[name] {
		return nil, fmt.Errorf("injected failure opening %s", name)
	}
	data, ok := c.files[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrBadFileName)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// memTarget is an in-memory restore target for tests.
type memTarget struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemTarget(files map[string][]byte) *memTarget {
	if files == nil {
		files = map[string][]byte{}
	}
	return &memTarget{files: files}
}

func (s *memTarget) Files() ([]FileMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]FileMeta, 0, len(s.files))
	for name, data := range s.files {
		res = append(res, FileMeta{
			Name:     name,
			Length:   int64(len(data)),
			Checksum: checksumHex(xxhash.Sum64(data)),
		})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

func (s *memTarget) Create(name string) (io.WriteCloser, error) {
	return &memTargetWriter{target: s, name: name}, nil
}

func (s *memTarget) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, name)
	return nil
}

func (s *memTarget) content(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[name]
	return data, ok
}

type memTargetWriter struct {
	target *memTarget
	name   string
	buf    bytes.Buffer
}

func (w *memTargetWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *memTargetWriter) Close() error {
	w.target.mu.Lock()
	defer w.target.mu.Unlock()
	w.target.files[w.name] = append([]byte(nil), w.buf.Bytes()...)
	return nil
}

func blobContent(t *testing.T, c block.Container, name string) []byte {
	t.Helper()
	reader, err := c.Get(context.Background(), name)
	testutil.Must(t, reader, err)
	defer func() { _ = reader.Close() }()
	data, err := io.ReadAll(reader)
	return testutil.Must(t, data, err)
}

func putBlob(t *testing.T, c block.Container, name string, content []byte) {
	t.Helper()
	testutil.MustDo(t, "put "+name,
		c.Put(context.Background(), name, bytes.NewReader(content), int64(len(content)), block.PutOpts{}))
}

func listBlobs(t *testing.T, c block.Container, prefix string) map[string]int64 {
	t.Helper()
	listing, err := c.List(context.Background(), prefix)
	return testutil.Must(t, listing, err)
}

func TestNewDefaults(t *testing.T) {
	r, _ := testRepo(t)
	require.Equal(t, DefaultChunkSizeBytes, r.chunkSize)
	require.False(t, r.ReadOnly())
	require.Equal(t, block.BlockstoreTypeMem, r.BlockstoreType())

	snapshot, restore := r.ThrottleNanos()
	require.Zero(t, snapshot)
	require.Zero(t, restore)
}

func TestThrottleCountersStayZeroWithoutLimits(t *testing.T) {
	ctx := context.Background()
	r, _ := testRepo(t, WithChunkSize(4))
	commit := newMemCommit(map[string][]byte{"seg": []byte("0123456789")})
	_, err := r.SnapshotShard(ctx, SnapshotShardRequest{
		SnapshotName: "first",
		SnapshotID:   "11111111-1111-1111-1111-111111111111",
		IndexName:    "logs",
		IndexID:      "idx",
		Shard:        0,
		Commit:       commit,
	})
	require.NoError(t, err)

	target := newMemTarget(nil)
	_, err = r.RestoreShard(ctx, RestoreShardRequest{
		SnapshotName: "first",
		SnapshotID:   "11111111-1111-1111-1111-111111111111",
		IndexName:    "logs",
		IndexID:      "idx",
		Shard:        0,
		Target:       target,
	})
	require.NoError(t, err)

	snapshot, restore := r.ThrottleNanos()
	require.Zero(t, snapshot)
	require.Zero(t, restore)
}
