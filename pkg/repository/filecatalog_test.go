package repository

import (
	"encoding/json"
	"testing"

	"github.com/go-test/deep"
	"github.com/stretchr/testify/require"
)

func testShardFileCatalog() (*ShardFileCatalog, []FileInfo, []FileInfo) {
	first := []FileInfo{
		{BlobName: "__a", PhysicalName: "seg_1", Length: 4, Checksum: "c-a"},
		{BlobName: "__b", PhysicalName: "seg_2", Length: 10, Checksum: "c-b", PartSize: 4},
	}
	// The second snapshot reuses seg_1 unchanged and carries a rewritten
	// seg_2 under a fresh blob name.
	second := []FileInfo{
		first[0],
		{BlobName: "__c", PhysicalName: "seg_2", Length: 6, Checksum: "c-b2", PartSize: 4},
	}
	catalog := NewShardFileCatalog().
		WithSnapshot("first", first).
		WithSnapshot("second", second)
	return catalog, first, second
}

func TestShardFileCatalogRoundTrip(t *testing.T) {
	catalog, first, second := testShardFileCatalog()

	data, err := json.Marshal(catalog)
	require.NoError(t, err)

	var got ShardFileCatalog
	require.NoError(t, json.Unmarshal(data, &got))

	require.Equal(t, []string{"first", "second"}, got.SnapshotNames())
	gotFirst, ok := got.Files("first")
	require.True(t, ok)
	require.Nil(t, deep.Equal(first, gotFirst))
	gotSecond, ok := got.Files("second")
	require.True(t, ok)
	require.Nil(t, deep.Equal(second, gotSecond))
	require.Nil(t, deep.Equal(catalog.ReferencedBlobs(), got.ReferencedBlobs()))
}

func TestShardFileCatalogRejectsUnknownBlobRef(t *testing.T) {
	data := []byte(`{
		"files": [{"name": "__a", "physical_name": "seg_1", "length": 4, "checksum": "c-a"}],
		"snapshots": {"first": ["__a", "__missing"]}
	}`)
	var got ShardFileCatalog
	err := json.Unmarshal(data, &got)
	require.ErrorIs(t, err, ErrCorruptedRepository)
}

func TestShardFileCatalogLookups(t *testing.T) {
	catalog, _, _ := testShardFileCatalog()

	require.True(t, catalog.HasSnapshot("first"))
	require.False(t, catalog.HasSnapshot("third"))
	_, ok := catalog.Files("third")
	require.False(t, ok)

	versions := catalog.FindPhysical("seg_2")
	require.Len(t, versions, 2)
	require.Equal(t, "__b", versions[0].BlobName)
	require.Equal(t, "__c", versions[1].BlobName)
	require.Empty(t, catalog.FindPhysical("seg_9"))
}

func TestShardFileCatalogReferencedBlobs(t *testing.T) {
	catalog, _, _ := testShardFileCatalog()

	referenced := catalog.ReferencedBlobs()
	for _, blob := range []string{"__a", "__b.part0", "__b.part1", "__b.part2", "__c.part0", "__c.part1"} {
		require.Contains(t, referenced, blob)
	}
	// Chunked files are referenced by their part names only.
	require.NotContains(t, referenced, "__b")
	require.NotContains(t, referenced, "__c")
	require.Len(t, referenced, 6)
}

func TestShardFileCatalogWithoutSnapshot(t *testing.T) {
	catalog, _, _ := testShardFileCatalog()

	remaining := catalog.WithoutSnapshot("first")
	require.Equal(t, []string{"second"}, remaining.SnapshotNames())
	referenced := remaining.ReferencedBlobs()
	require.Contains(t, referenced, "__a")
	require.NotContains(t, referenced, "__b.part0")
	require.Len(t, referenced, 3)

	empty := remaining.WithoutSnapshot("second")
	require.Empty(t, empty.SnapshotNames())
	require.Empty(t, empty.ReferencedBlobs())

	// The receiver keeps its state across derivations.
	require.True(t, catalog.HasSnapshot("first"))
	require.Contains(t, catalog.ReferencedBlobs(), "__b.part1")
}
