package blocktest

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/treeverse/snapvault/pkg/block"
)

// AdapterContainerTest runs the container contract against an adapter. Every
// backend is expected to pass the full set.
func AdapterContainerTest(t *testing.T, adapter block.Adapter) {
	t.Run("PutGet", func(t *testing.T) { testPutGet(t, adapter) })
	t.Run("PutOverwrite", func(t *testing.T) { testPutOverwrite(t, adapter) })
	t.Run("FailIfExists", func(t *testing.T) { testFailIfExists(t, adapter) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, adapter) })
	t.Run("ListPrefix", func(t *testing.T) { testListPrefix(t, adapter) })
	t.Run("ListSkipsTemp", func(t *testing.T) { testListSkipsTemp(t, adapter) })
	t.Run("Children", func(t *testing.T) { testChildren(t, adapter) })
	t.Run("DeleteMissing", func(t *testing.T) { testDeleteMissing(t, adapter) })
	t.Run("DeleteAll", func(t *testing.T) { testDeleteAll(t, adapter) })
}

func put(t *testing.T, ctx context.Context, c block.Container, name, content string) {
	t.Helper()
	err := c.Put(ctx, name, strings.NewReader(content), int64(len(content)), block.PutOpts{})
	require.NoError(t, err)
}

func testPutGet(t *testing.T, adapter block.Adapter) {
	ctx := context.Background()
	c := adapter.Container("t-putget")
	content := "snapshot payload"
	put(t, ctx, c, "blob1", content)

	reader, err := c.Get(ctx, "blob1")
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()
	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Equal(t, content, string(got))
}

func testPutOverwrite(t *testing.T, adapter block.Adapter) {
	ctx := context.Background()
	c := adapter.Container("t-overwrite")
	put(t, ctx, c, "blob1", "first")
	put(t, ctx, c, "blob1", "second")

	reader, err := c.Get(ctx, "blob1")
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()
	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Equal(t, "second", string(got))
}

func testFailIfExists(t *testing.T, adapter block.Adapter) {
	ctx := context.Background()
	c := adapter.Container("t-failifexists")
	content := []byte("generation 4")
	err := c.Put(ctx, "index-4", bytes.NewReader(content), int64(len(content)), block.PutOpts{FailIfExists: true})
	require.NoError(t, err)

	err = c.Put(ctx, "index-4", bytes.NewReader(content), int64(len(content)), block.PutOpts{FailIfExists: true})
	require.ErrorIs(t, err, block.ErrAlreadyExists)

	err = c.PutAtomic(ctx, "index-4", bytes.NewReader(content), int64(len(content)), block.PutOpts{FailIfExists: true})
	require.ErrorIs(t, err, block.ErrAlreadyExists)
}

func testGetMissing(t *testing.T, adapter block.Adapter) {
	ctx := context.Background()
	c := adapter.Container("t-getmissing")
	_, err := c.Get(ctx, "no-such-blob")
	require.ErrorIs(t, err, block.ErrDataNotFound)
}

func testListPrefix(t *testing.T, adapter block.Adapter) {
	ctx := context.Background()
	c := adapter.Container("t-list")
	put(t, ctx, c, "snap-a.dat", "aaa")
	put(t, ctx, c, "snap-b.dat", "bbbb")
	put(t, ctx, c, "index-0", "catalog")

	all, err := c.List(ctx, "")
	require.NoError(t, err)
	require.Equal(t, map[string]int64{
		"snap-a.dat": 3,
		"snap-b.dat": 4,
		"index-0":    7,
	}, all)

	snaps, err := c.List(ctx, "snap-")
	require.NoError(t, err)
	require.Equal(t, map[string]int64{
		"snap-a.dat": 3,
		"snap-b.dat": 4,
	}, snaps)
}

func testListSkipsTemp(t *testing.T, adapter block.Adapter) {
	ctx := context.Background()
	c := adapter.Container("t-temp")
	tempName := block.TempBlobName("visible")
	put(t, ctx, c, "visible", "data")
	put(t, ctx, c, tempName, "half written")

	all, err := c.List(ctx, "")
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"visible": 4}, all)

	// asking for the temp prefix explicitly is how cleanup finds leftovers
	temps, err := c.List(ctx, block.TempPrefix)
	require.NoError(t, err)
	require.Equal(t, map[string]int64{tempName: 12}, temps)
}

func testChildren(t *testing.T, adapter block.Adapter) {
	ctx := context.Background()
	c := adapter.Container("t-children")
	put(t, ctx, adapter.Container("t-children", "idx1", "0"), "snap-1.dat", "x")
	put(t, ctx, adapter.Container("t-children", "idx2", "0"), "snap-1.dat", "y")
	put(t, ctx, c, "top-level", "z")

	children, err := c.Children(ctx)
	require.NoError(t, err)
	require.Len(t, children, 2)
	require.Contains(t, children, "idx1")
	require.Contains(t, children, "idx2")

	grand, err := children["idx1"].Children(ctx)
	require.NoError(t, err)
	require.Len(t, grand, 1)
	require.Contains(t, grand, "0")

	blobs, err := grand["0"].List(ctx, "")
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"snap-1.dat": 1}, blobs)
}

func testDeleteMissing(t *testing.T, adapter block.Adapter) {
	ctx := context.Background()
	c := adapter.Container("t-delete")
	put(t, ctx, c, "keep", "k")
	put(t, ctx, c, "drop", "d")

	err := c.Delete(ctx, "drop", "never-existed")
	require.NoError(t, err)

	all, err := c.List(ctx, "")
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"keep": 1}, all)
}

func testDeleteAll(t *testing.T, adapter block.Adapter) {
	ctx := context.Background()
	c := adapter.Container("t-deleteall")
	put(t, ctx, c, "blob1", "one")
	put(t, ctx, adapter.Container("t-deleteall", "nested"), "blob2", "two")
	put(t, ctx, adapter.Container("t-survivor"), "blob3", "three")

	require.NoError(t, c.DeleteAll(ctx))

	all, err := c.List(ctx, "")
	require.NoError(t, err)
	require.Empty(t, all)

	children, err := c.Children(ctx)
	require.NoError(t, err)
	require.Empty(t, children)

	other, err := adapter.Container("t-survivor").List(ctx, "")
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"blob3": 5}, other)
}
