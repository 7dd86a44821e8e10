package local_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/treeverse/snapvault/pkg/block/blocktest"
	"github.com/treeverse/snapvault/pkg/block/local"
)

func TestAdapter(t *testing.T) {
	adapter, err := local.NewAdapter(t.TempDir())
	require.NoError(t, err)
	blocktest.AdapterContainerTest(t, adapter)
}

func TestAdapterBadPaths(t *testing.T) {
	adapter, err := local.NewAdapter(t.TempDir())
	require.NoError(t, err)
	c := adapter.Container("repo")

	ctx := context.Background()
	for _, name := range []string{"", "a/b", `a\b`, "../escape"} {
		_, err := c.Get(ctx, name)
		require.ErrorIs(t, err, local.ErrBadPath, "name %q", name)
	}
}
