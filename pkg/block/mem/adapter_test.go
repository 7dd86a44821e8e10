package mem_test

import (
	"context"
	"testing"

	"github.com/treeverse/snapvault/pkg/block/blocktest"
	"github.com/treeverse/snapvault/pkg/block/mem"
)

func TestAdapter(t *testing.T) {
	adapter := mem.New(context.Background())
	blocktest.AdapterContainerTest(t, adapter)
}
