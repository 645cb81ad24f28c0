package partitions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticReturnsCopy(t *testing.T) {
	src := Static{"0", "1", "2"}

	ids, err := src.PartitionIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1", "2"}, ids)

	ids[0] = "changed"
	again, err := src.PartitionIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0", again[0])
}

func TestStaticEmpty(t *testing.T) {
	ids, err := Static(nil).PartitionIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}
