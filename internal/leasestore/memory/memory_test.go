package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kashuab/leasekeeper/internal/lease"
	"github.com/Kashuab/leasekeeper/internal/leasestore"
	"github.com/Kashuab/leasekeeper/internal/leasestore/memory"
	"github.com/Kashuab/leasekeeper/internal/leasestore/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(_ *testing.T, clk *testclock.Clock) leasestore.Store {
		return memory.New(clk)
	})
}

func TestLeaseDurationOverwritten(t *testing.T) {
	s := memory.New(nil)
	ctx := context.Background()

	require.NoError(t, s.CreateIfMissing(ctx, time.Minute))
	assert.Equal(t, time.Minute, s.LeaseDuration())

	require.NoError(t, s.CreateIfMissing(ctx, 10*time.Second))
	assert.Equal(t, 10*time.Second, s.LeaseDuration())
}

func TestPutDoesNotAlias(t *testing.T) {
	s := memory.New(nil)
	ctx := context.Background()
	require.NoError(t, s.CreateIfMissing(ctx, time.Minute))

	l := lease.New("0")
	require.NoError(t, s.Put(ctx, l))

	got, _, err := s.Modify(ctx, "0", func(p *lease.Lease) bool {
		p.Owner = "host-a"
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, "host-a", got.Owner)
	assert.Equal(t, "", l.Owner)
}
