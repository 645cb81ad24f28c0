package natskv_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kashuab/leasekeeper/internal/coordinator"
	"github.com/Kashuab/leasekeeper/internal/lease"
	"github.com/Kashuab/leasekeeper/internal/leasestore"
	"github.com/Kashuab/leasekeeper/internal/leasestore/natskv"
	"github.com/Kashuab/leasekeeper/internal/leasestore/storetest"
	"github.com/Kashuab/leasekeeper/internal/testutil"
)

func TestStore(t *testing.T) {
	ns := testutil.StartNATS(t)
	var seq atomic.Int64

	storetest.Run(t, func(t *testing.T, clk *testclock.Clock) leasestore.Store {
		bucket := fmt.Sprintf("leases_%d", seq.Add(1))
		s, err := natskv.New(ns.Connect(t), bucket, natskv.WithClock(clk))
		require.NoError(t, err)
		return s
	})
}

func TestDurationSharedBetweenProcesses(t *testing.T) {
	ns := testutil.StartNATS(t)
	ctx := context.Background()
	clk := testclock.NewClock(storetest.Epoch)

	creator, err := natskv.New(ns.Connect(t), "shared", natskv.WithClock(clk))
	require.NoError(t, err)
	require.NoError(t, creator.CreateIfMissing(ctx, 45*time.Second))
	require.NoError(t, creator.Put(ctx, lease.New("0")))

	// a second connection has never called CreateIfMissing
	other, err := natskv.New(ns.Connect(t), "shared", natskv.WithClock(clk))
	require.NoError(t, err)

	ok, err := other.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	got, acquired, err := other.TryAcquireUnowned(ctx, "0", "host-b")
	require.NoError(t, err)
	require.True(t, acquired)
	assert.True(t, got.ExpiresAt.Equal(clk.Now().Add(45*time.Second)))
}

func TestRestrictedPartitionIDs(t *testing.T) {
	ns := testutil.StartNATS(t)
	ctx := context.Background()

	s, err := natskv.New(ns.Connect(t), "odd", natskv.WithClock(testclock.NewClock(storetest.Epoch)))
	require.NoError(t, err)
	require.NoError(t, s.CreateIfMissing(ctx, time.Minute))

	for _, id := range []string{"", "with space", "a/b*c>d", "ünïcödé"} {
		require.NoError(t, s.Put(ctx, lease.Lease{PartitionID: id, Token: id}), id)
		got, err := s.Get(ctx, id)
		require.NoError(t, err, id)
		assert.Equal(t, id, got.Token)
	}
}

func TestConnectFailure(t *testing.T) {
	_, err := natskv.Connect("nats://127.0.0.1:1", "leases")
	assert.Error(t, err)
}

func TestBucketRequired(t *testing.T) {
	ns := testutil.StartNATS(t)
	_, err := natskv.New(ns.Connect(t), "")
	assert.Error(t, err)
}

func TestModifyGivesUpAfterMaxAttempts(t *testing.T) {
	ns := testutil.StartNATS(t)
	ctx := context.Background()

	s, err := natskv.New(ns.Connect(t), "contended", natskv.WithMaxAttempts(1))
	require.NoError(t, err)
	require.NoError(t, s.CreateIfMissing(ctx, time.Minute))
	require.NoError(t, s.Put(ctx, lease.New("0")))

	const workers = 16
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
	)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.Modify(ctx, "0", func(l *lease.Lease) bool {
				l.Epoch++
				return true
			})
			if err != nil {
				errs <- err
				return
			}
			succeeded.Add(1)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.ErrorIs(t, err, leasestore.ErrConflict)
	}
	got, err := s.Get(ctx, "0")
	require.NoError(t, err)
	assert.Equal(t, succeeded.Load(), got.Epoch)
}

// Hosts fighting over one key with a single compare-and-swap attempt each
// still all acquire; a lost write is never reported as an error.
func TestContendedAcquireSucceeds(t *testing.T) {
	ns := testutil.StartNATS(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	setup, err := natskv.New(ns.Connect(t), "fight")
	require.NoError(t, err)
	require.NoError(t, setup.CreateIfMissing(ctx, time.Minute))
	require.NoError(t, setup.Put(ctx, lease.New("0")))

	const hosts, rounds = 16, 5
	var wg sync.WaitGroup
	errs := make(chan error, hosts*rounds)
	for i := 0; i < hosts; i++ {
		s, err := natskv.New(ns.Connect(t), "fight", natskv.WithMaxAttempts(1))
		require.NoError(t, err)
		c, err := coordinator.New(s, coordinator.Options{
			Host:          fmt.Sprintf("host-%d", i),
			LeaseDuration: time.Minute,
			RenewInterval: 10 * time.Second,
			Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		})
		require.NoError(t, err)

		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				live := lease.New("0")
				ok, err := c.AcquireLease(ctx, &live)
				switch {
				case err != nil:
					errs <- err
				case !ok:
					errs <- errors.New("acquire reported false")
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}
