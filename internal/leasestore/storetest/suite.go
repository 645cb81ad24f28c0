// Package storetest holds the behaviour every leasestore.Store must share,
// run by each implementation's tests.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/require"

	"github.com/Kashuab/leasekeeper/internal/lease"
	"github.com/Kashuab/leasekeeper/internal/leasestore"
)

// Epoch is the starting time for the test clock handed to store factories.
var Epoch = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

const duration = 30 * time.Second

// NewStoreFunc builds a fresh, not yet created store reading time from clk.
type NewStoreFunc func(t *testing.T, clk *testclock.Clock) leasestore.Store

// Run executes the conformance suite against stores built by newStore.
func Run(t *testing.T, newStore NewStoreFunc) {
	tests := map[string]func(*require.Assertions, leasestore.Store, *testclock.Clock){
		"Lifecycle":                          lifecycle,
		"OperationsNeedStore":                operationsNeedStore,
		"CreateKeepsLeasesAndResetsDuration": createKeepsLeasesAndResetsDuration,
		"GetMissing":                         getMissing,
		"PutOverwrites":                      putOverwrites,
		"Remove":                             remove,
		"TryAcquireUnowned":                  tryAcquireUnowned,
		"TryAcquireHeld":                     tryAcquireHeld,
		"TryAcquireExpired":                  tryAcquireExpired,
		"TryAcquireMissing":                  tryAcquireMissing,
		"ModifyApplies":                      modifyApplies,
		"ModifyDeclined":                     modifyDeclined,
		"ModifyKeepsIdentity":                modifyKeepsIdentity,
		"ModifyMissing":                      modifyMissing,
		"ConcurrentModify":                   concurrentModify,
		"CopiesAreIsolated":                  copiesAreIsolated,
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			clk := testclock.NewClock(Epoch)
			store := newStore(t, clk)
			t.Cleanup(func() { _ = store.Close() })
			test(require.New(t), store, clk)
		})
	}
}

func created(require *require.Assertions, store leasestore.Store) {
	require.NoError(store.CreateIfMissing(context.Background(), duration))
}

func lifecycle(require *require.Assertions, store leasestore.Store, _ *testclock.Clock) {
	ctx := context.Background()

	ok, err := store.Exists(ctx)
	require.NoError(err)
	require.False(ok)

	created(require, store)
	ok, err = store.Exists(ctx)
	require.NoError(err)
	require.True(ok)

	require.NoError(store.Put(ctx, lease.New("0")))
	require.NoError(store.Delete(ctx))

	ok, err = store.Exists(ctx)
	require.NoError(err)
	require.False(ok)

	// recreating starts empty
	created(require, store)
	_, err = store.Get(ctx, "0")
	require.ErrorIs(err, leasestore.ErrLeaseNotFound)
}

func operationsNeedStore(require *require.Assertions, store leasestore.Store, _ *testclock.Clock) {
	ctx := context.Background()

	_, err := store.Get(ctx, "0")
	require.ErrorIs(err, leasestore.ErrStoreNotFound)

	require.ErrorIs(store.Put(ctx, lease.New("0")), leasestore.ErrStoreNotFound)

	_, _, err = store.TryAcquireUnowned(ctx, "0", "host-a")
	require.ErrorIs(err, leasestore.ErrStoreNotFound)

	_, _, err = store.Modify(ctx, "0", func(*lease.Lease) bool { return true })
	require.ErrorIs(err, leasestore.ErrStoreNotFound)
}

func createKeepsLeasesAndResetsDuration(require *require.Assertions, store leasestore.Store, clk *testclock.Clock) {
	ctx := context.Background()
	created(require, store)
	require.NoError(store.Put(ctx, lease.New("0")))

	require.NoError(store.CreateIfMissing(ctx, 5*time.Second))

	got, err := store.Get(ctx, "0")
	require.NoError(err)
	require.Equal("0", got.PartitionID)

	acquired, ok, err := store.TryAcquireUnowned(ctx, "0", "host-a")
	require.NoError(err)
	require.True(ok)
	require.True(acquired.ExpiresAt.Equal(clk.Now().Add(5*time.Second)), "expires %v", acquired.ExpiresAt)
}

func getMissing(require *require.Assertions, store leasestore.Store, _ *testclock.Clock) {
	created(require, store)
	_, err := store.Get(context.Background(), "nope")
	require.ErrorIs(err, leasestore.ErrLeaseNotFound)
}

func putOverwrites(require *require.Assertions, store leasestore.Store, clk *testclock.Clock) {
	ctx := context.Background()
	created(require, store)

	first := lease.Lease{PartitionID: "1", Owner: "host-a", Epoch: 1, Token: "a", ExpiresAt: clk.Now().Add(time.Minute)}
	require.NoError(store.Put(ctx, first))

	second := lease.Lease{PartitionID: "1", Owner: "host-b", Epoch: 2, Token: "b"}
	require.NoError(store.Put(ctx, second))

	got, err := store.Get(ctx, "1")
	require.NoError(err)
	require.Equal("host-b", got.Owner)
	require.Equal(int64(2), got.Epoch)
	require.Equal("b", got.Token)
	require.Equal(int64(0), got.ExpirationMillis())
}

func remove(require *require.Assertions, store leasestore.Store, _ *testclock.Clock) {
	ctx := context.Background()
	created(require, store)
	require.NoError(store.Put(ctx, lease.New("2")))

	require.NoError(store.Remove(ctx, "2"))
	_, err := store.Get(ctx, "2")
	require.ErrorIs(err, leasestore.ErrLeaseNotFound)

	require.NoError(store.Remove(ctx, "2"))
}

func tryAcquireUnowned(require *require.Assertions, store leasestore.Store, clk *testclock.Clock) {
	ctx := context.Background()
	created(require, store)
	require.NoError(store.Put(ctx, lease.Lease{PartitionID: "0", Epoch: 7, Token: "t"}))

	got, ok, err := store.TryAcquireUnowned(ctx, "0", "host-a")
	require.NoError(err)
	require.True(ok)
	require.Equal("host-a", got.Owner)
	require.True(got.ExpiresAt.Equal(clk.Now().Add(duration)))

	persisted, err := store.Get(ctx, "0")
	require.NoError(err)
	require.Equal("host-a", persisted.Owner)
	require.Equal(int64(7), persisted.Epoch)
	require.Equal("t", persisted.Token)
	require.True(persisted.ExpiresAt.Equal(got.ExpiresAt))
}

func tryAcquireHeld(require *require.Assertions, store leasestore.Store, clk *testclock.Clock) {
	ctx := context.Background()
	created(require, store)
	held := lease.Lease{PartitionID: "0", Owner: "host-a", ExpiresAt: clk.Now().Add(time.Minute)}
	require.NoError(store.Put(ctx, held))

	for _, host := range []string{"host-b", "host-a"} {
		_, ok, err := store.TryAcquireUnowned(ctx, "0", host)
		require.NoError(err)
		require.False(ok, host)
	}

	persisted, err := store.Get(ctx, "0")
	require.NoError(err)
	require.Equal("host-a", persisted.Owner)
	require.True(persisted.ExpiresAt.Equal(held.ExpiresAt))
}

func tryAcquireExpired(require *require.Assertions, store leasestore.Store, clk *testclock.Clock) {
	ctx := context.Background()
	created(require, store)
	require.NoError(store.Put(ctx, lease.Lease{PartitionID: "0", Owner: "host-a", ExpiresAt: clk.Now().Add(time.Second)}))

	clk.Advance(time.Second)

	got, ok, err := store.TryAcquireUnowned(ctx, "0", "host-b")
	require.NoError(err)
	require.True(ok)
	require.Equal("host-b", got.Owner)
	require.True(got.ExpiresAt.Equal(clk.Now().Add(duration)))
}

func tryAcquireMissing(require *require.Assertions, store leasestore.Store, _ *testclock.Clock) {
	created(require, store)
	_, _, err := store.TryAcquireUnowned(context.Background(), "0", "host-a")
	require.ErrorIs(err, leasestore.ErrLeaseNotFound)
}

func modifyApplies(require *require.Assertions, store leasestore.Store, _ *testclock.Clock) {
	ctx := context.Background()
	created(require, store)
	require.NoError(store.Put(ctx, lease.New("0")))

	got, written, err := store.Modify(ctx, "0", func(l *lease.Lease) bool {
		l.Epoch = 9
		l.Token = "cursor"
		return true
	})
	require.NoError(err)
	require.True(written)
	require.Equal(int64(9), got.Epoch)

	persisted, err := store.Get(ctx, "0")
	require.NoError(err)
	require.Equal(int64(9), persisted.Epoch)
	require.Equal("cursor", persisted.Token)
}

func modifyDeclined(require *require.Assertions, store leasestore.Store, _ *testclock.Clock) {
	ctx := context.Background()
	created(require, store)
	require.NoError(store.Put(ctx, lease.Lease{PartitionID: "0", Epoch: 1}))

	got, written, err := store.Modify(ctx, "0", func(l *lease.Lease) bool {
		l.Epoch = 100
		return false
	})
	require.NoError(err)
	require.False(written)
	require.Equal(int64(1), got.Epoch)

	persisted, err := store.Get(ctx, "0")
	require.NoError(err)
	require.Equal(int64(1), persisted.Epoch)
}

func modifyKeepsIdentity(require *require.Assertions, store leasestore.Store, _ *testclock.Clock) {
	ctx := context.Background()
	created(require, store)
	require.NoError(store.Put(ctx, lease.New("0")))

	_, _, err := store.Modify(ctx, "0", func(l *lease.Lease) bool {
		l.PartitionID = "other"
		l.Owner = "host-a"
		return true
	})
	require.NoError(err)

	persisted, err := store.Get(ctx, "0")
	require.NoError(err)
	require.Equal("0", persisted.PartitionID)
	require.Equal("host-a", persisted.Owner)

	_, err = store.Get(ctx, "other")
	require.ErrorIs(err, leasestore.ErrLeaseNotFound)
}

func modifyMissing(require *require.Assertions, store leasestore.Store, _ *testclock.Clock) {
	created(require, store)
	_, _, err := store.Modify(context.Background(), "0", func(*lease.Lease) bool { return true })
	require.ErrorIs(err, leasestore.ErrLeaseNotFound)
}

func concurrentModify(require *require.Assertions, store leasestore.Store, _ *testclock.Clock) {
	ctx := context.Background()
	created(require, store)
	require.NoError(store.Put(ctx, lease.New("0")))

	const workers, rounds = 8, 5
	var wg sync.WaitGroup
	errs := make(chan error, workers*rounds)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				_, _, err := store.Modify(ctx, "0", func(l *lease.Lease) bool {
					l.Epoch++
					return true
				})
				if err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(err)
	}

	persisted, err := store.Get(ctx, "0")
	require.NoError(err)
	require.Equal(int64(workers*rounds), persisted.Epoch)
}

func copiesAreIsolated(require *require.Assertions, store leasestore.Store, _ *testclock.Clock) {
	ctx := context.Background()
	created(require, store)
	in := lease.Lease{PartitionID: "0", Epoch: 1, Token: "a"}
	require.NoError(store.Put(ctx, in))
	in.Epoch = 50

	got, err := store.Get(ctx, "0")
	require.NoError(err)
	got.Epoch = 99
	got.Owner = "host-z"

	again, err := store.Get(ctx, "0")
	require.NoError(err)
	require.Equal(int64(1), again.Epoch)
	require.Equal("", again.Owner)
}
