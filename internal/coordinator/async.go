package coordinator

import (
	"context"
	"fmt"

	"github.com/Kashuab/leasekeeper/internal/async"
	"github.com/Kashuab/leasekeeper/internal/lease"
)

// Async runs each coordinator operation on an executor so that callers
// managing different partitions do not wait on one another.
//
// A live lease passed to an Async operation belongs to that operation until
// its future completes; the caller must not read or change it before then.
type Async struct {
	c    *Coordinator
	exec *async.Executor
}

// NewAsync wraps c. A nil executor is replaced by an unbounded one.
func NewAsync(c *Coordinator, exec *async.Executor) *Async {
	if exec == nil {
		exec = async.NewExecutor(0)
	}
	return &Async{c: c, exec: exec}
}

// Wait blocks until every operation submitted so far has finished.
func (a *Async) Wait() {
	a.exec.Wait()
}

func (a *Async) LeaseStoreExists(ctx context.Context) *async.Future[bool] {
	return async.Submit(a.exec, func() (bool, error) {
		return a.c.LeaseStoreExists(ctx)
	})
}

func (a *Async) CreateLeaseStoreIfNotExists(ctx context.Context) *async.Future[bool] {
	return async.Submit(a.exec, func() (bool, error) {
		return a.c.CreateLeaseStoreIfNotExists(ctx)
	})
}

func (a *Async) DeleteLeaseStore(ctx context.Context) *async.Future[bool] {
	return async.Submit(a.exec, func() (bool, error) {
		return a.c.DeleteLeaseStore(ctx)
	})
}

// GetLease resolves to nil when the partition has no lease.
func (a *Async) GetLease(ctx context.Context, partitionID string) *async.Future[*lease.Lease] {
	return async.Submit(a.exec, func() (*lease.Lease, error) {
		return a.c.GetLease(ctx, partitionID)
	})
}

// GetAllLeases starts a GetLease for every partition the partition source
// reports, in its order.
func (a *Async) GetAllLeases(ctx context.Context) ([]*async.Future[*lease.Lease], error) {
	ids, err := a.c.partitions.PartitionIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}

	futures := make([]*async.Future[*lease.Lease], 0, len(ids))
	for _, id := range ids {
		futures = append(futures, a.GetLease(ctx, id))
	}
	return futures, nil
}

func (a *Async) CreateLeaseIfNotExists(ctx context.Context, partitionID string) *async.Future[*lease.Lease] {
	return async.Submit(a.exec, func() (*lease.Lease, error) {
		return a.c.CreateLeaseIfNotExists(ctx, partitionID)
	})
}

func (a *Async) DeleteLease(ctx context.Context, l *lease.Lease) *async.Future[struct{}] {
	return async.Submit(a.exec, func() (struct{}, error) {
		return struct{}{}, a.c.DeleteLease(ctx, l)
	})
}

func (a *Async) AcquireLease(ctx context.Context, live *lease.Lease) *async.Future[bool] {
	return async.Submit(a.exec, func() (bool, error) {
		return a.c.AcquireLease(ctx, live)
	})
}

func (a *Async) RenewLease(ctx context.Context, live *lease.Lease) *async.Future[bool] {
	return async.Submit(a.exec, func() (bool, error) {
		return a.c.RenewLease(ctx, live)
	})
}

func (a *Async) ReleaseLease(ctx context.Context, live *lease.Lease) *async.Future[bool] {
	return async.Submit(a.exec, func() (bool, error) {
		return a.c.ReleaseLease(ctx, live)
	})
}

func (a *Async) UpdateLease(ctx context.Context, live *lease.Lease) *async.Future[bool] {
	return async.Submit(a.exec, func() (bool, error) {
		return a.c.UpdateLease(ctx, live)
	})
}
