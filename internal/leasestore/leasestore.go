package leasestore

import (
	"context"
	"errors"
	"time"

	"github.com/Kashuab/leasekeeper/internal/lease"
)

var (
	ErrStoreNotFound = errors.New("leasekeeper: lease store does not exist")
	ErrLeaseNotFound = errors.New("leasekeeper: lease not found")
	ErrConflict      = errors.New("leasekeeper: concurrent modification, retries exhausted")
)

// ModifyFunc inspects the persisted lease and changes it in place. It
// returns false to leave the record untouched. Durable stores may call it
// more than once when a concurrent writer wins, so it must not have side
// effects outside the lease it is given.
type ModifyFunc func(l *lease.Lease) bool

// Store is the registry of persisted leases, one per partition.
//
// Every lease crossing this interface is a copy: implementations never
// hand out a reference to their own record. Lease operations against a
// store that was never created, or was deleted, return ErrStoreNotFound.
type Store interface {
	// Exists reports whether the store has been created and not deleted.
	Exists(ctx context.Context) (bool, error)

	// CreateIfMissing creates the store when absent. The lease duration is
	// recorded on every call, even when the store already existed.
	CreateIfMissing(ctx context.Context, leaseDuration time.Duration) error

	// Delete discards the store and every lease in it.
	Delete(ctx context.Context) error

	// Get returns the persisted lease, or ErrLeaseNotFound.
	Get(ctx context.Context, partitionID string) (lease.Lease, error)

	// Put inserts or overwrites the lease keyed by its partition id.
	Put(ctx context.Context, l lease.Lease) error

	// Remove deletes the lease for the partition. Removing a missing
	// lease is not an error.
	Remove(ctx context.Context, partitionID string) error

	// TryAcquireUnowned atomically takes the lease for newOwner if it is
	// unowned or expired, setting the expiration to now plus the store's
	// lease duration. It reports false, leaving the record untouched, when
	// the lease is held by anyone. Returns ErrLeaseNotFound if absent.
	TryAcquireUnowned(ctx context.Context, partitionID, newOwner string) (lease.Lease, bool, error)

	// Modify atomically applies fn to the persisted lease and returns the
	// resulting record and whether fn asked for it to be written.
	// Returns ErrLeaseNotFound if absent.
	Modify(ctx context.Context, partitionID string, fn ModifyFunc) (lease.Lease, bool, error)

	// Close releases any resources held by the store.
	Close() error
}
