package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/juju/clock"

	"github.com/Kashuab/leasekeeper/internal/config"
	"github.com/Kashuab/leasekeeper/internal/coordinator"
	"github.com/Kashuab/leasekeeper/internal/lease"
	"github.com/Kashuab/leasekeeper/internal/leasestore"
	"github.com/Kashuab/leasekeeper/internal/metrics"
)

var (
	ErrAlreadyHolding = errors.New("already holding a lease")
	ErrLeaseLost      = errors.New("lease expired or held by another host")
)

// Engine runs one CLI operation at a time against the coordinator, keeping
// the caller's live lease in LeaseFile between invocations.
type Engine struct {
	Cfg         *config.Config
	Coordinator *coordinator.Async
	Store       leasestore.Store
	Metrics     *metrics.Metrics
	Clock       clock.Clock
	LeaseFile   string
}

// PartitionStatus reports the persisted lease of one partition. Lease is
// nil when the partition has none.
type PartitionStatus struct {
	PartitionID string       `json:"partition_id"`
	State       string       `json:"state"`
	Lease       *lease.Lease `json:"lease,omitempty"`
}

// Partition states reported by Status.
const (
	StateMissing = "missing"
	StateFree    = "free"
	StateHeld    = "held"
	StateExpired = "expired"
)

func (e *Engine) clk() clock.Clock {
	if e.Clock == nil {
		return clock.WallClock
	}
	return e.Clock
}

func (e *Engine) StoreExists(ctx context.Context) (bool, error) {
	return e.Coordinator.LeaseStoreExists(ctx).Wait(ctx)
}

func (e *Engine) CreateStore(ctx context.Context) error {
	_, err := e.Coordinator.CreateLeaseStoreIfNotExists(ctx).Wait(ctx)
	return err
}

func (e *Engine) DeleteStore(ctx context.Context) error {
	_, err := e.Coordinator.DeleteLeaseStore(ctx).Wait(ctx)
	return err
}

// Create makes sure the partition has a lease and returns it.
func (e *Engine) Create(ctx context.Context, partitionID string) (*lease.Lease, error) {
	return e.Coordinator.CreateLeaseIfNotExists(ctx, partitionID).Wait(ctx)
}

// Get returns the persisted lease of the partition.
func (e *Engine) Get(ctx context.Context, partitionID string) (*lease.Lease, error) {
	l, err := e.Coordinator.GetLease(ctx, partitionID).Wait(ctx)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, fmt.Errorf("partition %q: %w", partitionID, leasestore.ErrLeaseNotFound)
	}
	return l, nil
}

func (e *Engine) Delete(ctx context.Context, partitionID string) error {
	l := lease.New(partitionID)
	_, err := e.Coordinator.DeleteLease(ctx, &l).Wait(ctx)
	return err
}

// Acquire takes the partition's lease for this host and saves the live
// copy to the lease file.
func (e *Engine) Acquire(ctx context.Context, partitionID string) (*lease.Lease, error) {
	if existing, err := lease.Load(e.LeaseFile); err == nil {
		return nil, fmt.Errorf("%w for partition %q, release it first", ErrAlreadyHolding, existing.PartitionID)
	}

	live, err := e.Get(ctx, partitionID)
	if err != nil {
		return nil, err
	}
	ok, err := e.Coordinator.AcquireLease(ctx, live).Wait(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("partition %q: %w", partitionID, leasestore.ErrLeaseNotFound)
	}

	if err := lease.Save(e.LeaseFile, live); err != nil {
		return nil, err
	}
	return live, nil
}

// Renew extends the lease held in the lease file.
func (e *Engine) Renew(ctx context.Context) (*lease.Lease, error) {
	live, err := lease.Load(e.LeaseFile)
	if err != nil {
		return nil, err
	}
	ok, err := e.Coordinator.RenewLease(ctx, live).Wait(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("renew partition %q: %w", live.PartitionID, ErrLeaseLost)
	}

	if err := lease.Save(e.LeaseFile, live); err != nil {
		return nil, err
	}
	return live, nil
}

// Release gives up the lease held in the lease file and removes the file.
func (e *Engine) Release(ctx context.Context) (*lease.Lease, error) {
	live, err := lease.Load(e.LeaseFile)
	if err != nil {
		return nil, err
	}
	ok, err := e.Coordinator.ReleaseLease(ctx, live).Wait(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("release partition %q: %w", live.PartitionID, ErrLeaseLost)
	}

	if err := lease.Delete(e.LeaseFile); err != nil {
		return nil, err
	}
	return live, nil
}

// Update persists a new epoch and/or token for the lease held in the lease
// file. A nil argument keeps the current value.
func (e *Engine) Update(ctx context.Context, epoch *int64, token *string) (*lease.Lease, error) {
	live, err := lease.Load(e.LeaseFile)
	if err != nil {
		return nil, err
	}
	if epoch != nil {
		live.Epoch = *epoch
	}
	if token != nil {
		live.Token = *token
	}

	ok, err := e.Coordinator.UpdateLease(ctx, live).Wait(ctx)
	// The renewal half may have gone through even when the update did not.
	if saveErr := lease.Save(e.LeaseFile, live); saveErr != nil && err == nil {
		err = saveErr
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("update partition %q: %w", live.PartitionID, ErrLeaseLost)
	}
	return live, nil
}

// Status reports every configured partition, fetched concurrently.
func (e *Engine) Status(ctx context.Context) ([]PartitionStatus, error) {
	futures, err := e.Coordinator.GetAllLeases(ctx)
	if err != nil {
		return nil, err
	}

	ids := e.Cfg.Partitions
	if len(ids) != len(futures) {
		return nil, fmt.Errorf("coordinator reported %d partitions, config has %d", len(futures), len(ids))
	}
	now := e.clk().Now()
	statuses := make([]PartitionStatus, 0, len(futures))
	for i, f := range futures {
		l, err := f.Wait(ctx)
		if err != nil {
			return nil, err
		}

		s := PartitionStatus{PartitionID: ids[i], State: StateMissing, Lease: l}
		switch {
		case l == nil:
		case !l.IsOwned():
			s.State = StateFree
		case l.IsExpired(now):
			s.State = StateExpired
		default:
			s.State = StateHeld
		}
		statuses = append(statuses, s)
	}
	return statuses, nil
}

// Close waits for outstanding operations and closes the store.
func (e *Engine) Close() error {
	e.Coordinator.Wait()
	if err := e.Store.Close(); err != nil {
		return fmt.Errorf("failed to close lease store: %w", err)
	}
	return nil
}
