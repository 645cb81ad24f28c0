package memory

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/Kashuab/leasekeeper/internal/lease"
	"github.com/Kashuab/leasekeeper/internal/leasestore"
)

// Store is a thread-safe in-memory lease store for testing and local
// development. One mutex guards the whole map, so stealing is checked and
// set atomically against every other caller, whatever the partition.
//
// Contents live for the lifetime of the Store value. Share one Store
// between coordinators to have them compete for the same leases.
type Store struct {
	clock clock.Clock

	mu            sync.Mutex
	leases        map[string]*lease.Lease // nil until created
	leaseDuration time.Duration
}

// New returns a store that reads time from clk, the wall clock when nil.
// The store must still be created with CreateIfMissing before use.
func New(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Store{clock: clk}
}

func (s *Store) Exists(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.leases != nil, nil
}

func (s *Store) CreateIfMissing(_ context.Context, leaseDuration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.leases == nil {
		s.leases = make(map[string]*lease.Lease)
	}
	s.leaseDuration = leaseDuration
	return nil
}

func (s *Store) Delete(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.leases = nil
	return nil
}

// LeaseDuration returns the duration recorded by the last CreateIfMissing.
func (s *Store) LeaseDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.leaseDuration
}

func (s *Store) Get(_ context.Context, partitionID string) (lease.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	persisted, err := s.lookup(partitionID)
	if err != nil {
		return lease.Lease{}, err
	}
	return *persisted, nil
}

func (s *Store) Put(_ context.Context, l lease.Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.leases == nil {
		return leasestore.ErrStoreNotFound
	}
	s.leases[l.PartitionID] = &l
	return nil
}

func (s *Store) Remove(_ context.Context, partitionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.leases == nil {
		return leasestore.ErrStoreNotFound
	}
	delete(s.leases, partitionID)
	return nil
}

func (s *Store) TryAcquireUnowned(_ context.Context, partitionID, newOwner string) (lease.Lease, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	persisted, err := s.lookup(partitionID)
	if err != nil {
		return lease.Lease{}, false, err
	}

	now := s.clock.Now()
	if !persisted.Available(now) {
		return *persisted, false, nil
	}

	persisted.Owner = newOwner
	persisted.ExpiresAt = now.Add(s.leaseDuration)
	return *persisted, true, nil
}

func (s *Store) Modify(_ context.Context, partitionID string, fn leasestore.ModifyFunc) (lease.Lease, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	persisted, err := s.lookup(partitionID)
	if err != nil {
		return lease.Lease{}, false, err
	}

	// fn works on a scratch copy so a declined change leaves no trace.
	scratch := *persisted
	if !fn(&scratch) {
		return *persisted, false, nil
	}
	scratch.PartitionID = partitionID
	*persisted = scratch
	return scratch, true, nil
}

func (s *Store) Close() error {
	return nil
}

// lookup must be called with s.mu held.
func (s *Store) lookup(partitionID string) (*lease.Lease, error) {
	if s.leases == nil {
		return nil, leasestore.ErrStoreNotFound
	}
	persisted, ok := s.leases[partitionID]
	if !ok {
		return nil, leasestore.ErrLeaseNotFound
	}
	return persisted, nil
}
