package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/juju/clock"

	"github.com/Kashuab/leasekeeper/internal/lease"
	"github.com/Kashuab/leasekeeper/internal/leasestore"
	"github.com/Kashuab/leasekeeper/internal/metrics"
	"github.com/Kashuab/leasekeeper/internal/partitions"
)

// Operation names used for logging and metrics.
const (
	OpStoreExists = "store_exists"
	OpCreateStore = "create_store"
	OpDeleteStore = "delete_store"
	OpGet         = "get"
	OpCreate      = "create"
	OpDelete      = "delete"
	OpAcquire     = "acquire"
	OpRenew       = "renew"
	OpRelease     = "release"
	OpUpdate      = "update"
)

// Options configures a Coordinator.
type Options struct {
	// Host is this host's identity, stable for the life of the process.
	Host string

	// LeaseDuration is how long an acquired or renewed lease stays valid.
	LeaseDuration time.Duration

	// RenewInterval is how often the caller's renewal loop should run.
	// The coordinator only reports it.
	RenewInterval time.Duration

	// Partitions enumerates the partitions for GetAllLeases.
	Partitions partitions.Source

	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Coordinator runs the acquire/renew/release/update protocol for a single
// host against a shared lease store.
//
// Leases passed in are the caller's live copies: on success the
// coordinator updates their ownership and expiration to match what it
// persisted. Leases returned are fresh copies that never alias the store.
type Coordinator struct {
	store         leasestore.Store
	host          string
	leaseDuration time.Duration
	renewInterval time.Duration
	partitions    partitions.Source
	clock         clock.Clock
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

// New returns a coordinator for opts.Host. Missing or non-positive
// settings are rejected.
func New(store leasestore.Store, opts Options) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("coordinator: lease store is required")
	}
	if opts.Host == "" {
		return nil, errors.New("coordinator: host identity is required")
	}
	if opts.LeaseDuration <= 0 {
		return nil, fmt.Errorf("coordinator: lease duration must be > 0, got %v", opts.LeaseDuration)
	}
	if opts.RenewInterval <= 0 {
		return nil, fmt.Errorf("coordinator: renew interval must be > 0, got %v", opts.RenewInterval)
	}

	c := &Coordinator{
		store:         store,
		host:          opts.Host,
		leaseDuration: opts.LeaseDuration,
		renewInterval: opts.RenewInterval,
		partitions:    opts.Partitions,
		clock:         opts.Clock,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
	}
	if c.partitions == nil {
		c.partitions = partitions.Static(nil)
	}
	if c.clock == nil {
		c.clock = clock.WallClock
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("host", c.host)
	return c, nil
}

func (c *Coordinator) Host() string {
	return c.host
}

func (c *Coordinator) LeaseDuration() time.Duration {
	return c.leaseDuration
}

func (c *Coordinator) RenewInterval() time.Duration {
	return c.renewInterval
}

func (c *Coordinator) LeaseStoreExists(ctx context.Context) (bool, error) {
	start := c.clock.Now()
	ok, err := c.store.Exists(ctx)
	c.observe(OpStoreExists, start, true, err)
	return ok, err
}

// CreateLeaseStoreIfNotExists creates the store if needed and records this
// coordinator's lease duration in it either way.
func (c *Coordinator) CreateLeaseStoreIfNotExists(ctx context.Context) (bool, error) {
	start := c.clock.Now()
	err := c.store.CreateIfMissing(ctx, c.leaseDuration)
	c.observe(OpCreateStore, start, err == nil, err)
	if err != nil {
		return false, fmt.Errorf("failed to create lease store: %w", err)
	}
	return true, nil
}

func (c *Coordinator) DeleteLeaseStore(ctx context.Context) (bool, error) {
	start := c.clock.Now()
	err := c.store.Delete(ctx)
	c.observe(OpDeleteStore, start, err == nil, err)
	if err != nil {
		return false, fmt.Errorf("failed to delete lease store: %w", err)
	}
	return true, nil
}

// GetLease returns a copy of the persisted lease, or nil if the partition
// has none.
func (c *Coordinator) GetLease(ctx context.Context, partitionID string) (*lease.Lease, error) {
	start := c.clock.Now()
	log := c.logFor(partitionID)

	persisted, err := c.store.Get(ctx, partitionID)
	if errors.Is(err, leasestore.ErrLeaseNotFound) {
		log.Warn("no existing lease")
		c.observe(OpGet, start, false, err)
		return nil, nil
	}
	c.observe(OpGet, start, err == nil, err)
	if err != nil {
		return nil, err
	}
	return &persisted, nil
}

// CreateLeaseIfNotExists returns a copy of the partition's lease, first
// persisting a fresh unowned one if there was none.
func (c *Coordinator) CreateLeaseIfNotExists(ctx context.Context, partitionID string) (*lease.Lease, error) {
	start := c.clock.Now()
	log := c.logFor(partitionID)

	persisted, err := c.store.Get(ctx, partitionID)
	switch {
	case err == nil:
		log.Info("found existing lease")
	case errors.Is(err, leasestore.ErrLeaseNotFound):
		log.Info("creating new lease")
		persisted = lease.New(partitionID)
		err = c.store.Put(ctx, persisted)
	}
	c.observe(OpCreate, start, err == nil, err)
	if err != nil {
		return nil, err
	}
	return &persisted, nil
}

// DeleteLease removes the lease for l's partition. Only the partition id
// of l is used.
func (c *Coordinator) DeleteLease(ctx context.Context, l *lease.Lease) error {
	start := c.clock.Now()
	c.logFor(l.PartitionID).Info("deleting lease")

	err := c.store.Remove(ctx, l.PartitionID)
	c.observe(OpDelete, start, err == nil, err)
	return err
}

// AcquireLease takes the lease for this host. An unowned or expired lease
// is taken outright; one this host already holds is extended; one held by
// another host is stolen regardless of its expiration. It reports false
// only when the partition has no lease. Store write conflicts are retried
// until ctx is done.
func (c *Coordinator) AcquireLease(ctx context.Context, live *lease.Lease) (bool, error) {
	start := c.clock.Now()
	log := c.logFor(live.PartitionID)
	log.Info("acquiring lease")

	persisted, ok, err := c.store.TryAcquireUnowned(ctx, live.PartitionID, c.host)
	if err != nil && !errors.Is(err, leasestore.ErrConflict) {
		return c.fail(OpAcquire, start, log, "cannot acquire, lease not found", err)
	}
	if ok {
		live.Owner = persisted.Owner
		live.ExpiresAt = persisted.ExpiresAt
		log.Info("acquired lease")
		c.observe(OpAcquire, start, true, nil)
		return true, nil
	}

	// Someone held it a moment ago. Decide again against the current
	// record: keep it if it is ours, otherwise take it over.
	var (
		previous string
		wasLive  bool
	)
	for {
		persisted, _, err = c.store.Modify(ctx, live.PartitionID, func(l *lease.Lease) bool {
			now := c.clock.Now()
			previous, wasLive = l.Owner, !l.Available(now)
			l.Owner = c.host
			l.ExpiresAt = now.Add(c.leaseDuration)
			return true
		})
		if !errors.Is(err, leasestore.ErrConflict) {
			break
		}
		log.Debug("acquire lost a concurrent write, retrying")
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
			break
		}
	}
	if err != nil {
		return c.fail(OpAcquire, start, log, "cannot acquire, lease not found", err)
	}

	switch {
	case previous == c.host:
		log.Info("already hold lease")
	case wasLive:
		log.Warn("stole lease", "previous_owner", previous)
		c.metrics.Steal()
	default:
		log.Info("acquired lease")
	}
	live.Owner = persisted.Owner
	live.ExpiresAt = persisted.ExpiresAt
	c.observe(OpAcquire, start, true, nil)
	return true, nil
}

// RenewLease extends a lease this host owns. Expiration is not checked: a
// host may renew its own expired lease as long as nobody else took it.
// Losing a concurrent write to another host reports false.
func (c *Coordinator) RenewLease(ctx context.Context, live *lease.Lease) (bool, error) {
	start := c.clock.Now()
	log := c.logFor(live.PartitionID)
	log.Info("renewing lease")

	ok, err := c.renew(ctx, live, log)
	c.observe(OpRenew, start, ok, err)
	if errors.Is(err, leasestore.ErrLeaseNotFound) {
		return false, nil
	}
	return ok, err
}

func (c *Coordinator) renew(ctx context.Context, live *lease.Lease, log *slog.Logger) (bool, error) {
	persisted, written, err := c.store.Modify(ctx, live.PartitionID, func(l *lease.Lease) bool {
		if !l.IsOwnedBy(c.host) {
			return false
		}
		l.ExpiresAt = c.clock.Now().Add(c.leaseDuration)
		return true
	})
	if errors.Is(err, leasestore.ErrLeaseNotFound) {
		log.Warn("cannot renew, lease not found")
		return false, err
	}
	if errors.Is(err, leasestore.ErrConflict) {
		log.Warn("not renewed, lost a concurrent write")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !written {
		log.Warn("not renewed, lease owned by another host")
		return false, nil
	}
	live.ExpiresAt = persisted.ExpiresAt
	return true, nil
}

// ReleaseLease gives up a lease this host owns and that has not expired,
// leaving it unowned with no expiration. Losing a concurrent write to
// another host reports false.
func (c *Coordinator) ReleaseLease(ctx context.Context, live *lease.Lease) (bool, error) {
	start := c.clock.Now()
	log := c.logFor(live.PartitionID)
	log.Info("releasing lease")

	_, written, err := c.store.Modify(ctx, live.PartitionID, func(l *lease.Lease) bool {
		if l.IsExpired(c.clock.Now()) || !l.IsOwnedBy(c.host) {
			return false
		}
		l.Clear()
		return true
	})
	if errors.Is(err, leasestore.ErrConflict) {
		err, written = nil, false
	}
	if err != nil {
		return c.fail(OpRelease, start, log, "cannot release, lease not found", err)
	}
	if !written {
		log.Warn("not released, lease expired or owned by another host")
		c.observe(OpRelease, start, false, nil)
		return false, nil
	}

	log.Info("released lease")
	live.Clear()
	c.observe(OpRelease, start, true, nil)
	return true, nil
}

// UpdateLease renews the lease and then persists the epoch and token of
// the live copy. Expiration is never taken from the live copy. If the
// second step fails the renewal stays in effect.
func (c *Coordinator) UpdateLease(ctx context.Context, live *lease.Lease) (bool, error) {
	start := c.clock.Now()
	log := c.logFor(live.PartitionID)
	log.Info("updating lease")

	// Renew first so the lease cannot expire part way through.
	ok, err := c.renew(ctx, live, log)
	if err != nil {
		c.observe(OpUpdate, start, false, err)
		if errors.Is(err, leasestore.ErrLeaseNotFound) {
			return false, nil
		}
		return false, err
	}
	if !ok {
		c.observe(OpUpdate, start, false, nil)
		return false, nil
	}

	epoch, token := live.Epoch, live.Token
	_, written, err := c.store.Modify(ctx, live.PartitionID, func(l *lease.Lease) bool {
		if l.IsExpired(c.clock.Now()) || !l.IsOwnedBy(c.host) {
			return false
		}
		l.Epoch = epoch
		l.Token = token
		return true
	})
	if errors.Is(err, leasestore.ErrConflict) {
		err, written = nil, false
	}
	if err != nil {
		return c.fail(OpUpdate, start, log, "cannot update, lease not found", err)
	}
	if !written {
		log.Warn("not updated, lease expired or owned by another host")
		c.observe(OpUpdate, start, false, nil)
		return false, nil
	}
	c.observe(OpUpdate, start, true, nil)
	return true, nil
}

// fail turns a store error into the operation's result: a missing lease
// is an ordinary false, anything else is returned.
func (c *Coordinator) fail(op string, start time.Time, log *slog.Logger, notFoundMsg string, err error) (bool, error) {
	c.observe(op, start, false, err)
	if errors.Is(err, leasestore.ErrLeaseNotFound) {
		log.Warn(notFoundMsg)
		return false, nil
	}
	return false, err
}

func (c *Coordinator) observe(op string, start time.Time, ok bool, err error) {
	result := metrics.ResultOK
	switch {
	case errors.Is(err, leasestore.ErrLeaseNotFound):
		result = metrics.ResultNotFound
	case err != nil:
		result = metrics.ResultError
	case !ok:
		result = metrics.ResultFailed
	}
	c.metrics.Observe(op, result, c.clock.Now().Sub(start))
}

func (c *Coordinator) logFor(partitionID string) *slog.Logger {
	return c.logger.With("partition", partitionID)
}
