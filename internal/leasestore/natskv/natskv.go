// Package natskv keeps leases in a NATS JetStream key-value bucket. Each
// partition is one key; atomic changes are compare-and-swap updates on the
// key's revision.
package natskv

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/juju/clock"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Kashuab/leasekeeper/internal/lease"
	"github.com/Kashuab/leasekeeper/internal/leasestore"
)

const (
	leaseKeyPrefix = "lease."
	configKey      = "meta.lease_duration_ms"

	defaultMaxAttempts = 64
)

// Store implements leasestore.Store on a JetStream KV bucket.
type Store struct {
	js          jetstream.JetStream
	nc          *nats.Conn // owned connection, nil when supplied by the caller
	bucket      string
	clock       clock.Clock
	maxAttempts int
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to evaluate expiration.
func WithClock(clk clock.Clock) Option {
	return func(s *Store) {
		s.clock = clk
	}
}

// WithMaxAttempts bounds the compare-and-swap attempts of a single change.
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// New returns a store using an existing connection. Closing the store
// leaves the connection open.
func New(nc *nats.Conn, bucket string, opts ...Option) (*Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("natskv: bucket name is required")
	}
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	s := &Store{
		js:          js,
		bucket:      bucket,
		clock:       clock.WallClock,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Connect dials url and returns a store owning the connection.
func Connect(url, bucket string, opts ...Option) (*Store, error) {
	nc, err := nats.Connect(url, nats.Name("leasekeeper"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	s, err := New(nc, bucket, opts...)
	if err != nil {
		nc.Close()
		return nil, err
	}
	s.nc = nc
	return s, nil
}

func (s *Store) Exists(ctx context.Context) (bool, error) {
	_, err := s.js.KeyValue(ctx, s.bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up bucket %q: %w", s.bucket, err)
	}
	return true, nil
}

func (s *Store) CreateIfMissing(ctx context.Context, leaseDuration time.Duration) error {
	kv, err := s.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      s.bucket,
		Description: "leasekeeper partition leases",
		History:     1,
	})
	if err != nil {
		return fmt.Errorf("failed to create KV bucket: %w", err)
	}

	ms := strconv.FormatInt(leaseDuration.Milliseconds(), 10)
	if _, err := kv.Put(ctx, configKey, []byte(ms)); err != nil {
		return fmt.Errorf("failed to record lease duration: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context) error {
	err := s.js.DeleteKeyValue(ctx, s.bucket)
	if err != nil && !errors.Is(err, jetstream.ErrBucketNotFound) {
		return fmt.Errorf("failed to delete KV bucket: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, partitionID string) (lease.Lease, error) {
	kv, err := s.keyValue(ctx)
	if err != nil {
		return lease.Lease{}, err
	}
	l, _, err := s.load(ctx, kv, partitionID)
	return l, err
}

func (s *Store) Put(ctx context.Context, l lease.Lease) error {
	kv, err := s.keyValue(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("failed to encode lease: %w", err)
	}
	if _, err := kv.Put(ctx, leaseKey(l.PartitionID), data); err != nil {
		return fmt.Errorf("failed to put lease %q: %w", l.PartitionID, err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, partitionID string) error {
	kv, err := s.keyValue(ctx)
	if err != nil {
		return err
	}
	if err := kv.Delete(ctx, leaseKey(partitionID)); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to remove lease %q: %w", partitionID, err)
	}
	return nil
}

func (s *Store) TryAcquireUnowned(ctx context.Context, partitionID, newOwner string) (lease.Lease, bool, error) {
	kv, err := s.keyValue(ctx)
	if err != nil {
		return lease.Lease{}, false, err
	}
	d, err := s.duration(ctx, kv)
	if err != nil {
		return lease.Lease{}, false, err
	}

	return s.modify(ctx, kv, partitionID, func(l *lease.Lease) bool {
		now := s.clock.Now()
		if !l.Available(now) {
			return false
		}
		l.Owner = newOwner
		l.ExpiresAt = now.Add(d)
		return true
	})
}

func (s *Store) Modify(ctx context.Context, partitionID string, fn leasestore.ModifyFunc) (lease.Lease, bool, error) {
	kv, err := s.keyValue(ctx)
	if err != nil {
		return lease.Lease{}, false, err
	}
	return s.modify(ctx, kv, partitionID, fn)
}

func (s *Store) Close() error {
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}

func (s *Store) modify(ctx context.Context, kv jetstream.KeyValue, partitionID string, fn leasestore.ModifyFunc) (lease.Lease, bool, error) {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		current, revision, err := s.load(ctx, kv, partitionID)
		if err != nil {
			return lease.Lease{}, false, err
		}

		scratch := current
		if !fn(&scratch) {
			return current, false, nil
		}
		scratch.PartitionID = partitionID

		data, err := json.Marshal(scratch)
		if err != nil {
			return lease.Lease{}, false, fmt.Errorf("failed to encode lease: %w", err)
		}
		_, err = kv.Update(ctx, leaseKey(partitionID), data, revision)
		if err == nil {
			return scratch, true, nil
		}
		if !isRevisionMismatch(err) {
			return lease.Lease{}, false, fmt.Errorf("failed to update lease %q: %w", partitionID, err)
		}
	}
	return lease.Lease{}, false, fmt.Errorf("lease %q: %w", partitionID, leasestore.ErrConflict)
}

func (s *Store) load(ctx context.Context, kv jetstream.KeyValue, partitionID string) (lease.Lease, uint64, error) {
	entry, err := kv.Get(ctx, leaseKey(partitionID))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return lease.Lease{}, 0, leasestore.ErrLeaseNotFound
	}
	if err != nil {
		return lease.Lease{}, 0, fmt.Errorf("failed to get lease %q: %w", partitionID, err)
	}

	var l lease.Lease
	if err := json.Unmarshal(entry.Value(), &l); err != nil {
		return lease.Lease{}, 0, fmt.Errorf("failed to decode lease %q: %w", partitionID, err)
	}
	return l, entry.Revision(), nil
}

func (s *Store) keyValue(ctx context.Context) (jetstream.KeyValue, error) {
	kv, err := s.js.KeyValue(ctx, s.bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, leasestore.ErrStoreNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %q: %w", s.bucket, err)
	}
	return kv, nil
}

// duration returns the lease duration recorded in the bucket by the most
// recent CreateIfMissing, from whichever process made it.
func (s *Store) duration(ctx context.Context, kv jetstream.KeyValue) (time.Duration, error) {
	entry, err := kv.Get(ctx, configKey)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return 0, fmt.Errorf("bucket %q has no lease duration: %w", s.bucket, leasestore.ErrStoreNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read lease duration: %w", err)
	}
	ms, err := strconv.ParseInt(string(entry.Value()), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid lease duration %q: %w", entry.Value(), err)
	}

	return time.Duration(ms) * time.Millisecond, nil
}

func isRevisionMismatch(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

// leaseKey maps a partition id onto the restricted KV key alphabet.
func leaseKey(partitionID string) string {
	if partitionID == "" {
		return leaseKeyPrefix + "="
	}
	return leaseKeyPrefix + base64.RawURLEncoding.EncodeToString([]byte(partitionID))
}
