package firestore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/juju/clock"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Kashuab/leasekeeper/internal/lease"
	"github.com/Kashuab/leasekeeper/internal/leasestore"
)

const metaDocID = "_store"

// Store implements leasestore.Store using Google Cloud Firestore. The
// collection holds one document per partition plus a metadata document
// whose presence marks the store as created.
type Store struct {
	client     *firestore.Client
	collection string
	clock      clock.Clock
}

// leaseDoc is the Firestore document schema for a lease.
type leaseDoc struct {
	PartitionID string    `firestore:"partition_id"`
	Owner       string    `firestore:"owner"`
	Epoch       int64     `firestore:"epoch"`
	Token       string    `firestore:"token"`
	ExpiresAt   time.Time `firestore:"expires_at"`
}

// metaDoc is the Firestore document schema for store metadata.
type metaDoc struct {
	LeaseDurationMs int64     `firestore:"lease_duration_ms"`
	UpdatedAt       time.Time `firestore:"updated_at"`
}

func New(ctx context.Context, project, collection string, clk clock.Clock) (*Store, error) {
	client, err := firestore.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &Store{client: client, collection: collection, clock: clk}, nil
}

func (s *Store) metaRef() *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(metaDocID)
}

// docRef maps a partition id onto a document id; ids may not contain '/'.
func (s *Store) docRef(partitionID string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc("lease-" + base64.RawURLEncoding.EncodeToString([]byte(partitionID)))
}

func (s *Store) Exists(ctx context.Context) (bool, error) {
	_, err := s.metaRef().Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to read store metadata: %w", err)
	}
	return true, nil
}

func (s *Store) CreateIfMissing(ctx context.Context, leaseDuration time.Duration) error {
	_, err := s.metaRef().Set(ctx, metaDoc{
		LeaseDurationMs: leaseDuration.Milliseconds(),
		UpdatedAt:       s.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to write store metadata: %w", err)
	}
	return nil
}

// Delete removes every lease and then the metadata document, so a partial
// failure leaves the store marked as existing and can be retried.
func (s *Store) Delete(ctx context.Context) error {
	iter := s.client.Collection(s.collection).DocumentRefs(ctx)
	var refs []*firestore.DocumentRef
	for {
		ref, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to list leases: %w", err)
		}
		refs = append(refs, ref)
	}

	for _, ref := range deleteOrder(refs) {
		if _, err := ref.Delete(ctx); err != nil {
			return fmt.Errorf("failed to delete %s: %w", ref.ID, err)
		}
	}
	return nil
}

// deleteOrder moves the metadata document to the end of refs.
func deleteOrder(refs []*firestore.DocumentRef) []*firestore.DocumentRef {
	ordered := make([]*firestore.DocumentRef, 0, len(refs))
	var meta *firestore.DocumentRef
	for _, ref := range refs {
		if ref.ID == metaDocID {
			meta = ref
			continue
		}
		ordered = append(ordered, ref)
	}
	if meta != nil {
		ordered = append(ordered, meta)
	}
	return ordered
}

func (s *Store) Get(ctx context.Context, partitionID string) (lease.Lease, error) {
	var result lease.Lease
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := s.readMeta(tx); err != nil {
			return err
		}
		l, err := s.readLease(tx, partitionID)
		if err != nil {
			return err
		}
		result = l
		return nil
	}, firestore.ReadOnly)
	if err != nil {
		return lease.Lease{}, err
	}
	return result, nil
}

func (s *Store) Put(ctx context.Context, l lease.Lease) error {
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := s.readMeta(tx); err != nil {
			return err
		}
		return tx.Set(s.docRef(l.PartitionID), toDoc(l))
	})
}

func (s *Store) Remove(ctx context.Context, partitionID string) error {
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := s.readMeta(tx); err != nil {
			return err
		}
		return tx.Delete(s.docRef(partitionID))
	})
}

func (s *Store) TryAcquireUnowned(ctx context.Context, partitionID, newOwner string) (lease.Lease, bool, error) {
	return s.modify(ctx, partitionID, func(meta metaDoc, l *lease.Lease) bool {
		now := s.clock.Now()
		if !l.Available(now) {
			return false
		}
		l.Owner = newOwner
		l.ExpiresAt = now.Add(time.Duration(meta.LeaseDurationMs) * time.Millisecond)
		return true
	})
}

func (s *Store) Modify(ctx context.Context, partitionID string, fn leasestore.ModifyFunc) (lease.Lease, bool, error) {
	return s.modify(ctx, partitionID, func(_ metaDoc, l *lease.Lease) bool {
		return fn(l)
	})
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) modify(ctx context.Context, partitionID string, fn func(metaDoc, *lease.Lease) bool) (lease.Lease, bool, error) {
	var (
		result  lease.Lease
		written bool
	)

	// The transaction body may run several times under contention.
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		meta, err := s.readMeta(tx)
		if err != nil {
			return err
		}
		current, err := s.readLease(tx, partitionID)
		if err != nil {
			return err
		}

		scratch := current
		if !fn(meta, &scratch) {
			result, written = current, false
			return nil
		}
		scratch.PartitionID = partitionID
		if err := tx.Set(s.docRef(partitionID), toDoc(scratch)); err != nil {
			return fmt.Errorf("failed to write lease %q: %w", partitionID, err)
		}
		result, written = scratch, true
		return nil
	})
	if err != nil {
		return lease.Lease{}, false, err
	}
	return result, written, nil
}

func (s *Store) readMeta(tx *firestore.Transaction) (metaDoc, error) {
	doc, err := tx.Get(s.metaRef())
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return metaDoc{}, leasestore.ErrStoreNotFound
		}
		return metaDoc{}, fmt.Errorf("failed to read store metadata: %w", err)
	}
	var meta metaDoc
	if err := doc.DataTo(&meta); err != nil {
		return metaDoc{}, fmt.Errorf("failed to parse store metadata: %w", err)
	}
	return meta, nil
}

func (s *Store) readLease(tx *firestore.Transaction, partitionID string) (lease.Lease, error) {
	doc, err := tx.Get(s.docRef(partitionID))
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return lease.Lease{}, leasestore.ErrLeaseNotFound
		}
		return lease.Lease{}, fmt.Errorf("failed to read lease %q: %w", partitionID, err)
	}
	var ld leaseDoc
	if err := doc.DataTo(&ld); err != nil {
		return lease.Lease{}, fmt.Errorf("failed to parse lease %q: %w", partitionID, err)
	}
	return fromDoc(ld), nil
}

func toDoc(l lease.Lease) leaseDoc {
	return leaseDoc{
		PartitionID: l.PartitionID,
		Owner:       l.Owner,
		Epoch:       l.Epoch,
		Token:       l.Token,
		ExpiresAt:   l.ExpiresAt,
	}
}

func fromDoc(ld leaseDoc) lease.Lease {
	return lease.Lease{
		PartitionID: ld.PartitionID,
		Owner:       ld.Owner,
		Epoch:       ld.Epoch,
		Token:       ld.Token,
		ExpiresAt:   ld.ExpiresAt,
	}
}
