package lease

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Lease is a time-bounded ownership grant over one partition.
//
// Lease is a plain value. Every Lease handed out by a store or the
// coordinator is an independent copy; changing one has no effect on the
// persisted record until it is passed back through the coordinator.
type Lease struct {
	PartitionID string    `json:"partition_id"`
	Owner       string    `json:"owner"`
	Epoch       int64     `json:"epoch"`
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// New returns an unowned lease for the partition with a zero epoch and
// no expiration set.
func New(partitionID string) Lease {
	return Lease{PartitionID: partitionID}
}

// IsOwned reports whether the lease is attributed to a host. An owned
// lease may still be expired.
func (l Lease) IsOwned() bool {
	return l.Owner != ""
}

// IsExpired reports whether the lease has expired as of now. A lease whose
// expiration was never set is always expired.
func (l Lease) IsExpired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// IsOwnedBy reports whether host is the current owner, regardless of
// expiration.
func (l Lease) IsOwnedBy(host string) bool {
	return host != "" && l.Owner == host
}

// Available reports whether any host may take the lease without stealing
// it: the lease is unowned or expired.
func (l Lease) Available(now time.Time) bool {
	return !l.IsOwned() || l.IsExpired(now)
}

// ExpirationMillis returns the expiration as milliseconds since the Unix
// epoch, 0 when never set.
func (l Lease) ExpirationMillis() int64 {
	if l.ExpiresAt.IsZero() {
		return 0
	}
	return l.ExpiresAt.UnixMilli()
}

// Clear removes ownership and resets the expiration.
func (l *Lease) Clear() {
	l.Owner = ""
	l.ExpiresAt = time.Time{}
}

func (l Lease) String() string {
	owner := l.Owner
	if owner == "" {
		owner = "<unowned>"
	}
	return fmt.Sprintf("lease %q owner=%s epoch=%d expires=%d", l.PartitionID, owner, l.Epoch, l.ExpirationMillis())
}

// Load reads a live lease copy previously written with Save.
func Load(path string) (*Lease, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no live lease (file not found: %s)", path)
		}
		return nil, fmt.Errorf("failed to read lease file: %w", err)
	}

	var l Lease
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("failed to parse lease file: %w", err)
	}
	if l.PartitionID == "" {
		return nil, fmt.Errorf("lease file %s has no partition id", path)
	}

	return &l, nil
}

// Save writes the live lease copy to path.
func Save(path string, l *Lease) error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lease file: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write lease file: %w", err)
	}

	return nil
}

func Delete(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete lease file: %w", err)
	}
	return nil
}
