// Package partitions supplies the authoritative list of partition ids.
package partitions

import (
	"context"
	"slices"
)

// Source enumerates the partitions a host may hold leases for. The
// coordinator never invents or validates partition ids itself.
type Source interface {
	PartitionIDs(ctx context.Context) ([]string, error)
}

// Static is a fixed list of partition ids, typically from configuration.
type Static []string

func (s Static) PartitionIDs(_ context.Context) ([]string, error) {
	return slices.Clone(s), nil
}
