package cmd

import (
	"context"
	"fmt"

	"github.com/juju/clock"

	"github.com/Kashuab/leasekeeper/internal/config"
	"github.com/Kashuab/leasekeeper/internal/leasestore"
	firestorelease "github.com/Kashuab/leasekeeper/internal/leasestore/firestore"
	"github.com/Kashuab/leasekeeper/internal/leasestore/memory"
	"github.com/Kashuab/leasekeeper/internal/leasestore/natskv"
)

func newLeaseStore(ctx context.Context, cfg config.BackendConfig) (leasestore.Store, error) {
	switch cfg.Type {
	case config.BackendMemory:
		return memory.New(clock.WallClock), nil
	case config.BackendNATS:
		return natskv.Connect(cfg.URL, cfg.Bucket)
	case config.BackendFirestore:
		return firestorelease.New(ctx, cfg.Project, cfg.Collection, clock.WallClock)
	default:
		return nil, fmt.Errorf("unknown lease backend type: %q", cfg.Type)
	}
}
