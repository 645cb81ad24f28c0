package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/Kashuab/leasekeeper/internal/config"
	"github.com/Kashuab/leasekeeper/internal/coordinator"
	"github.com/Kashuab/leasekeeper/internal/engine"
	"github.com/Kashuab/leasekeeper/internal/lease"
	"github.com/Kashuab/leasekeeper/internal/leasestore"
	"github.com/Kashuab/leasekeeper/internal/leasestore/memory"
	"github.com/Kashuab/leasekeeper/internal/partitions"
)

func testEngine(t *testing.T, host string, store *memory.Store, clk *testclock.Clock) *engine.Engine {
	t.Helper()

	cfg := &config.Config{
		Lease:      config.LeaseConfig{Duration: 30, RenewInterval: 10},
		Backend:    config.BackendConfig{Type: config.BackendMemory},
		Partitions: []string{"0", "1", "2"},
	}

	c, err := coordinator.New(store, coordinator.Options{
		Host:          host,
		LeaseDuration: cfg.LeaseDuration(),
		RenewInterval: cfg.RenewInterval(),
		Partitions:    partitions.Static(cfg.Partitions),
		Clock:         clk,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("coordinator.New failed: %v", err)
	}

	return &engine.Engine{
		Cfg:         cfg,
		Coordinator: coordinator.NewAsync(c, nil),
		Store:       store,
		Clock:       clk,
		LeaseFile:   filepath.Join(t.TempDir(), ".leasekeeper"),
	}
}

func setup(t *testing.T) (*engine.Engine, *memory.Store, *testclock.Clock) {
	t.Helper()
	clk := testclock.NewClock(time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC))
	store := memory.New(clk)
	e := testEngine(t, "test-host", store, clk)
	ctx := context.Background()

	if err := e.CreateStore(ctx); err != nil {
		t.Fatalf("CreateStore failed: %v", err)
	}
	for _, id := range []string{"0", "1"} {
		if _, err := e.Create(ctx, id); err != nil {
			t.Fatalf("Create(%q) failed: %v", id, err)
		}
	}
	return e, store, clk
}

func TestAcquireSavesLeaseFile(t *testing.T) {
	e, _, clk := setup(t)
	ctx := context.Background()

	l, err := e.Acquire(ctx, "0")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if l.Owner != "test-host" {
		t.Errorf("expected owner 'test-host', got %q", l.Owner)
	}

	saved, err := lease.Load(e.LeaseFile)
	if err != nil {
		t.Fatalf("lease.Load failed: %v", err)
	}
	if saved.PartitionID != "0" || saved.Owner != "test-host" {
		t.Errorf("unexpected lease file contents: %v", saved)
	}
	if !saved.ExpiresAt.Equal(clk.Now().Add(30 * time.Second)) {
		t.Errorf("expected expiry %v, got %v", clk.Now().Add(30*time.Second), saved.ExpiresAt)
	}
}

func TestAcquireRefusesWhileHolding(t *testing.T) {
	e, _, _ := setup(t)
	ctx := context.Background()

	if _, err := e.Acquire(ctx, "0"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	_, err := e.Acquire(ctx, "1")
	if !errors.Is(err, engine.ErrAlreadyHolding) {
		t.Errorf("expected ErrAlreadyHolding, got %v", err)
	}
}

func TestAcquireMissingPartition(t *testing.T) {
	e, _, _ := setup(t)

	_, err := e.Acquire(context.Background(), "2")
	if !errors.Is(err, leasestore.ErrLeaseNotFound) {
		t.Errorf("expected ErrLeaseNotFound, got %v", err)
	}
}

func TestRenew(t *testing.T) {
	e, _, clk := setup(t)
	ctx := context.Background()

	if _, err := e.Acquire(ctx, "0"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	clk.Advance(20 * time.Second)

	renewed, err := e.Renew(ctx)
	if err != nil {
		t.Fatalf("Renew failed: %v", err)
	}
	want := clk.Now().Add(30 * time.Second)
	if !renewed.ExpiresAt.Equal(want) {
		t.Errorf("expected expiry %v, got %v", want, renewed.ExpiresAt)
	}

	saved, err := lease.Load(e.LeaseFile)
	if err != nil {
		t.Fatalf("lease.Load failed: %v", err)
	}
	if !saved.ExpiresAt.Equal(want) {
		t.Errorf("lease file not updated: %v", saved.ExpiresAt)
	}
}

func TestRenewAfterSteal(t *testing.T) {
	e, store, clk := setup(t)
	ctx := context.Background()

	if _, err := e.Acquire(ctx, "0"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	thief := testEngine(t, "other-host", store, clk)
	if _, err := thief.Acquire(ctx, "0"); err != nil {
		t.Fatalf("thief Acquire failed: %v", err)
	}

	_, err := e.Renew(ctx)
	if !errors.Is(err, engine.ErrLeaseLost) {
		t.Errorf("expected ErrLeaseLost, got %v", err)
	}
}

func TestRelease(t *testing.T) {
	e, _, _ := setup(t)
	ctx := context.Background()

	if _, err := e.Acquire(ctx, "0"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if _, err := e.Release(ctx); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	if _, err := lease.Load(e.LeaseFile); err == nil {
		t.Error("expected lease file to be removed")
	}

	l, err := e.Get(ctx, "0")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if l.IsOwned() {
		t.Errorf("expected unowned lease, got owner %q", l.Owner)
	}

	// Should be able to acquire again
	if _, err := e.Acquire(ctx, "1"); err != nil {
		t.Fatalf("re-Acquire failed: %v", err)
	}
}

func TestReleaseExpired(t *testing.T) {
	e, _, clk := setup(t)
	ctx := context.Background()

	if _, err := e.Acquire(ctx, "0"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	clk.Advance(time.Minute)

	_, err := e.Release(ctx)
	if !errors.Is(err, engine.ErrLeaseLost) {
		t.Errorf("expected ErrLeaseLost, got %v", err)
	}
	if _, err := lease.Load(e.LeaseFile); err != nil {
		t.Errorf("lease file should be kept after a failed release: %v", err)
	}
}

func TestUpdate(t *testing.T) {
	e, _, _ := setup(t)
	ctx := context.Background()

	if _, err := e.Acquire(ctx, "0"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	epoch, token := int64(4), "offset-1200"
	if _, err := e.Update(ctx, &epoch, &token); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	// token only
	next := "offset-1300"
	if _, err := e.Update(ctx, nil, &next); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	l, err := e.Get(ctx, "0")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if l.Epoch != 4 {
		t.Errorf("expected epoch 4, got %d", l.Epoch)
	}
	if l.Token != "offset-1300" {
		t.Errorf("expected token 'offset-1300', got %q", l.Token)
	}
}

func TestStatus(t *testing.T) {
	e, store, clk := setup(t)
	ctx := context.Background()

	other := testEngine(t, "other-host", store, clk)
	if _, err := other.Acquire(ctx, "1"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	statuses, err := e.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if len(statuses) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(statuses))
	}

	want := []string{engine.StateFree, engine.StateHeld, engine.StateMissing}
	for i, s := range statuses {
		if s.State != want[i] {
			t.Errorf("partition %s: expected state %q, got %q", s.PartitionID, want[i], s.State)
		}
	}
	if statuses[1].Lease.Owner != "other-host" {
		t.Errorf("expected partition 1 held by 'other-host', got %q", statuses[1].Lease.Owner)
	}

	clk.Advance(time.Minute)
	statuses, err = e.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if statuses[1].State != engine.StateExpired {
		t.Errorf("expected partition 1 expired, got %q", statuses[1].State)
	}
}

func TestStoreLifecycle(t *testing.T) {
	e, _, _ := setup(t)
	ctx := context.Background()

	ok, err := e.StoreExists(ctx)
	if err != nil || !ok {
		t.Fatalf("expected store to exist, got %v, %v", ok, err)
	}

	if err := e.Delete(ctx, "0"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := e.Get(ctx, "0"); !errors.Is(err, leasestore.ErrLeaseNotFound) {
		t.Errorf("expected ErrLeaseNotFound after Delete, got %v", err)
	}

	if err := e.DeleteStore(ctx); err != nil {
		t.Fatalf("DeleteStore failed: %v", err)
	}
	ok, err = e.StoreExists(ctx)
	if err != nil || ok {
		t.Errorf("expected store to be gone, got %v, %v", ok, err)
	}

	if _, err := e.Get(ctx, "1"); !errors.Is(err, leasestore.ErrStoreNotFound) {
		t.Errorf("expected ErrStoreNotFound, got %v", err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
