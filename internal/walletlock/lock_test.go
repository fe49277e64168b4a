package walletlock

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Fantasim/bitwallet-coordinator/internal/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "lock.sqlite")
	db, err := storage.New(dbPath, "testnet")
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	if err := db.RunMigrations(); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewManager(db, 200*time.Millisecond)
}

func TestAcquireReleaseAllowsReacquire(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	l, err := m.Acquire(ctx, WalletResource("w1"), time.Second)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	l.Release()

	l2, err := m.Acquire(ctx, WalletResource("w1"), time.Second)
	if err != nil {
		t.Fatalf("second Acquire() error = %v", err)
	}
	l2.Release()
	m.Stop()
}

func TestAcquireBlocksConcurrentHolder(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	l, err := m.Acquire(ctx, WalletResource("w2"), time.Second)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = m.Acquire(timeoutCtx, WalletResource("w2"), 100*time.Millisecond)
	if err == nil {
		t.Fatal("Acquire() unexpectedly succeeded while lock was held")
	}

	l.Release()
	m.Stop()
}

func TestAcquireSucceedsAfterLeaseExpiresWithoutRenewal(t *testing.T) {
	// Simulate a crashed holder: a second Manager with the same db but a
	// fresh holder id should be able to steal the lock once the lease
	// duration has elapsed, without anyone calling Release.
	dbPath := filepath.Join(t.TempDir(), "lock.sqlite")
	db, err := storage.New(dbPath, "testnet")
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	defer db.Close()
	if err := db.RunMigrations(); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}

	leaseTTL := 50 * time.Millisecond
	crashed := NewManager(db, leaseTTL)
	ctx := context.Background()
	l, err := crashed.Acquire(ctx, WalletResource("w3"), time.Second)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	// Simulate a crash: stop the renewal goroutine without releasing.
	l.cancel()

	time.Sleep(leaseTTL * 3)

	survivor := NewManager(db, leaseTTL)
	l2, err := survivor.Acquire(ctx, WalletResource("w3"), time.Second)
	if err != nil {
		t.Fatalf("Acquire() after crash error = %v", err)
	}
	l2.Release()
}
