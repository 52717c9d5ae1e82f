// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package cosmos

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeProvisioner struct {
	dbCalls   atomic.Int32
	collCalls atomic.Int32
	failDB    atomic.Bool
	release   chan struct{}
}

func (f *fakeProvisioner) CreateDatabaseIfNotExists(ctx context.Context, id string) error {
	f.dbCalls.Add(1)
	if f.release != nil {
		<-f.release
	}
	if f.failDB.Load() {
		return errors.New("service unavailable")
	}
	return nil
}

func (f *fakeProvisioner) CreateCollectionIfNotExists(ctx context.Context, database, id string) error {
	f.collCalls.Add(1)
	return nil
}

func TestEnsurerCachesSuccess(t *testing.T) {
	p := &fakeProvisioner{}
	e := NewEnsurer(p, "proxydb", "items")

	for i := 0; i < 3; i++ {
		if err := e.Ensure(context.Background()); err != nil {
			t.Fatalf("ensure %d: %v", i, err)
		}
	}
	if got := p.dbCalls.Load(); got != 1 {
		t.Fatalf("expected one database call, got %d", got)
	}
	if got := p.collCalls.Load(); got != 1 {
		t.Fatalf("expected one collection call, got %d", got)
	}
}

func TestEnsurerRetriesAfterFailure(t *testing.T) {
	p := &fakeProvisioner{}
	p.failDB.Store(true)
	e := NewEnsurer(p, "proxydb", "items")

	if err := e.Ensure(context.Background()); err == nil {
		t.Fatal("expected failure while provisioner is down")
	}
	if got := p.collCalls.Load(); got != 0 {
		t.Fatalf("collection must not be ensured after database failure, got %d calls", got)
	}

	p.failDB.Store(false)
	if err := e.Ensure(context.Background()); err != nil {
		t.Fatalf("ensure after recovery: %v", err)
	}
	if got := p.dbCalls.Load(); got != 2 {
		t.Fatalf("expected a retry after failure, got %d database calls", got)
	}
}

func TestEnsurerSharesConcurrentAttempt(t *testing.T) {
	p := &fakeProvisioner{release: make(chan struct{})}
	e := NewEnsurer(p, "proxydb", "items")

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- e.Ensure(context.Background())
		}()
	}

	deadline := time.Now().Add(time.Second)
	for p.dbCalls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	close(p.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("ensure: %v", err)
		}
	}
	if got := p.dbCalls.Load(); got != 1 {
		t.Fatalf("expected concurrent callers to share one attempt, got %d", got)
	}
}

func TestEnsurerIgnoresCallerCancellation(t *testing.T) {
	var seen atomic.Value
	p := &ctxProvisioner{seen: &seen}
	e := NewEnsurer(p, "proxydb", "items")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.Ensure(ctx); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err, _ := seen.Load().(error); err != nil {
		t.Fatalf("shared attempt observed caller cancellation: %v", err)
	}
}

type ctxProvisioner struct {
	seen *atomic.Value
}

func (c *ctxProvisioner) CreateDatabaseIfNotExists(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		c.seen.Store(err)
	}
	return nil
}

func (c *ctxProvisioner) CreateCollectionIfNotExists(ctx context.Context, database, id string) error {
	return nil
}
