package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"affiliate-tracking/internal/models"
)

type countingLoader struct {
	calls  atomic.Int32
	tenant models.Tenant
	err    error
	delay  time.Duration
}

func (l *countingLoader) GetTenant(ctx context.Context, id string) (models.Tenant, error) {
	l.calls.Add(1)
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	if l.err != nil {
		return models.Tenant{}, l.err
	}
	t := l.tenant
	t.ID = id
	return t, nil
}

func TestInMemoryCache_Expiry(t *testing.T) {
	c := NewInMemoryCache()
	now := time.Date(2025, 10, 21, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Failed to set: %v", err)
	}
	if got, err := c.Get(ctx, "k"); err != nil || string(got) != "v" {
		t.Fatalf("Expected hit, got %q %v", got, err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected expired entry to miss, got %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("Expected expired entry to be evicted")
	}
}

func TestTenantCache_ReadThrough(t *testing.T) {
	loader := &countingLoader{tenant: models.Tenant{
		WindowDays:            30,
		DefaultCommissionType: models.CommissionPercentage,
		DefaultCommissionRate: decimal.NewFromInt(10),
	}}
	tc := NewTenantCache(loader, NewInMemoryCache(), time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := tc.GetTenant(ctx, "t1")
		if err != nil {
			t.Fatalf("Failed to get tenant: %v", err)
		}
		if got.ID != "t1" || got.WindowDays != 30 || !got.DefaultCommissionRate.Equal(decimal.NewFromInt(10)) {
			t.Errorf("Unexpected tenant: %+v", got)
		}
	}
	if n := loader.calls.Load(); n != 1 {
		t.Errorf("Expected 1 load, got %d", n)
	}

	if err := tc.Invalidate(ctx, "t1"); err != nil {
		t.Fatalf("Failed to invalidate: %v", err)
	}
	if _, err := tc.GetTenant(ctx, "t1"); err != nil {
		t.Fatalf("Failed to get tenant: %v", err)
	}
	if n := loader.calls.Load(); n != 2 {
		t.Errorf("Expected reload after invalidate, got %d loads", n)
	}
}

func TestTenantCache_CollapsesConcurrentMisses(t *testing.T) {
	loader := &countingLoader{delay: 50 * time.Millisecond}
	tc := NewTenantCache(loader, NewInMemoryCache(), time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tc.GetTenant(context.Background(), "t1"); err != nil {
				t.Errorf("Failed to get tenant: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := loader.calls.Load(); n != 1 {
		t.Errorf("Expected concurrent misses to share one load, got %d", n)
	}
}

func TestTenantCache_DoesNotCacheErrors(t *testing.T) {
	loader := &countingLoader{err: errors.New("boom")}
	tc := NewTenantCache(loader, NewInMemoryCache(), time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := tc.GetTenant(context.Background(), "t1"); err == nil {
			t.Fatal("Expected loader error")
		}
	}
	if n := loader.calls.Load(); n != 2 {
		t.Errorf("Expected every miss to hit the loader, got %d", n)
	}
}

type blockingLoader struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (l *blockingLoader) GetTenant(ctx context.Context, id string) (models.Tenant, error) {
	if l.calls.Add(1) == 1 {
		close(l.started)
	}
	select {
	case <-l.release:
		return models.Tenant{ID: id, WindowDays: 30}, nil
	case <-ctx.Done():
		return models.Tenant{}, ctx.Err()
	}
}

func TestTenantCache_CancelledCallerDoesNotFailOthers(t *testing.T) {
	loader := &blockingLoader{started: make(chan struct{}), release: make(chan struct{})}
	tc := NewTenantCache(loader, NewInMemoryCache(), time.Minute)

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := tc.GetTenant(firstCtx, "t1")
		firstErr <- err
	}()
	<-loader.started

	type result struct {
		tenant models.Tenant
		err    error
	}
	second := make(chan result, 1)
	go func() {
		got, err := tc.GetTenant(context.Background(), "t1")
		second <- result{got, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected cancelled caller to get context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Cancelled caller did not return")
	}

	close(loader.release)
	select {
	case res := <-second:
		if res.err != nil {
			t.Fatalf("Expected waiting caller to succeed, got %v", res.err)
		}
		if res.tenant.ID != "t1" || res.tenant.WindowDays != 30 {
			t.Errorf("Unexpected tenant: %+v", res.tenant)
		}
	case <-time.After(time.Second):
		t.Fatal("Waiting caller did not return")
	}

	if n := loader.calls.Load(); n != 1 {
		t.Errorf("Expected one shared load, got %d", n)
	}
	if got, err := tc.GetTenant(context.Background(), "t1"); err != nil || got.ID != "t1" {
		t.Errorf("Expected loaded tenant to be cached, got %+v %v", got, err)
	}
}
