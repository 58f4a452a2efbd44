package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestPool(t *testing.T, size int) (*Pool, *Memory) {
	t.Helper()
	mem := NewMemory()
	p, err := NewPool(context.Background(), mem, size)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Destroy() })
	return p, mem
}

func TestPoolAcquireBlocksAtCapacity(t *testing.T) {
	const size = 3
	p, _ := newTestPool(t, size)
	ctx := context.Background()

	held := make([]Conn, 0, size)
	for i := 0; i < size; i++ {
		done := make(chan Conn, 1)
		go func() {
			c, err := p.Acquire(ctx)
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
			}
			done <- c
		}()
		select {
		case c := <-done:
			held = append(held, c)
		case <-time.After(time.Second):
			t.Fatalf("acquire %d of %d blocked", i+1, size)
		}
	}

	extra := make(chan Conn, 1)
	go func() {
		c, err := p.Acquire(ctx)
		if err != nil {
			t.Errorf("Acquire() error = %v", err)
		}
		extra <- c
	}()

	select {
	case <-extra:
		t.Fatal("acquire beyond pool size did not block")
	case <-time.After(100 * time.Millisecond):
	}

	p.Release(held[0])
	select {
	case c := <-extra:
		p.Release(c)
	case <-time.After(time.Second):
		t.Fatal("blocked acquire was not woken by Release")
	}
	for _, c := range held[1:] {
		p.Release(c)
	}
}

func TestPoolTryAcquireExhausted(t *testing.T) {
	p, _ := newTestPool(t, 1)
	c, err := p.TryAcquire()
	if err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	if _, err := p.TryAcquire(); !errors.Is(err, ErrPoolExhausted) {
		t.Errorf("second TryAcquire() error = %v, want ErrPoolExhausted", err)
	}
	p.Release(c)
	c, err = p.TryAcquire()
	if err != nil {
		t.Fatalf("TryAcquire() after Release error = %v", err)
	}
	p.Release(c)
}

func TestPoolAcquireHonorsContext(t *testing.T) {
	p, _ := newTestPool(t, 1)
	c, _ := p.Acquire(context.Background())
	defer p.Release(c)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire() error = %v, want deadline exceeded", err)
	}
}

func TestPoolNeverExceedsSize(t *testing.T) {
	const size = 4
	p, _ := newTestPool(t, size)

	var outstanding, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				err := p.With(context.Background(), func(Conn) error {
					n := outstanding.Add(1)
					for {
						old := peak.Load()
						if n <= old || peak.CompareAndSwap(old, n) {
							break
						}
					}
					time.Sleep(10 * time.Microsecond)
					outstanding.Add(-1)
					return nil
				})
				if err != nil {
					t.Errorf("With() error = %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if got := peak.Load(); got > size {
		t.Errorf("peak outstanding = %d, exceeds size %d", got, size)
	}
}

func TestPoolWithReleasesOnPanic(t *testing.T) {
	p, _ := newTestPool(t, 1)

	func() {
		defer func() { _ = recover() }()
		_ = p.With(context.Background(), func(Conn) error { panic("boom") })
	}()

	c, err := p.TryAcquire()
	if err != nil {
		t.Fatalf("connection not released after panic: %v", err)
	}
	p.Release(c)
}

func TestPoolDestroyIdempotent(t *testing.T) {
	mem := NewMemory()
	p, err := NewPool(context.Background(), mem, 2)
	if err != nil {
		t.Fatal(err)
	}
	held, _ := p.Acquire(context.Background())

	if err := p.Destroy(); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if err := p.Destroy(); err != nil {
		t.Fatalf("second Destroy() error = %v", err)
	}
	if mem.Open() != 1 {
		t.Errorf("open connections = %d, want 1 (the checked-out one)", mem.Open())
	}

	p.Release(held)
	if mem.Open() != 0 {
		t.Errorf("released connection was not closed after Destroy")
	}
	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Acquire() after Destroy error = %v, want ErrPoolClosed", err)
	}
}

func TestNewPoolRejectsBadSize(t *testing.T) {
	if _, err := NewPool(context.Background(), NewMemory(), 0); err == nil {
		t.Error("expected error for size 0")
	}
}
