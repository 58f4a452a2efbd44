package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/muurk/logrelay/internal/logging"
)

// Pool is a fixed set of store connections. Checkout blocks on a weighted
// semaphore sized to the pool, never on polling.
type Pool struct {
	dialer Dialer
	size   int
	sem    *semaphore.Weighted

	mu     sync.Mutex
	idle   []Conn
	closed bool

	destroyOnce sync.Once
	destroyErr  error
}

// NewPool prepares the backend and opens size connections.
func NewPool(ctx context.Context, d Dialer, size int) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid pool size %d", size)
	}
	if err := d.Prepare(ctx, size); err != nil {
		return nil, fmt.Errorf("failed to prepare store: %w", err)
	}

	p := &Pool{
		dialer: d,
		size:   size,
		sem:    semaphore.NewWeighted(int64(size)),
		idle:   make([]Conn, 0, size),
	}
	for i := 0; i < size; i++ {
		c, err := d.Dial(ctx)
		if err != nil {
			_ = p.Destroy()
			return nil, fmt.Errorf("failed to open store connection %d/%d: %w", i+1, size, err)
		}
		p.idle = append(p.idle, c)
	}

	logging.Info("Store connection pool ready", zap.Int("size", size))
	return p, nil
}

// Size returns the configured number of connections.
func (p *Pool) Size() int {
	return p.size
}

// Acquire waits for a free connection or for ctx to end.
func (p *Pool) Acquire(ctx context.Context) (Conn, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return p.pop()
}

// TryAcquire returns a free connection or ErrPoolExhausted without waiting.
func (p *Pool) TryAcquire() (Conn, error) {
	if !p.sem.TryAcquire(1) {
		return nil, ErrPoolExhausted
	}
	return p.pop()
}

func (p *Pool) pop() (Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || len(p.idle) == 0 {
		p.sem.Release(1)
		return nil, ErrPoolClosed
	}
	c := p.idle[len(p.idle)-1]
	p.idle = p.idle[:len(p.idle)-1]
	return c, nil
}

// Release returns c to the pool. After Destroy, c is closed instead.
func (p *Pool) Release(c Conn) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = c.Close()
	} else {
		p.idle = append(p.idle, c)
		p.mu.Unlock()
	}
	p.sem.Release(1)
}

// With checks out a connection for the duration of fn. The connection goes
// back to the pool on every return path, panics included.
func (p *Pool) With(ctx context.Context, fn func(Conn) error) error {
	c, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(c)
	return fn(c)
}

// Destroy closes every idle connection and the backend. Connections checked
// out at the time are closed when released. Calling Destroy more than once
// returns the first result.
func (p *Pool) Destroy() error {
	p.destroyOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		idle := p.idle
		p.idle = nil
		p.mu.Unlock()

		var errs []error
		for _, c := range idle {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := p.dialer.Close(); err != nil {
			errs = append(errs, err)
		}
		p.destroyErr = errors.Join(errs...)
		logging.Info("Store connection pool destroyed", zap.Int("closed", len(idle)))
	})
	return p.destroyErr
}
