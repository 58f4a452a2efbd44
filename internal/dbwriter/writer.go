// Package dbwriter persists log entries from a queue with a fixed pool of
// worker goroutines and announces each stored entry to a Broadcaster.
package dbwriter

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/logrelay/internal/entry"
	"github.com/muurk/logrelay/internal/logging"
	"github.com/muurk/logrelay/internal/metrics"
	"github.com/muurk/logrelay/internal/store"
)

const (
	// DefaultWait bounds how long an idle worker sleeps before rechecking state.
	DefaultWait = time.Second
	// DefaultPersistTimeout bounds one checkout plus insert.
	DefaultPersistTimeout = 5 * time.Second
)

var ErrShutdown = errors.New("db writer is shut down")

// Persister runs fn with a checked-out store connection. *store.Pool
// implements it.
type Persister interface {
	With(ctx context.Context, fn func(store.Conn) error) error
}

// Broadcaster receives every entry after it was stored.
type Broadcaster interface {
	Publish(e entry.Entry)
}

type Options struct {
	Policy         Policy
	Wait           time.Duration
	PersistTimeout time.Duration
	Metrics        *metrics.Metrics
}

// Writer is the asynchronous persistence stage.
type Writer struct {
	store   Persister
	bcast   Broadcaster
	policy  Policy
	wait    time.Duration
	timeout time.Duration
	metrics *metrics.Metrics

	mu      sync.Mutex
	queue   []entry.Entry
	stopped bool

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup

	shutdownOnce sync.Once
}

// New builds a writer. bcast may be nil.
func New(p Persister, bcast Broadcaster, opts Options) *Writer {
	if opts.Policy == nil {
		opts.Policy = DefaultPolicy
	}
	if opts.Wait <= 0 {
		opts.Wait = DefaultWait
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = DefaultPersistTimeout
	}
	w := &Writer{
		store:   p,
		bcast:   bcast,
		policy:  opts.Policy,
		wait:    opts.Wait,
		timeout: opts.PersistTimeout,
		metrics: opts.Metrics,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	opts.Metrics.Gauge("writer_queue_depth", "Entries waiting to be persisted.", func() float64 {
		return float64(w.QueueSize())
	})
	return w
}

// AddTask queues e for persistence when the policy selects it. It reports
// whether the entry was queued.
func (w *Writer) AddTask(e entry.Entry) (bool, error) {
	if !w.policy.Persist(e) {
		return false, nil
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return false, ErrShutdown
	}
	w.queue = append(w.queue, e)
	w.mu.Unlock()

	w.signal()
	return true, nil
}

func (w *Writer) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// QueueSize returns the number of entries not yet taken by a worker.
func (w *Writer) QueueSize() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Start launches n workers. Entries queued while no worker runs stay queued
// until Shutdown drains them.
func (w *Writer) Start(n int) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	for i := 0; i < n; i++ {
		w.wg.Add(1)
		go w.worker(i)
	}
	logging.Info("DB writer started", zap.Int("workers", n))
}

func (w *Writer) pop() (entry.Entry, bool, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return entry.Entry{}, false, 0
	}
	e := w.queue[0]
	w.queue[0] = entry.Entry{}
	w.queue = w.queue[1:]
	return e, true, len(w.queue)
}

func (w *Writer) worker(id int) {
	defer w.wg.Done()

	timer := time.NewTimer(w.wait)
	defer timer.Stop()

	for {
		e, ok, left := w.pop()
		if ok {
			if left > 0 {
				w.signal()
			}
			w.persist(e)
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(w.wait)

		select {
		case <-w.stop:
			logging.Debug("DB writer worker exiting", zap.Int("worker", id))
			return
		case <-w.wake:
		case <-timer.C:
		}
	}
}

func (w *Writer) persist(e entry.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	err := w.store.With(ctx, func(c store.Conn) error {
		return c.Insert(ctx, e)
	})
	w.metrics.ObservePersist(err)
	if err != nil {
		logging.Error("Failed to persist log entry",
			zap.String("level", e.Level.String()),
			zap.String("source", e.Source()),
			zap.Error(err),
		)
		return
	}
	if w.bcast != nil {
		w.bcast.Publish(e)
	}
}

// Shutdown stops accepting work, waits for the workers to exit and then
// persists everything still queued before returning.
func (w *Writer) Shutdown() {
	w.shutdownOnce.Do(func() {
		w.mu.Lock()
		w.stopped = true
		w.mu.Unlock()

		close(w.stop)
		w.wg.Wait()

		drained := 0
		for {
			e, ok, _ := w.pop()
			if !ok {
				break
			}
			w.persist(e)
			drained++
		}
		logging.Info("DB writer stopped", zap.Int("drained", drained))
	})
}
