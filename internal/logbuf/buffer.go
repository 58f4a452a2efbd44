// Package logbuf batches log lines in memory and appends them to a file from a
// background goroutine.
//
// Appends land in a capacity-bounded current batch. A full batch is queued
// and a spare one swapped in, so appenders never wait on the disk. The flusher
// wakes when a batch fills or when FlushInterval passes, writes every queued
// batch plus the partial current one with a single open/append/close, and on
// Close performs a last synchronous flush. Lines reach the file once each, in
// append order.
package logbuf

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/logrelay/internal/logging"
)

const (
	DefaultCapacity      = 1024
	DefaultFlushInterval = 3 * time.Second
)

// Sink receives batches of lines in order.
type Sink interface {
	WriteLines(lines []string) error
}

type Options struct {
	Capacity      int
	FlushInterval time.Duration
	// OnFlush is called after each successful batch write with the number of lines.
	OnFlush func(lines int)
}

// Buffer is a double-buffered line sink.
type Buffer struct {
	sink     Sink
	capacity int
	interval time.Duration
	onFlush  func(int)

	mu      sync.Mutex
	current []string
	next    []string
	full    [][]string

	// flushMu serializes sink writes so batches cannot overtake each other.
	flushMu sync.Mutex

	signal    chan struct{}
	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	started   bool
	closeErr  error
}

func New(sink Sink, opts Options) *Buffer {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	return &Buffer{
		sink:     sink,
		capacity: opts.Capacity,
		interval: opts.FlushInterval,
		onFlush:  opts.OnFlush,
		current:  make([]string, 0, opts.Capacity),
		next:     make([]string, 0, opts.Capacity),
		signal:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background flusher. It is safe to call more than once.
func (b *Buffer) Start() {
	b.startOnce.Do(func() {
		b.mu.Lock()
		b.started = true
		b.mu.Unlock()
		go b.run()
	})
}

// Append queues one line. It never touches the sink.
func (b *Buffer) Append(line string) {
	wake := false

	b.mu.Lock()
	if len(b.current) >= b.capacity {
		b.full = append(b.full, b.current)
		if b.next != nil {
			b.current = b.next
			b.next = nil
		} else {
			b.current = make([]string, 0, b.capacity)
		}
		wake = true
	}
	b.current = append(b.current, line)
	b.mu.Unlock()

	if wake {
		select {
		case b.signal <- struct{}{}:
		default:
		}
	}
}

// Pending returns the number of lines not yet handed to the sink.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.current)
	for _, batch := range b.full {
		n += len(batch)
	}
	return n
}

// Flush writes everything appended so far and returns when the sink has it.
func (b *Buffer) Flush() error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	batches := b.full
	b.full = nil
	if len(b.current) > 0 {
		batches = append(batches, b.current)
		b.current = make([]string, 0, b.capacity)
	}
	b.mu.Unlock()

	if len(batches) == 0 {
		return nil
	}

	total := 0
	for _, batch := range batches {
		total += len(batch)
	}
	lines := batches[0]
	if len(batches) > 1 {
		lines = make([]string, 0, total)
		for _, batch := range batches {
			lines = append(lines, batch...)
		}
	}

	if err := b.sink.WriteLines(lines); err != nil {
		// Requeue ahead of anything appended meanwhile so order holds on retry.
		b.mu.Lock()
		b.full = append(batches, b.full...)
		b.mu.Unlock()
		return err
	}
	if b.onFlush != nil {
		b.onFlush(total)
	}

	b.mu.Lock()
	if b.next == nil {
		b.next = batches[len(batches)-1][:0]
	}
	b.mu.Unlock()
	return nil
}

func (b *Buffer) run() {
	defer close(b.done)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-b.signal:
		case <-ticker.C:
		}
		if err := b.Flush(); err != nil {
			logging.Error("Failed to flush log buffer", zap.Error(err))
		}
	}
}

// Close stops the flusher and writes whatever is still buffered. Appends made
// after Close are only written by a later Flush.
func (b *Buffer) Close() error {
	b.closeOnce.Do(func() {
		close(b.stop)
		b.mu.Lock()
		started := b.started
		b.mu.Unlock()
		if started {
			<-b.done
		}
		b.closeErr = b.Flush()
		if b.closeErr != nil {
			b.closeErr = errors.Join(errors.New("final log buffer flush failed"), b.closeErr)
		}
	})
	return b.closeErr
}
