// Package debounce coalesces bursts of items into batched flushes. Items
// are grouped by key; each key's batch flushes once the key has been
// quiet for the configured window.
package debounce

import (
	"sync"
	"time"
)

// Debouncer batches items per key and flushes a key's batch after its
// window elapses without new items. A zero window flushes every item
// immediately.
type Debouncer[T any] struct {
	window time.Duration
	flush  func(items []*T)
	keyFn  func(item *T) string

	mu      sync.Mutex
	pending map[string]*batch[T]
	stopped bool
}

type batch[T any] struct {
	items []*T
	timer *time.Timer
}

// Option configures a Debouncer.
type Option[T any] func(*Debouncer[T])

// WithKeyFunc groups items by the returned key. Without it, all items
// share one batch.
func WithKeyFunc[T any](fn func(item *T) string) Option[T] {
	return func(d *Debouncer[T]) { d.keyFn = fn }
}

// New constructs a Debouncer that calls flush with each quiesced batch.
// flush runs outside the debouncer's lock, on the timer's goroutine (or
// the caller's, when the window is zero).
func New[T any](window time.Duration, flush func(items []*T), opts ...Option[T]) *Debouncer[T] {
	if window < 0 {
		window = 0
	}
	d := &Debouncer[T]{
		window:  window,
		flush:   flush,
		keyFn:   func(*T) string { return "" },
		pending: make(map[string]*batch[T]),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Enqueue adds item to its key's batch and (re)arms the key's flush
// timer. Each new item pushes the flush out by a full window, so a
// steady burst produces one flush after the burst ends.
func (d *Debouncer[T]) Enqueue(item *T) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}

	if d.window == 0 {
		d.mu.Unlock()
		d.flush([]*T{item})
		return
	}

	key := d.keyFn(item)
	b, ok := d.pending[key]
	if !ok {
		b = &batch[T]{}
		d.pending[key] = b
	}
	b.items = append(b.items, item)
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(d.window, func() { d.Flush(key) })
	d.mu.Unlock()
}

// Flush immediately flushes the batch for key, if any.
func (d *Debouncer[T]) Flush(key string) {
	d.mu.Lock()
	b, ok := d.pending[key]
	if !ok || d.stopped {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	if b.timer != nil {
		b.timer.Stop()
	}
	items := b.items
	d.mu.Unlock()

	if len(items) > 0 {
		d.flush(items)
	}
}

// Stop cancels every pending batch without flushing and refuses further
// items.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for key, b := range d.pending {
		if b.timer != nil {
			b.timer.Stop()
		}
		delete(d.pending, key)
	}
}

// Pending reports the number of items waiting across all keys.
func (d *Debouncer[T]) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, b := range d.pending {
		n += len(b.items)
	}
	return n
}
