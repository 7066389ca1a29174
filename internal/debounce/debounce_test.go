package debounce

import (
	"sync"
	"testing"
	"time"
)

type item struct {
	key  string
	text string
}

type collector struct {
	mu      sync.Mutex
	batches [][]*item
}

func (c *collector) flush(items []*item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, items)
}

func (c *collector) snapshot() [][]*item {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]*item, len(c.batches))
	copy(out, c.batches)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDebouncer_CoalescesBurstIntoOneBatch(t *testing.T) {
	var c collector
	d := New[item](20*time.Millisecond, c.flush)
	defer d.Stop()

	for i := 0; i < 5; i++ {
		d.Enqueue(&item{text: "m"})
		time.Sleep(2 * time.Millisecond)
	}

	waitFor(t, func() bool { return len(c.snapshot()) == 1 })
	if got := len(c.snapshot()[0]); got != 5 {
		t.Fatalf("batch size = %d, want 5", got)
	}
}

func TestDebouncer_KeysFlushIndependently(t *testing.T) {
	var c collector
	d := New[item](15*time.Millisecond, c.flush, WithKeyFunc[item](func(i *item) string { return i.key }))
	defer d.Stop()

	d.Enqueue(&item{key: "a"})
	d.Enqueue(&item{key: "b"})
	d.Enqueue(&item{key: "a"})

	waitFor(t, func() bool { return len(c.snapshot()) == 2 })
	sizes := map[int]int{}
	for _, b := range c.snapshot() {
		sizes[len(b)]++
	}
	if sizes[2] != 1 || sizes[1] != 1 {
		t.Fatalf("batch sizes = %v, want one batch of 2 and one of 1", sizes)
	}
}

func TestDebouncer_ZeroWindowFlushesImmediately(t *testing.T) {
	var c collector
	d := New[item](0, c.flush)
	defer d.Stop()

	d.Enqueue(&item{text: "now"})
	if got := len(c.snapshot()); got != 1 {
		t.Fatalf("batches = %d, want immediate flush", got)
	}
	if d.Pending() != 0 {
		t.Fatal("nothing should be pending with a zero window")
	}
}

func TestDebouncer_ManualFlush(t *testing.T) {
	var c collector
	d := New[item](time.Hour, c.flush, WithKeyFunc[item](func(i *item) string { return i.key }))
	defer d.Stop()

	d.Enqueue(&item{key: "a"})
	d.Enqueue(&item{key: "a"})
	d.Flush("a")

	if got := len(c.snapshot()); got != 1 {
		t.Fatalf("batches = %d, want 1 after manual flush", got)
	}
	if d.Pending() != 0 {
		t.Fatalf("Pending = %d, want 0", d.Pending())
	}
}

func TestDebouncer_StopDropsPendingAndRefusesNew(t *testing.T) {
	var c collector
	d := New[item](time.Hour, c.flush)

	d.Enqueue(&item{text: "held"})
	d.Stop()
	d.Enqueue(&item{text: "late"})
	d.Flush("")

	time.Sleep(10 * time.Millisecond)
	if got := len(c.snapshot()); got != 0 {
		t.Fatalf("batches = %d, want 0 after Stop", got)
	}
}
