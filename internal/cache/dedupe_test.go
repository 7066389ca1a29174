package cache

import (
	"testing"
	"time"
)

func TestCheck_FirstSightingIsNotDuplicate(t *testing.T) {
	c := NewDedupeCache(DedupeCacheOptions{TTL: time.Minute, MaxSize: 10})

	if c.Check("k") {
		t.Fatal("first sighting should not be a duplicate")
	}
	if !c.Check("k") {
		t.Fatal("second sighting should be a duplicate")
	}
}

func TestCheckAt_ExpiredEntryCountsAsUnseen(t *testing.T) {
	c := NewDedupeCache(DedupeCacheOptions{TTL: time.Second, MaxSize: 10})
	base := time.Now()

	c.CheckAt("k", base)
	if c.CheckAt("k", base.Add(2*time.Second)) {
		t.Fatal("entry past its TTL should count as unseen")
	}
}

func TestCheckAt_DuplicateRefreshesTTL(t *testing.T) {
	c := NewDedupeCache(DedupeCacheOptions{TTL: time.Second, MaxSize: 10})
	base := time.Now()

	c.CheckAt("k", base)
	c.CheckAt("k", base.Add(900*time.Millisecond)) // duplicate, refreshes
	if !c.CheckAt("k", base.Add(1800*time.Millisecond)) {
		t.Fatal("refreshed entry should still be a duplicate within the new window")
	}
}

func TestCheck_EmptyKeyNeverDuplicate(t *testing.T) {
	c := NewDedupeCache(DedupeCacheOptions{TTL: time.Minute, MaxSize: 10})
	if c.Check("") || c.Check("") {
		t.Fatal("empty key must never be a duplicate")
	}
	if c.Size() != 0 {
		t.Fatal("empty keys must not be stored")
	}
}

func TestMaxSize_EvictsOldestFirst(t *testing.T) {
	c := NewDedupeCache(DedupeCacheOptions{TTL: time.Hour, MaxSize: 2})
	base := time.Now()

	c.CheckAt("a", base)
	c.CheckAt("b", base.Add(time.Millisecond))
	c.CheckAt("c", base.Add(2*time.Millisecond))

	if c.Contains("a") {
		t.Fatal("oldest key should have been evicted")
	}
	if !c.Contains("b") || !c.Contains("c") {
		t.Fatal("newer keys should survive eviction")
	}
}

func TestZeroTTL_NeverExpires(t *testing.T) {
	c := NewDedupeCache(DedupeCacheOptions{TTL: 0, MaxSize: 10})
	base := time.Now()

	c.CheckAt("k", base)
	if !c.CheckAt("k", base.Add(24*time.Hour)) {
		t.Fatal("zero TTL should never expire entries")
	}
}

func TestRemoveAndClear(t *testing.T) {
	c := NewDedupeCache(DedupeCacheOptions{TTL: time.Minute, MaxSize: 10})
	c.Check("a")
	c.Check("b")

	c.Remove("a")
	if c.Contains("a") {
		t.Fatal("removed key should be forgotten")
	}

	c.Clear()
	if c.Size() != 0 {
		t.Fatalf("Size after Clear = %d", c.Size())
	}
}
