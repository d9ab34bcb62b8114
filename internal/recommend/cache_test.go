package recommend

import (
	"fmt"
	"slices"
	"testing"
	"time"
)

type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time {
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Unix(1700000000, 0).UTC()}
}

func seedEntry(t *testing.T, cache *Cache, userID string, bookIDs []string) {
	t.Helper()
	if _, stored := cache.Commit(userID, cache.Reserve(userID), bookIDs, SourceBasic); !stored {
		t.Fatalf("expected entry for %s to be stored", userID)
	}
}

func TestCacheEntriesExpireAfterTTL(t *testing.T) {
	clock := newManualClock()
	cache := NewCache(CacheConfig{Clock: clock.Now})

	seedEntry(t, cache, "user-1", []string{"b-1", "b-2"})

	clock.Advance(DefaultCacheTTL - time.Second)
	entry, ok := cache.Get("user-1")
	if !ok {
		t.Fatalf("expected fresh entry just before the ttl")
	}
	if !slices.Equal(entry.BookIDs, []string{"b-1", "b-2"}) || entry.Source != SourceBasic {
		t.Fatalf("unexpected entry %#v", entry)
	}

	clock.Advance(time.Second)
	if _, ok := cache.Get("user-1"); ok {
		t.Fatalf("expected entry to expire at the ttl")
	}
	if cache.Len() != 0 {
		t.Fatalf("expected expired entry to be dropped, len=%d", cache.Len())
	}
}

func TestCacheReturnsCopies(t *testing.T) {
	cache := NewCache(CacheConfig{})
	ids := []string{"b-1"}
	seedEntry(t, cache, "user-1", ids)
	ids[0] = "mutated"

	entry, ok := cache.Get("user-1")
	if !ok {
		t.Fatalf("expected entry")
	}
	entry.BookIDs[0] = "mutated-again"

	again, _ := cache.Get("user-1")
	if again.BookIDs[0] != "b-1" {
		t.Fatalf("cache entry leaked a shared slice: %v", again.BookIDs)
	}
}

func TestCacheClear(t *testing.T) {
	cache := NewCache(CacheConfig{})
	seedEntry(t, cache, "user-1", []string{"a"})
	seedEntry(t, cache, "user-2", []string{"b"})

	cache.Clear("user-1")
	if _, ok := cache.Get("user-1"); ok {
		t.Fatalf("expected user-1 to be cleared")
	}
	if _, ok := cache.Get("user-2"); !ok {
		t.Fatalf("expected user-2 to survive a targeted clear")
	}

	cache.Clear("absent")
	cache.ClearAll()
	if cache.Len() != 0 {
		t.Fatalf("expected empty cache, len=%d", cache.Len())
	}
}

func TestCacheCapacityEvictsLeastRecentlyUsed(t *testing.T) {
	cache := NewCache(CacheConfig{Capacity: 2})
	seedEntry(t, cache, "user-a", []string{"1"})
	seedEntry(t, cache, "user-b", []string{"2"})
	if _, ok := cache.Get("user-a"); !ok {
		t.Fatalf("expected user-a")
	}
	seedEntry(t, cache, "user-c", []string{"3"})

	if cache.Len() != 2 {
		t.Fatalf("expected capacity to hold, len=%d", cache.Len())
	}
	if _, ok := cache.Get("user-b"); ok {
		t.Fatalf("expected least recently used user-b to be evicted")
	}
	if _, ok := cache.Get("user-a"); !ok {
		t.Fatalf("expected recently read user-a to survive")
	}
}

func TestCacheWithoutCapacityIsUnbounded(t *testing.T) {
	cache := NewCache(CacheConfig{})
	for i := 0; i < 500; i++ {
		seedEntry(t, cache, fmt.Sprintf("user-%d", i), []string{"x"})
	}
	if cache.Len() != 500 {
		t.Fatalf("expected 500 entries, got %d", cache.Len())
	}
}

func TestCacheCommitHonorsReservation(t *testing.T) {
	cache := NewCache(CacheConfig{})

	reservation := cache.Reserve("user-1")
	entry, stored := cache.Commit("user-1", reservation, []string{"a"}, SourceBasic)
	if !stored || cache.Len() != 1 {
		t.Fatalf("expected current reservation to be stored, stored=%v len=%d", stored, cache.Len())
	}
	if !slices.Equal(entry.BookIDs, []string{"a"}) {
		t.Fatalf("unexpected entry %#v", entry)
	}

	if _, stored := cache.Commit("user-1", reservation, []string{"b"}, SourceBasic); stored {
		t.Fatalf("expected a reservation to be usable once")
	}
	cached, _ := cache.Get("user-1")
	if !slices.Equal(cached.BookIDs, []string{"a"}) {
		t.Fatalf("expected stored entry to be untouched, got %v", cached.BookIDs)
	}
}

func TestCacheClearVoidsReservation(t *testing.T) {
	testCases := []struct {
		name  string
		clear func(*Cache)
	}{
		{name: "clear user", clear: func(cache *Cache) { cache.Clear("user-1") }},
		{name: "clear all", clear: func(cache *Cache) { cache.ClearAll() }},
		{name: "superseded", clear: func(cache *Cache) { cache.Reserve("user-1") }},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			cache := NewCache(CacheConfig{})
			reservation := cache.Reserve("user-1")
			testCase.clear(cache)

			entry, stored := cache.Commit("user-1", reservation, []string{"stale"}, SourceBasic)
			if stored {
				t.Fatalf("expected voided reservation not to be stored")
			}
			if !slices.Equal(entry.BookIDs, []string{"stale"}) || entry.Source != SourceBasic {
				t.Fatalf("expected computed entry to be returned, got %#v", entry)
			}
			if _, ok := cache.Get("user-1"); ok {
				t.Fatalf("expected no cached entry after invalidation")
			}
		})
	}
}

func TestCacheReleaseOnlyDropsOwnReservation(t *testing.T) {
	cache := NewCache(CacheConfig{})
	stale := cache.Reserve("user-1")
	current := cache.Reserve("user-1")

	cache.Release("user-1", stale)
	if _, stored := cache.Commit("user-1", current, []string{"a"}, SourceBasic); !stored {
		t.Fatalf("expected releasing an older reservation to keep the current one")
	}

	abandoned := cache.Reserve("user-2")
	cache.Release("user-2", abandoned)
	if _, stored := cache.Commit("user-2", abandoned, []string{"b"}, SourceBasic); stored {
		t.Fatalf("expected a released reservation not to be stored")
	}
}
