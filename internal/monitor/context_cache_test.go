package monitor

import (
	"strconv"
	"testing"
	"time"
)

func cacheMessage(id, channelID string, ts time.Time) Message {
	return Message{ID: id, ChannelID: channelID, AuthorID: "u1", Content: "content " + id, Timestamp: ts}
}

func TestContextCacheCapsPerChannelHistory(t *testing.T) {
	cache := NewContextCache(3, time.Hour)
	clock := newFakeClock()
	cache.WithClock(clock)

	for i := 0; i < 5; i++ {
		cache.Add(cacheMessage("m"+strconv.Itoa(i), "c1", clock.Now()))
	}

	recent := cache.Recent("c1", "", 10)
	if len(recent) != 3 {
		t.Fatalf("expected history capped at 3, got %d", len(recent))
	}
	if recent[0].ID != "m2" || recent[2].ID != "m4" {
		t.Fatalf("expected oldest entries evicted first, got %q..%q", recent[0].ID, recent[2].ID)
	}
}

func TestContextCacheEvictsByAge(t *testing.T) {
	cache := NewContextCache(20, 10*time.Minute)
	clock := newFakeClock()
	cache.WithClock(clock)

	cache.Add(cacheMessage("old", "c1", clock.Now()))
	clock.Advance(11 * time.Minute)
	cache.Add(cacheMessage("new", "c1", clock.Now()))

	recent := cache.Recent("c1", "", 10)
	if len(recent) != 1 || recent[0].ID != "new" {
		t.Fatalf("expected only the fresh message, got %v", recent)
	}
}

func TestContextCacheRecentBefore(t *testing.T) {
	cache := NewContextCache(20, time.Hour)
	clock := newFakeClock()
	cache.WithClock(clock)

	for i := 0; i < 5; i++ {
		cache.Add(cacheMessage("m"+strconv.Itoa(i), "c1", clock.Now()))
	}

	recent := cache.Recent("c1", "m3", 2)
	if len(recent) != 2 {
		t.Fatalf("expected 2 messages before m3, got %d", len(recent))
	}
	if recent[0].ID != "m1" || recent[1].ID != "m2" {
		t.Fatalf("expected m1,m2 oldest-first, got %q,%q", recent[0].ID, recent[1].ID)
	}
}

func TestContextCacheSkipsEmptyContent(t *testing.T) {
	cache := NewContextCache(20, time.Hour)
	cache.Add(Message{ID: "m1", ChannelID: "c1"})
	if got := cache.Recent("c1", "", 10); len(got) != 0 {
		t.Fatalf("attachment-only messages carry no context, got %v", got)
	}
}

func TestContextCacheChannelsAreIsolated(t *testing.T) {
	cache := NewContextCache(20, time.Hour)
	clock := newFakeClock()
	cache.WithClock(clock)

	cache.Add(cacheMessage("a", "c1", clock.Now()))
	cache.Add(cacheMessage("b", "c2", clock.Now()))

	if got := cache.Recent("c1", "", 10); len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("unexpected c1 history %v", got)
	}
	if got := cache.Recent("c2", "", 10); len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("unexpected c2 history %v", got)
	}
}
