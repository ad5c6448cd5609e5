package monitor

import (
	"sync"
	"time"
)

// ContextCache keeps a short per-channel history of recent messages so the
// classifier can see what a flagged message was replying to.
type ContextCache struct {
	mu       sync.Mutex
	limit    int
	maxAge   time.Duration
	clock    Clock
	channels map[string][]Message
}

func NewContextCache(limit int, maxAge time.Duration) *ContextCache {
	if limit <= 0 {
		limit = 20
	}
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}
	return &ContextCache{
		limit:    limit,
		maxAge:   maxAge,
		clock:    realClock{},
		channels: make(map[string][]Message),
	}
}

func (c *ContextCache) WithClock(clock Clock) {
	c.clock = clock
}

func (c *ContextCache) Add(msg Message) {
	if msg.Content == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	history := c.channels[msg.ChannelID]
	history = append(history, msg)

	cutoff := c.clock.Now().Add(-c.maxAge)
	idx := 0
	for idx < len(history) && history[idx].Timestamp.Before(cutoff) {
		idx++
	}
	history = history[idx:]
	if len(history) > c.limit {
		history = history[len(history)-c.limit:]
	}
	c.channels[msg.ChannelID] = history
}

// Recent returns up to n messages preceding beforeID in the channel, oldest
// first. With an empty beforeID the newest n messages are returned.
func (c *ContextCache) Recent(channelID, beforeID string, n int) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	history := c.channels[channelID]
	if len(history) == 0 {
		return nil
	}

	if beforeID != "" {
		for i, msg := range history {
			if msg.ID == beforeID {
				history = history[:i]
				break
			}
		}
	}
	if len(history) > n {
		history = history[len(history)-n:]
	}

	out := make([]Message, len(history))
	copy(out, history)
	return out
}
