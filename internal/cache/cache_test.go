package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetGetExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New[string]()
	c.now = func() time.Time { return now }

	c.Set("a", "alpha", time.Minute)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "alpha", v)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCleanup(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New[int]()
	c.now = func() time.Time { return now }

	c.Set("short", 1, time.Second)
	c.Set("long", 2, time.Hour)
	now = now.Add(time.Minute)

	c.cleanup()
	assert.Equal(t, 1, c.Len())
	v, ok := c.Get("long")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestGetKeepsEntryRefreshedDuringExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New[string]()
	c.now = func() time.Time { return now }
	c.Set("k", "stale", time.Second)

	now = now.Add(time.Hour)
	armed := true
	c.now = func() time.Time {
		// first clock read in Get happens between its read and write locks
		if armed {
			armed = false
			c.Set("k", "fresh", time.Minute)
		}
		return now
	}

	_, ok := c.Get("k")
	assert.False(t, ok)

	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "fresh", v)
}
