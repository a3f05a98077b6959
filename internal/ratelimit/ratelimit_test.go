package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowPerKeyBurst(t *testing.T) {
	l := New(1, 2, time.Minute)
	defer l.Close()

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	assert.True(t, l.Allow("b"), "keys have independent buckets")
	assert.Equal(t, 2, l.Len())

	l.Reset("a")
	assert.True(t, l.Allow("a"))
}

func TestEvictIdle(t *testing.T) {
	l := New(1, 1, time.Minute)
	defer l.Close()
	l.Allow("old")
	l.Allow("new")

	l.mu.Lock()
	l.entries["old"].lastSeen = time.Now().Add(-2 * time.Minute)
	l.mu.Unlock()

	assert.Equal(t, 1, l.evictIdle(time.Now()))
	assert.Equal(t, 1, l.Len())
}

func TestCloseIsIdempotent(t *testing.T) {
	l := New(1, 1, time.Minute)
	l.Close()
	l.Close()
}
