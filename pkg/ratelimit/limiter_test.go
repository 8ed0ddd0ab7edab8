package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fixedClock(l *Limiter, t *time.Time) {
	l.now = func() time.Time { return *t }
}

func TestLimiter_BurstThenDeny(t *testing.T) {
	l := NewLimiter(Config{PerMinute: 5, Burst: 3})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fixedClock(l, &now)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("10.0.0.1"), "attempt %d", i)
	}
	assert.False(t, l.Allow("10.0.0.1"))

	// Other keys have their own bucket.
	assert.True(t, l.Allow("10.0.0.2"))
}

func TestLimiter_Refill(t *testing.T) {
	l := NewLimiter(Config{PerMinute: 6, Burst: 1})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fixedClock(l, &now)

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	now = now.Add(10 * time.Second)
	assert.True(t, l.Allow("a"))
}

func TestLimiter_Disabled(t *testing.T) {
	l := NewLimiter(Config{})
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("a"))
	}
	assert.Zero(t, l.Len())
}

func TestLimiter_ResetAndCleanup(t *testing.T) {
	l := NewLimiter(DefaultLoginConfig())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fixedClock(l, &now)

	l.Allow("a")
	l.Allow("b")
	l.Reset("a")
	assert.Equal(t, 1, l.Len())

	now = now.Add(time.Hour)
	l.Allow("c")
	l.Cleanup(30 * time.Minute)
	assert.Equal(t, 1, l.Len())
}
