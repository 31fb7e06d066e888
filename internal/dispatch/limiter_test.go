package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterHourlyCap(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewLimiter(3, 50)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		d := l.CanSend("+4915112345678")
		require.True(t, d.Allowed)
		l.Record("+4915112345678")
	}

	d := l.CanSend("+4915112345678")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonHourlyLimitExceeded, d.Reason)

	// another destination is unaffected
	assert.True(t, l.CanSend("+4915187654321").Allowed)

	// the window slides: an hour later the same destination is free again
	now = now.Add(61 * time.Minute)
	assert.True(t, l.CanSend("+4915112345678").Allowed)
}

func TestLimiterDailyCap(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	l := NewLimiter(100, 5)
	l.now = func() time.Time { return now }

	// spread sends so the hourly cap never trips
	for i := 0; i < 5; i++ {
		require.True(t, l.CanSend("a@b.test").Allowed)
		l.Record("a@b.test")
		now = now.Add(2 * time.Hour)
	}

	d := l.CanSend("a@b.test")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDailyLimitExceeded, d.Reason)

	// entries older than 24h are pruned
	now = now.Add(24 * time.Hour)
	assert.True(t, l.CanSend("a@b.test").Allowed)
}
