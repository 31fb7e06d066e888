package dispatch

import (
	"sync"
	"time"
)

// Limiter reasons
const (
	ReasonHourlyLimitExceeded = "hourly limit exceeded"
	ReasonDailyLimitExceeded  = "daily limit exceeded"
)

// Decision is the outcome of a limiter check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Limiter is a sliding-window admission guard per destination identifier.
// History lives in process memory only; the durable daily cap checked by the
// queue is the cross-restart ceiling. The map is owned exclusively by the
// Limiter, guarded by its mutex.
type Limiter struct {
	mu        sync.Mutex
	history   map[string][]time.Time
	hourlyCap int
	dailyCap  int
	now       func() time.Time
}

func NewLimiter(hourlyCap, dailyCap int) *Limiter {
	return &Limiter{
		history:   make(map[string][]time.Time),
		hourlyCap: hourlyCap,
		dailyCap:  dailyCap,
		now:       time.Now,
	}
}

// CanSend prunes entries older than 24h and checks the trailing 1h and 24h
// windows against their caps.
func (l *Limiter) CanSend(identifier string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	oneHourAgo := now.Add(-time.Hour)
	oneDayAgo := now.Add(-24 * time.Hour)

	recent := l.history[identifier][:0]
	for _, ts := range l.history[identifier] {
		if ts.After(oneDayAgo) {
			recent = append(recent, ts)
		}
	}
	l.history[identifier] = recent

	hourly := 0
	for _, ts := range recent {
		if ts.After(oneHourAgo) {
			hourly++
		}
	}
	if hourly >= l.hourlyCap {
		return Decision{Allowed: false, Reason: ReasonHourlyLimitExceeded}
	}
	if len(recent) >= l.dailyCap {
		return Decision{Allowed: false, Reason: ReasonDailyLimitExceeded}
	}

	return Decision{Allowed: true}
}

// Record appends the current timestamp after a successful send.
func (l *Limiter) Record(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history[identifier] = append(l.history[identifier], l.now())
}
