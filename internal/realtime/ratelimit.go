package realtime

import (
	"sync"
	"time"
)

// rateLimiter is a sliding-window limiter over inbound events, counted per
// user and across the whole server.
type rateLimiter struct {
	mu        sync.Mutex
	perUser   map[string][]time.Time
	global    []time.Time
	userMax   int
	globalMax int
	window    time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// newRateLimiter returns nil when both limits are disabled.
func newRateLimiter(perUserPerMin, globalPerMin int) *rateLimiter {
	if perUserPerMin <= 0 && globalPerMin <= 0 {
		return nil
	}
	return &rateLimiter{
		perUser:   make(map[string][]time.Time),
		userMax:   perUserPerMin,
		globalMax: globalPerMin,
		window:    time.Minute,
		now:       time.Now,
	}
}

// Allow records one event for userID if both windows have room.
// A nil limiter allows everything.
func (r *rateLimiter) Allow(userID string) bool {
	if r == nil {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-r.window)
	if now.Sub(r.lastSweep) >= r.window {
		r.sweep(cutoff)
		r.lastSweep = now
	}

	if r.globalMax > 0 {
		r.global = pruneOld(r.global, cutoff)
		if len(r.global) >= r.globalMax {
			return false
		}
	}
	if r.userMax > 0 {
		r.perUser[userID] = pruneOld(r.perUser[userID], cutoff)
		if len(r.perUser[userID]) >= r.userMax {
			return false
		}
		r.perUser[userID] = append(r.perUser[userID], now)
	}
	if r.globalMax > 0 {
		r.global = append(r.global, now)
	}
	return true
}

// sweep drops users whose window has emptied. Windows outlive the
// connection, so a reconnect does not reset the quota.
func (r *rateLimiter) sweep(cutoff time.Time) {
	for userID, ts := range r.perUser {
		if ts = pruneOld(ts, cutoff); len(ts) == 0 {
			delete(r.perUser, userID)
		} else {
			r.perUser[userID] = ts
		}
	}
}

func pruneOld(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0:0], ts[i:]...)
}
