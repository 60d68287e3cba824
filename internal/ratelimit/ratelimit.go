// Package ratelimit implements a sliding-window request limiter keyed by
// arbitrary strings (typically purpose-prefixed client IPs, e.g. "login_1.2.3.4").
package ratelimit

import (
	"sync"
	"time"
)

// Policy is a deployment-time limit: at most Limit calls per Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

type Limiter struct {
	mu        sync.Mutex
	hitsByKey map[string][]time.Time
	maxKeys   int
	now       func() time.Time
}

func New() *Limiter {
	return &Limiter{
		hitsByKey: make(map[string][]time.Time),
		maxKeys:   5000,
		now:       time.Now,
	}
}

// Allow prunes entries older than the window, refuses without recording when
// the key is at its limit, and otherwise records the call and admits it. The
// check-then-record sequence holds the lock, so two concurrent calls cannot
// both take the last slot. Returns how long the caller should wait when
// refused.
func (l *Limiter) Allow(key string, p Policy) (bool, time.Duration) {
	now := l.now().UTC()
	threshold := now.Add(-p.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	hits := l.hitsByKey[key]
	kept := hits[:0]
	for _, hit := range hits {
		if hit.After(threshold) {
			kept = append(kept, hit)
		}
	}

	if len(kept) >= p.Limit {
		l.hitsByKey[key] = kept
		retryAfter := kept[0].Add(p.Window).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return false, retryAfter
	}

	l.hitsByKey[key] = append(kept, now)

	if len(l.hitsByKey) > l.maxKeys {
		l.sweep(threshold)
	}
	return true, 0
}

// sweep drops keys whose newest hit fell out of the window. Called with the
// lock held.
func (l *Limiter) sweep(threshold time.Time) {
	for key, hits := range l.hitsByKey {
		if len(hits) == 0 || hits[len(hits)-1].Before(threshold) {
			delete(l.hitsByKey, key)
		}
	}
}
