package utils

import (
	"context"
	"sync"
	"time"
)

// RateLimiter admits at most limitPerMinute events per key over a sliding
// 60-second window. Each key keeps a deque of admit instants on the
// monotonic clock; waiters on the same key serialize on the key's lock, so
// concurrent callers are admitted one at a time in lock-acquisition order.
// State is in-memory only and resets on restart.
type RateLimiter struct {
	limitPerMinute int

	mu     sync.Mutex
	events map[string][]time.Time
	locks  map[string]*sync.Mutex
}

const rateWindow = 60 * time.Second

// NewRateLimiter creates a limiter; limits below 1 are floored to 1.
func NewRateLimiter(limitPerMinute int) *RateLimiter {
	if limitPerMinute < 1 {
		limitPerMinute = 1
	}
	return &RateLimiter{
		limitPerMinute: limitPerMinute,
		events:         make(map[string][]time.Time),
		locks:          make(map[string]*sync.Mutex),
	}
}

// Wait blocks until the key may admit one more event or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context, key string) error {
	lock := r.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()
	events := r.trim(key, now)
	if len(events) >= r.limitPerMinute {
		delay := rateWindow - now.Sub(events[0])
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
		r.trim(key, time.Now())
	}

	r.mu.Lock()
	r.events[key] = append(r.events[key], time.Now())
	r.mu.Unlock()
	return nil
}

func (r *RateLimiter) keyLock(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[key] = lock
	}
	return lock
}

// trim drops admit instants that fell out of the window and returns the
// remaining deque.
func (r *RateLimiter) trim(key string, now time.Time) []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	events := r.events[key]
	for len(events) > 0 && now.Sub(events[0]) >= rateWindow {
		events = events[1:]
	}
	r.events[key] = events
	return events
}
