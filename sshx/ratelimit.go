// SPDX-License-Identifier: GPL-2.0-only

package sshx

import (
	"sync"
	"time"
)

// RateLimiter is a sliding-window counter. It protects remote hosts from
// runaway loops: a few connection attempts per five minutes, a modest
// command budget per minute.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	now    func() time.Time
	stamps []time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{limit: limit, window: window, now: time.Now}
}

// NewConnectLimiter returns the limiter applied to SSH connection attempts.
func NewConnectLimiter() *RateLimiter { return NewRateLimiter(3, 5*time.Minute) }

// NewCommandLimiter returns the limiter applied to remote commands.
func NewCommandLimiter() *RateLimiter { return NewRateLimiter(10, time.Minute) }

// Allow records an event and reports whether it fits in the window.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-r.window)
	kept := r.stamps[:0]
	for _, ts := range r.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	r.stamps = kept
	if len(r.stamps) >= r.limit {
		return false
	}
	r.stamps = append(r.stamps, now)
	return true
}

// Remaining reports how many events the current window still admits.
func (r *RateLimiter) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.window)
	active := 0
	for _, ts := range r.stamps {
		if ts.After(cutoff) {
			active++
		}
	}
	if active >= r.limit {
		return 0
	}
	return r.limit - active
}
