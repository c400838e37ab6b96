// Package ratelimit implements a sliding-window counter check over persisted
// attempt state. The caller owns the storage of the counters; this package only
// decides whether the next attempt is allowed.
package ratelimit

import "time"

// Counter is the persisted attempt state for a single subject.
type Counter struct {
	Attempts    int
	LastAttempt time.Time
}

// Window caps attempts at Max within Span of the last recorded attempt.
type Window struct {
	Max  int
	Span time.Duration
}

// Blocked reports whether the next attempt must be rejected: the counter is at
// or past the cap and the window anchored at the last attempt has not elapsed
// yet. Once the window elapses attempts go through again, though a counter at
// the cap re-blocks as soon as a new attempt refreshes its timestamp; only the
// caller clears it.
func (w Window) Blocked(c Counter, now time.Time) bool {
	if c.Attempts < w.Max {
		return false
	}
	if c.LastAttempt.IsZero() {
		return false
	}
	return now.Sub(c.LastAttempt) < w.Span
}
