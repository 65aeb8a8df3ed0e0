package store

import (
	"sync"
	"time"
)

// BucketUnit is the granularity of a rate-limit counting window.
type BucketUnit string

const (
	BucketMinute BucketUnit = "minute"
	BucketHour   BucketUnit = "hour"
	BucketDay    BucketUnit = "day"
)

// bucketKey identifies one counting window. Typed keys (rather than
// formatted strings) keep window derivation free of locale/timezone drift:
// windows are UTC truncations of the send instant.
type bucketKey struct {
	userID string
	unit   BucketUnit
	start  time.Time
}

// gcAge is how long stale buckets survive before being collected.
const gcAge = 48 * time.Hour

// RateLimitStore counts sends per user per minute/hour/day window.
// Buckets older than two days are garbage-collected on each increment.
type RateLimitStore struct {
	mu      sync.Mutex
	buckets map[bucketKey]int
	lastGC  time.Time
}

func NewRateLimitStore() *RateLimitStore {
	return &RateLimitStore{buckets: make(map[bucketKey]int)}
}

// Increment records one send for userID at now in all three windows.
func (s *RateLimitStore) Increment(userID string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, unit := range []BucketUnit{BucketMinute, BucketHour, BucketDay} {
		s.buckets[bucketKey{userID, unit, windowStart(unit, now)}]++
	}
	s.gc(now)
}

// Count returns the number of sends recorded for userID in the window
// containing now.
func (s *RateLimitStore) Count(userID string, unit BucketUnit, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buckets[bucketKey{userID, unit, windowStart(unit, now)}]
}

// gc drops buckets older than gcAge. Caller holds the lock. Runs at most
// once per minute to keep increments cheap.
func (s *RateLimitStore) gc(now time.Time) {
	if now.Sub(s.lastGC) < time.Minute {
		return
	}
	s.lastGC = now
	cutoff := now.Add(-gcAge)
	for key := range s.buckets {
		if key.start.Before(cutoff) {
			delete(s.buckets, key)
		}
	}
}

func windowStart(unit BucketUnit, t time.Time) time.Time {
	t = t.UTC()
	switch unit {
	case BucketMinute:
		return t.Truncate(time.Minute)
	case BucketHour:
		return t.Truncate(time.Hour)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
}
