package gateway

import (
	"errors"
	"sync"
	"time"
)

var (
	errRateLimited       = errors.New("rate limit exceeded")
	errTooManyConcurrent = errors.New("too many concurrent requests")
)

// clientLimiter bounds one client's requests per minute and in flight.
type clientLimiter struct {
	mu            sync.Mutex
	perMinute     int
	maxConcurrent int
	recent        []time.Time
	inFlight      int
	now           func() time.Time
}

func newClientLimiter(perMinute, maxConcurrent int) *clientLimiter {
	return &clientLimiter{
		perMinute:     perMinute,
		maxConcurrent: maxConcurrent,
		now:           time.Now,
	}
}

// acquire admits a request or reports which limit it hit. Every successful
// acquire must be paired with release.
func (l *clientLimiter) acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inFlight >= l.maxConcurrent {
		return errTooManyConcurrent
	}

	now := l.now()
	cutoff := now.Add(-time.Minute)
	kept := l.recent[:0]
	for _, t := range l.recent {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.recent = kept
	if len(l.recent) >= l.perMinute {
		return errRateLimited
	}

	l.recent = append(l.recent, now)
	l.inFlight++
	return nil
}

func (l *clientLimiter) release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inFlight > 0 {
		l.inFlight--
	}
}
