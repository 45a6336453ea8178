// Package ratelimit implements the fixed-window per-source-IP
// connection limiter described in spec §4.B. It intentionally does
// not reach for golang.org/x/time/rate (a token-bucket limiter,
// present in the teacher's own go.mod): the spec's scenario 5 and the
// fixed-window reset-at-boundary semantics in §4.B don't map onto a
// token bucket, so the window/count bookkeeping here is hand-rolled
// with sync.Mutex + time.Time, the same way the teacher hand-rolls
// its peer/link maps elsewhere (see registry, which shares the
// pattern).
package ratelimit

import (
	"sync"
	"time"

	"github.com/lightningnetwork/wsrelayd/internal/log"
)

var rlLog = log.Get(log.RateLimit)

// sweepInterval is the background expiry cadence named in spec §4.B.
const sweepInterval = 60 * time.Second

// entry is a RateEntry from spec §3.
type entry struct {
	count   int
	resetAt time.Time
}

// Limiter is the concurrency-safe fixed-window counter.
type Limiter struct {
	maxConnections int
	window         time.Duration

	mu      sync.Mutex
	entries map[string]*entry

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds a Limiter allowing up to maxConnections admissions per
// source IP within window.
func New(maxConnections int, window time.Duration) *Limiter {
	l := &Limiter{
		maxConnections: maxConnections,
		window:         window,
		entries:        make(map[string]*entry),
		stopCh:         make(chan struct{}),
	}
	l.wg.Add(1)
	go l.sweepLoop()
	return l
}

// CheckLimit implements spec §4.B's checkLimit: a fresh or expired
// entry resets the window and allows; otherwise the count is
// incremented and the call is allowed iff it stays within
// maxConnections.
func (l *Limiter) CheckLimit(ip string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[ip]
	if !ok || !now.Before(e.resetAt) {
		l.entries[ip] = &entry{count: 1, resetAt: now.Add(l.window)}
		return true
	}

	e.count++
	return e.count <= l.maxConnections
}

func (l *Limiter) sweepLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stopCh:
			return
		}
	}
}

func (l *Limiter) sweep() {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for ip, e := range l.entries {
		if !now.Before(e.resetAt) {
			delete(l.entries, ip)
			removed++
		}
	}
	if removed > 0 {
		rlLog.Debugf("rate limiter sweep removed %d expired entries", removed)
	}
}

// Stop cancels the background sweep and clears the map, called during
// shutdown (spec §5: rateLimiter.stop()).
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
	l.wg.Wait()

	l.mu.Lock()
	l.entries = make(map[string]*entry)
	l.mu.Unlock()
}
