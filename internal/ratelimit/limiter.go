// Package ratelimit implements admission control for the HTTP surface: a
// per-client sliding window limiter with background reclamation of idle
// clients, and a token bucket used to throttle frames on a single
// WebSocket connection.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Default values used when the caller does not override them.
const (
	DefaultWindow              = 60 * time.Second
	DefaultSweepInterval       = 5 * time.Minute
	DefaultRetentionMultiplier = 2
)

// Limiter is a sliding window request counter keyed by client identity.
//
// Allow and Record are deliberately separate steps: two requests from the
// same client that both pass Allow before either calls Record are both
// admitted. Under a burst of simultaneous requests a client can therefore
// exceed the limit by the number of requests in flight.
type Limiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int

	window        time.Duration
	sweepInterval time.Duration
	retention     time.Duration
	exempt        map[string]struct{}
	upgrades      map[string]struct{}
	onDeny        func(client string)
	logger        *slog.Logger
	now           func() time.Time // injectable for deterministic tests
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithSweepInterval sets how often Run reclaims idle clients.
func WithSweepInterval(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.sweepInterval = d
		}
	}
}

// WithRetentionMultiplier keeps timestamps for n windows during a sweep.
func WithRetentionMultiplier(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.retention = time.Duration(n) * l.window
		}
	}
}

// WithExemptPaths lists request paths that bypass the limiter entirely.
func WithExemptPaths(paths ...string) Option {
	return func(l *Limiter) {
		for _, p := range paths {
			l.exempt[p] = struct{}{}
		}
	}
}

// WithUpgradePaths lists the paths on which a WebSocket upgrade request
// bypasses the limiter. An Upgrade header on any other path is ignored.
func WithUpgradePaths(paths ...string) Option {
	return func(l *Limiter) {
		for _, p := range paths {
			l.upgrades[p] = struct{}{}
		}
	}
}

// WithDenyHook registers fn to be called for every rejected request.
func WithDenyHook(fn func(client string)) Option {
	return func(l *Limiter) { l.onDeny = fn }
}

// WithLogger sets the logger used by the middleware and the sweeper.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a Limiter admitting limit requests per window for each client.
// Options are applied in order, so WithRetentionMultiplier sees the window
// passed here.
func New(limit int, window time.Duration, opts ...Option) *Limiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = DefaultWindow
	}

	l := &Limiter{
		requests:      make(map[string][]time.Time),
		limit:         limit,
		window:        window,
		sweepInterval: DefaultSweepInterval,
		retention:     DefaultRetentionMultiplier * window,
		exempt:        make(map[string]struct{}),
		upgrades:      make(map[string]struct{}),
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Limit returns the configured number of requests per window.
func (l *Limiter) Limit() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit
}

// SetLimit changes the number of requests per window. Stored timestamps are
// kept, so a lowered limit takes effect immediately.
func (l *Limiter) SetLimit(limit int) {
	if limit <= 0 {
		return
	}
	l.mu.Lock()
	l.limit = limit
	l.mu.Unlock()
}

// Window returns the length of the sliding window.
func (l *Limiter) Window() time.Duration { return l.window }

// Allow reports whether client may make another request. It drops the
// client's timestamps that have left the window and stores the pruned
// sequence, removing the client entirely when nothing is left.
func (l *Limiter) Allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	windowStart := l.now().Add(-l.window)
	recent := pruneAfter(l.requests[client], windowStart)
	if len(recent) == 0 {
		delete(l.requests, client)
	} else {
		l.requests[client] = recent
	}

	return len(recent) < l.limit
}

// Record appends the current time to client's sequence. Callers invoke it
// after Allow returned true.
func (l *Limiter) Record(client string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests[client] = append(l.requests[client], l.now())
}

// Remaining returns how many more requests client may make, computed from
// every stored timestamp and floored at zero.
func (l *Limiter) Remaining(client string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r := l.limit - len(l.requests[client]); r > 0 {
		return r
	}
	return 0
}

// Clients returns the number of client identities currently tracked.
func (l *Limiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.requests)
}

// Sweep removes timestamps older than the retention period and deletes
// clients left with none. It returns the number of clients deleted.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.retention)
	removed := 0
	for client, stamps := range l.requests {
		kept := pruneAfter(stamps, cutoff)
		if len(kept) == 0 {
			delete(l.requests, client)
			removed++
			continue
		}
		l.requests[client] = kept
	}
	return removed
}

// Run starts the background reclamation loop. It blocks until ctx is
// cancelled.
func (l *Limiter) Run(ctx context.Context) {
	t := time.NewTicker(l.sweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := l.Sweep(l.now()); n > 0 {
				l.logger.Debug("ratelimit: reclaimed idle clients", "count", n, "tracked", l.Clients())
			}
		}
	}
}

// pruneAfter returns the timestamps strictly after cutoff. Sequences are
// appended in time order, so the kept entries form a suffix.
func pruneAfter(stamps []time.Time, cutoff time.Time) []time.Time {
	for i, ts := range stamps {
		if ts.After(cutoff) {
			return stamps[i:]
		}
	}
	return nil
}
