package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per new tab client
type Limiter struct {
	clients map[string]*clientLimiter
	mu      sync.Mutex
	rate    rate.Limit
	burst   int
	perHour int
	now     func() time.Time
}

// NewLimiter creates a limiter allowing requestsPerHour per client with the
// given burst
func NewLimiter(requestsPerHour int, burst int) *Limiter {
	return &Limiter{
		clients: make(map[string]*clientLimiter),
		rate:    rate.Limit(float64(requestsPerHour) / 3600.0),
		burst:   burst,
		perHour: requestsPerHour,
		now:     time.Now,
	}
}

// PerHour is the configured hourly allowance
func (l *Limiter) PerHour() int { return l.perHour }

func (l *Limiter) get(clientID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[clientID]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.clients[clientID] = c
	}
	c.lastSeen = l.now()
	return c.limiter
}

// Allow reports whether the client may make a request now
func (l *Limiter) Allow(clientID string) bool {
	return l.get(clientID).Allow()
}

// Tokens returns the tokens currently available to a client
func (l *Limiter) Tokens(clientID string) float64 {
	return l.get(clientID).Tokens()
}

// Prune forgets clients idle for longer than maxIdle and returns how many
// were removed
func (l *Limiter) Prune(maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-maxIdle)
	removed := 0
	for id, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked clients
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
