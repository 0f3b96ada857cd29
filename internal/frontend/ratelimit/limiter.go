// Package ratelimit throttles mutating requests per acting actor on top of a
// global token bucket.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter holds one token bucket per actor plus a shared global bucket.
type Limiter struct {
	global *rate.Limiter

	mu         sync.Mutex
	actors     map[string]*actorLimiter
	actorRate  rate.Limit
	actorBurst int
	now        func() time.Time
}

type actorLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Config sets the bucket sizes.
type Config struct {
	GlobalRPS   float64
	GlobalBurst int
	ActorRPS    float64
	ActorBurst  int
}

func DefaultConfig() Config {
	return Config{
		GlobalRPS:   200,
		GlobalBurst: 400,
		ActorRPS:    5,
		ActorBurst:  10,
	}
}

func NewLimiter(cfg Config) *Limiter {
	return &Limiter{
		global:     rate.NewLimiter(rate.Limit(cfg.GlobalRPS), cfg.GlobalBurst),
		actors:     make(map[string]*actorLimiter),
		actorRate:  rate.Limit(cfg.ActorRPS),
		actorBurst: cfg.ActorBurst,
		now:        time.Now,
	}
}

// Allow reports whether actorID may make one more request now. The actor's
// own bucket is checked first so a throttled actor does not drain the
// global bucket.
func (l *Limiter) Allow(actorID string) bool {
	now := l.now()
	if !l.actor(actorID, now).AllowN(now, 1) {
		return false
	}
	return l.global.AllowN(now, 1)
}

func (l *Limiter) actor(actorID string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.actors[actorID]
	if !ok {
		a = &actorLimiter{limiter: rate.NewLimiter(l.actorRate, l.actorBurst)}
		l.actors[actorID] = a
	}
	a.lastSeen = now
	return a.limiter
}

// SetActorLimit overrides the bucket of one actor.
func (l *Limiter) SetActorLimit(actorID string, rps float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.actors[actorID] = &actorLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst), lastSeen: l.now()}
}

// Prune drops buckets of actors idle for longer than idle and returns how
// many were removed.
func (l *Limiter) Prune(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	removed := 0
	for id, a := range l.actors {
		if a.lastSeen.Before(cutoff) {
			delete(l.actors, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked actors.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.actors)
}
