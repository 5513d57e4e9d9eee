package rate

import (
	"context"
	"sync"
	"time"
)

// Config defines rate limiting parameters for one caller or price source.
type Config struct {
	RequestsPerSecond int
	Burst             int
	// Cooldown keeps a key blocked for this long after it is first refused.
	Cooldown time.Duration
}

// Limiter implements a token bucket rate limiter.
type Limiter struct {
	mu          sync.Mutex
	tokens      float64
	last        time.Time
	rate        float64
	burst       float64
	cooldown    time.Duration
	blockedTill time.Time
	now         func() time.Time
}

// New creates a new limiter with a full bucket.
func New(cfg Config) *Limiter {
	return newWithClock(cfg, time.Now)
}

func newWithClock(cfg Config, now func() time.Time) *Limiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		tokens:   float64(burst),
		last:     now(),
		rate:     float64(cfg.RequestsPerSecond),
		burst:    float64(burst),
		cooldown: cfg.Cooldown,
		now:      now,
	}
}

// Allow takes a token if one is available.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	elapsed := now.Sub(l.last).Seconds()
	l.last = now

	l.tokens += elapsed * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}

	if now.Before(l.blockedTill) {
		return false
	}

	if l.tokens >= 1 {
		l.tokens -= 1
		return true
	}

	if l.cooldown > 0 {
		l.blockedTill = now.Add(l.cooldown)
	}
	return false
}

// Wait blocks until a token becomes available or context is canceled.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		if l.Allow() {
			return nil
		}
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Manager holds one limiter per key.
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	defaults Config
	now      func() time.Time
}

func NewManager(defaults Config) *Manager {
	return &Manager{
		limiters: make(map[string]*Limiter),
		defaults: defaults,
		now:      time.Now,
	}
}

func (m *Manager) GetLimiter(key string) *Limiter {
	m.mu.RLock()
	if lim, ok := m.limiters[key]; ok {
		m.mu.RUnlock()
		return lim
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if lim, ok := m.limiters[key]; ok {
		return lim
	}
	lim := newWithClock(m.defaults, m.now)
	m.limiters[key] = lim
	return lim
}

// Allow reports whether a request for key may proceed now.
func (m *Manager) Allow(key string) bool {
	return m.GetLimiter(key).Allow()
}

// Wait ensures rate limit compliance for a given key.
func (m *Manager) Wait(ctx context.Context, key string) error {
	return m.GetLimiter(key).Wait(ctx)
}
