// Package ratelimit provides a per-client token bucket middleware. Clients are
// keyed by session when the header is present, falling back to source IP.
package ratelimit

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ev-agent/backend/pkg/logger"
)

type visitor struct {
	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
}

type Limiter struct {
	mu         sync.Mutex
	visitors   map[string]*visitor
	maxTokens  int
	refillRate time.Duration
	done       chan struct{}
}

type Config struct {
	MaxRequestsPerMinute int
	Window               time.Duration
}

func New(cfg Config) *Limiter {
	if cfg.MaxRequestsPerMinute <= 0 {
		cfg.MaxRequestsPerMinute = 60
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}

	l := &Limiter{
		visitors:   make(map[string]*visitor),
		maxTokens:  cfg.MaxRequestsPerMinute,
		refillRate: cfg.Window / time.Duration(cfg.MaxRequestsPerMinute),
		done:       make(chan struct{}),
	}

	go l.evictStale()

	return l
}

func (l *Limiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get("X-Session-ID")
		if key == "" {
			key = c.IP()
		}

		if !l.allow(key) {
			logger.Warn("Rate limit exceeded",
				zap.String("key", key),
				zap.String("path", c.Path()),
			)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Rate limit exceeded. Please try again later.",
			})
		}

		return c.Next()
	}
}

func (l *Limiter) allow(key string) bool {
	l.mu.Lock()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{tokens: l.maxTokens, lastRefill: time.Now()}
		l.visitors[key] = v
	}
	l.mu.Unlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	now := time.Now()
	refilled := int(now.Sub(v.lastRefill) / l.refillRate)
	if refilled > 0 {
		v.tokens += refilled
		if v.tokens > l.maxTokens {
			v.tokens = l.maxTokens
		}
		v.lastRefill = now
	}

	if v.tokens <= 0 {
		return false
	}
	v.tokens--
	return true
}

func (l *Limiter) evictStale() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-10 * time.Minute)
			l.mu.Lock()
			for key, v := range l.visitors {
				v.mu.Lock()
				if v.lastRefill.Before(cutoff) {
					delete(l.visitors, key)
				}
				v.mu.Unlock()
			}
			l.mu.Unlock()
		}
	}
}

func (l *Limiter) Stop() {
	close(l.done)
}
