// Package ratelimit tracks failed token attempts per client and locks out
// clients that fail too often within a window.
package ratelimit

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Store holds attempt counters and lockouts for client keys.
type Store interface {
	// Locked returns the remaining lockout for key, if any.
	Locked(ctx context.Context, key string) (time.Duration, bool, error)
	// RecordFailure adds a failed attempt and returns the count inside window.
	RecordFailure(ctx context.Context, key string, window time.Duration) (int, error)
	// Lock locks key out for d.
	Lock(ctx context.Context, key string, d time.Duration) error
	// Reset forgets attempts and lockout for key.
	Reset(ctx context.Context, key string) error
}

// Config defines the attempt limits. One config is shared by every caller in
// the process so the token check and the submission path agree.
type Config struct {
	MaxAttempts int
	Window      time.Duration
	Lockout     time.Duration
}

// DefaultConfig is three failures in fifteen minutes, then thirty minutes out.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Window:      15 * time.Minute,
		Lockout:     30 * time.Minute,
	}
}

// Limiter applies Config on top of a Store.
type Limiter struct {
	store Store
	cfg   Config
	log   zerolog.Logger
}

// NewLimiter creates a limiter. Zero config fields take the defaults.
func NewLimiter(store Store, cfg Config, log zerolog.Logger) *Limiter {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Lockout <= 0 {
		cfg.Lockout = def.Lockout
	}
	return &Limiter{
		store: store,
		cfg:   cfg,
		log:   log.With().Str("component", "RateLimit").Logger(),
	}
}

// Config returns the effective configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}

// Check reports whether key may attempt now. When it may not, retryAfter is
// the remaining lockout.
func (l *Limiter) Check(ctx context.Context, key string) (retryAfter time.Duration, ok bool, err error) {
	remaining, locked, err := l.store.Locked(ctx, key)
	if err != nil {
		return 0, false, err
	}
	if locked {
		return remaining, false, nil
	}
	return 0, true, nil
}

// Fail records a failed attempt and locks the key out once MaxAttempts is
// reached inside the window.
func (l *Limiter) Fail(ctx context.Context, key string) (locked bool, retryAfter time.Duration, err error) {
	count, err := l.store.RecordFailure(ctx, key, l.cfg.Window)
	if err != nil {
		return false, 0, err
	}
	if count < l.cfg.MaxAttempts {
		return false, 0, nil
	}
	if err := l.store.Lock(ctx, key, l.cfg.Lockout); err != nil {
		return false, 0, err
	}
	l.log.Warn().Str("client", key).Int("attempts", count).Dur("lockout", l.cfg.Lockout).Msg("Client locked out")
	return true, l.cfg.Lockout, nil
}

// Succeed clears the key's history.
func (l *Limiter) Succeed(ctx context.Context, key string) error {
	return l.store.Reset(ctx, key)
}
