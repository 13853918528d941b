// Package app opens the configured backends for the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"wedding-rsvp/internal/config"
	"wedding-rsvp/internal/models"
	"wedding-rsvp/internal/ratelimit"
	"wedding-rsvp/internal/registry"
	"wedding-rsvp/internal/storage"
)

// Backends are the stores selected by RSVP_BACKEND.
type Backends struct {
	Store storage.RSVPStore
	// Guests is the guest source, nil when no guest list is configured.
	Guests registry.Source
	// GuestDB accepts guest imports. Only the SQLite backend has one.
	GuestDB storage.GuestStore
	Local   *storage.Local

	closers []func() error
}

// OpenBackends opens the remote store, the guest source and the local cache.
func OpenBackends(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Backends, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	b := &Backends{}
	switch cfg.Backend {
	case config.BackendSheets:
		sh, err := storage.OpenSheets(ctx, cfg.Sheets.CredentialsFile, cfg.Sheets.SpreadsheetID, cfg.Sheets.Tab, log)
		if err != nil {
			return nil, err
		}
		if err := sh.EnsureHeader(ctx); err != nil {
			log.Warn().Err(err).Msg("Could not verify sheet header")
		}
		b.Store = sh
		if cfg.GuestsFile != "" {
			seed, err := registry.OpenSeedFile(cfg.GuestsFile)
			if err != nil {
				return nil, err
			}
			b.Guests = seed
		}
	default:
		db, err := storage.OpenSQLite(ctx, cfg.DatabasePath, log)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, db.Close)
		b.Store = db
		b.Guests = db
		b.GuestDB = db
		if cfg.GuestsFile != "" {
			if err := ImportGuests(ctx, db, cfg.GuestsFile); err != nil {
				b.Close()
				return nil, err
			}
		}
	}

	local, err := storage.NewLocal(cfg.LocalPath())
	if err != nil {
		b.Close()
		return nil, err
	}
	b.Local = local
	return b, nil
}

// Registry wraps the guest source in a cache. Without a guest source it
// serves an empty list.
func (b *Backends) Registry(cfg *config.Config, log zerolog.Logger) *registry.Registry {
	var src registry.Source = emptySource{}
	if b.Guests != nil {
		src = b.Guests
	}
	return registry.New(src, cfg.RegistryTTL, log)
}

// Close releases every opened backend.
func (b *Backends) Close() error {
	var errs []error
	for _, c := range b.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// ImportGuests upserts the JSON guest list at path.
func ImportGuests(ctx context.Context, db storage.GuestStore, path string) error {
	guests, err := registry.LoadSeedFile(path)
	if err != nil {
		return err
	}
	if err := db.UpsertGuests(ctx, guests); err != nil {
		return fmt.Errorf("failed to import guests: %w", err)
	}
	return nil
}

// NewLimiter builds the rate limiter. Counters live in Redis when
// RATE_LIMIT_REDIS_ADDR is set and in memory otherwise; the memory store is
// pruned until ctx is done.
func NewLimiter(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*ratelimit.Limiter, error) {
	limits := cfg.RateLimits()
	if cfg.RateLimit.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RateLimit.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		go func() {
			<-ctx.Done()
			client.Close()
		}()
		log.Info().Str("addr", cfg.RateLimit.RedisAddr).Msg("Rate limits shared through Redis")
		return ratelimit.NewLimiter(ratelimit.NewRedisStore(client, "rsvp:ratelimit:"), limits, log), nil
	}

	store := ratelimit.NewMemoryStore(nil)
	go store.RunCleanup(ctx, time.Minute, limits.Window)
	return ratelimit.NewLimiter(store, limits, log), nil
}

type emptySource struct{}

func (emptySource) ListGuests(context.Context) ([]models.Guest, error) {
	return []models.Guest{}, nil
}

func (emptySource) TouchGuest(context.Context, string, time.Time) error {
	return nil
}
