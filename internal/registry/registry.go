// Package registry serves guest lookups from a read-through cache over the
// authoritative guest source.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"wedding-rsvp/internal/models"
)

// Source is the system of record for guests.
type Source interface {
	ListGuests(ctx context.Context) ([]models.Guest, error)
	TouchGuest(ctx context.Context, token string, at time.Time) error
}

// Registry caches the guest list and indexes it by token and name. The
// cache is reloaded from the source once it is older than ttl.
type Registry struct {
	source Source
	ttl    time.Duration
	now    func() time.Time
	log    zerolog.Logger

	mu       sync.RWMutex
	guests   []models.Guest
	byToken  map[string]int
	byName   map[string]string
	loadedAt time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates a registry. A zero ttl reloads on every call.
func New(source Source, ttl time.Duration, log zerolog.Logger, opts ...Option) *Registry {
	r := &Registry{
		source: source,
		ttl:    ttl,
		now:    time.Now,
		log:    log.With().Str("component", "Registry").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Refresh reloads the guest list from the source.
func (r *Registry) Refresh(ctx context.Context) error {
	guests, err := r.source.ListGuests(ctx)
	if err != nil {
		return fmt.Errorf("failed to load guests: %w", err)
	}

	byToken := make(map[string]int, len(guests))
	byName := make(map[string]string, len(guests))
	for i, g := range guests {
		key := strings.ToLower(strings.TrimSpace(g.Token))
		if key == "" {
			continue
		}
		if _, dup := byToken[key]; dup {
			r.log.Warn().Str("token", g.Token).Msg("Duplicate token in guest list")
			continue
		}
		byToken[key] = i
		byName[nameKey(g.FullName())] = g.Token
	}

	r.mu.Lock()
	r.guests = guests
	r.byToken = byToken
	r.byName = byName
	r.loadedAt = r.now()
	r.mu.Unlock()

	r.log.Debug().Int("guests", len(guests)).Msg("Guest list loaded")
	return nil
}

// ensureFresh reloads when the cache is stale. On reload failure a stale
// cache keeps serving.
func (r *Registry) ensureFresh(ctx context.Context) error {
	r.mu.RLock()
	fresh := r.byToken != nil && r.now().Sub(r.loadedAt) < r.ttl
	loaded := r.byToken != nil
	r.mu.RUnlock()
	if fresh {
		return nil
	}
	if err := r.Refresh(ctx); err != nil {
		if loaded {
			r.log.Warn().Err(err).Msg("Serving stale guest list")
			return nil
		}
		return err
	}
	return nil
}

// Lookup returns the guest holding token.
func (r *Registry) Lookup(ctx context.Context, token string) (*models.Guest, bool, error) {
	if err := r.ensureFresh(ctx); err != nil {
		return nil, false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.byToken[strings.ToLower(token)]
	if !ok {
		return nil, false, nil
	}
	g := r.guests[i]
	return &g, true, nil
}

// Has reports whether token belongs to a guest.
func (r *Registry) Has(ctx context.Context, token string) (bool, error) {
	_, ok, err := r.Lookup(ctx, token)
	return ok, err
}

// TokenForName finds the token for a guest's full name, case-insensitively.
func (r *Registry) TokenForName(ctx context.Context, name string) (string, bool, error) {
	if err := r.ensureFresh(ctx); err != nil {
		return "", false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	tok, ok := r.byName[nameKey(name)]
	return tok, ok, nil
}

// All returns a copy of the guest list.
func (r *Registry) All(ctx context.Context) ([]models.Guest, error) {
	if err := r.ensureFresh(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	guests := make([]models.Guest, len(r.guests))
	copy(guests, r.guests)
	return guests, nil
}

// Stats aggregates the guest list.
func (r *Registry) Stats(ctx context.Context) (models.GuestStats, error) {
	guests, err := r.All(ctx)
	if err != nil {
		return models.GuestStats{}, err
	}
	return ComputeStats(guests), nil
}

// ComputeStats counts guests by group and plus-one status.
func ComputeStats(guests []models.Guest) models.GuestStats {
	stats := models.GuestStats{ByGroup: map[string]int{}}
	for _, g := range guests {
		stats.Total++
		group := g.InvitationGroup
		if group == "" {
			group = "ungrouped"
		}
		stats.ByGroup[group]++
		if g.PlusOneEligible {
			stats.PlusOneEligible++
		}
		if g.PlusOneName != "" {
			stats.PlusOneNamed++
		}
		if g.HasUsedToken {
			stats.TokensUsed++
		}
	}
	return stats
}

// Touch records a successful access on the source and in the cache. The
// write is best-effort: the cached copy is updated even if the source fails.
func (r *Registry) Touch(ctx context.Context, token string, at time.Time) error {
	r.mu.Lock()
	if i, ok := r.byToken[strings.ToLower(token)]; ok {
		t := at
		r.guests[i].HasUsedToken = true
		r.guests[i].LastAccessed = &t
	}
	r.mu.Unlock()

	if err := r.source.TouchGuest(ctx, token, at); err != nil {
		return fmt.Errorf("failed to touch guest: %w", err)
	}
	return nil
}

// Groups returns the distinct invitation groups, sorted.
func (r *Registry) Groups(ctx context.Context) ([]string, error) {
	stats, err := r.Stats(ctx)
	if err != nil {
		return nil, err
	}
	groups := make([]string, 0, len(stats.ByGroup))
	for g := range stats.ByGroup {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups, nil
}

func nameKey(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
